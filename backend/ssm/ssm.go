// Package ssm reads configuration secrets from AWS Systems Manager Parameter
// Store. The engine uses it to load the CI app's private key without putting
// PEM material in the environment.
package ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound means the requested parameter does not exist.
var ErrNotFound = errors.New("parameter not found")

// Client reads parameters with decryption enabled.
type Client struct {
	api *ssm.Client
}

// New returns a Client using the given SSM API client.
func New(api *ssm.Client) *Client {
	return &Client{api: api}
}

// Parameter returns the decrypted value of the named parameter.
func (c *Client) Parameter(ctx context.Context, name string) (string, error) {
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var missing *types.ParameterNotFound
		if errors.As(err, &missing) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("getting parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *out.Parameter.Value, nil
}
