package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Error kinds returned by the store. Callers classify with errors.Is.
var (
	// ErrNotFound means no row matched the key.
	ErrNotFound = errors.New("workflow not found")
	// ErrAlreadyExists means a row with the same (id, created_at) already
	// exists.
	ErrAlreadyExists = errors.New("workflow already exists")
	// ErrConditionalCheckFailed means the row a conditional update targeted
	// is gone: another writer won the race. Processors drop these silently.
	ErrConditionalCheckFailed = errors.New("conditional check failed")
	// ErrTransient covers throttling, timeouts and transport failures; the
	// row stays due, so the next tick retries naturally.
	ErrTransient = errors.New("transient store error")
)

// classify maps an SDK error onto the store's error kinds. Anything
// unrecognized is returned wrapped but unclassified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return fmt.Errorf("%w: %s: %w", ErrConditionalCheckFailed, op, err)
	}
	if transient(err) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var throttled *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return true
	}
	var limited *types.RequestLimitExceeded
	if errors.As(err, &limited) {
		return true
	}
	var unavailable *types.InternalServerError
	if errors.As(err, &unavailable) {
		return true
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable", "RequestTimeout":
			return true
		}
		return false
	}
	// No APIError at all means the request never produced a response:
	// connection failures, canceled contexts, DNS.
	return true
}
