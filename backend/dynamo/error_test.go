package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		err  error
		want error
	}{
		"nil stays nil": {
			err:  nil,
			want: nil,
		},
		"conditional check failure": {
			err:  &types.ConditionalCheckFailedException{},
			want: ErrConditionalCheckFailed,
		},
		"wrapped conditional check failure": {
			err:  fmt.Errorf("operation error DynamoDB: UpdateItem: %w", &types.ConditionalCheckFailedException{}),
			want: ErrConditionalCheckFailed,
		},
		"throughput exceeded is transient": {
			err:  &types.ProvisionedThroughputExceededException{},
			want: ErrTransient,
		},
		"request limit is transient": {
			err:  &types.RequestLimitExceeded{},
			want: ErrTransient,
		},
		"internal server error is transient": {
			err:  &types.InternalServerError{},
			want: ErrTransient,
		},
		"deadline exceeded is transient": {
			err:  context.DeadlineExceeded,
			want: ErrTransient,
		},
		"throttling code is transient": {
			err:  &smithy.GenericAPIError{Code: "ThrottlingException"},
			want: ErrTransient,
		},
		"service unavailable code is transient": {
			err:  &smithy.GenericAPIError{Code: "ServiceUnavailable"},
			want: ErrTransient,
		},
		"transport failure is transient": {
			err:  errors.New("dial tcp: connection refused"),
			want: ErrTransient,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := classify("test op", tt.err)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("classify() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want kind %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_UnrecognizedAPIErrorKeepsKind(t *testing.T) {
	// A validation failure is the caller's bug; it must not look retryable.
	err := classify("test op", &smithy.GenericAPIError{Code: "ValidationException"})
	if errors.Is(err, ErrTransient) {
		t.Errorf("validation error classified transient: %v", err)
	}
	if errors.Is(err, ErrConditionalCheckFailed) {
		t.Errorf("validation error classified as lost race: %v", err)
	}
	if err == nil {
		t.Error("expected the error to survive classification")
	}
}
