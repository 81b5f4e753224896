// Package dynamo is the durable workflow store. Workflows live in one table
// with partition key id ("{owner}/{repo}") and sort key created_at; a global
// secondary index keyed (status, due_to_run) serves the dispatcher's due
// query. All mutations are conditional on the row still existing, which is
// the only serialization mechanism between processor replicas.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/conveyorci/conveyor/pkg/data"
)

// statusIndex is the GSI serving FindDue: hash key status, range key
// due_to_run.
const statusIndex = "workflows_by_status"

// Store is a workflow store backed by a DynamoDB table. The embedded client
// is safe for concurrent use and shared across all processor tasks.
type Store struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

// Option is a functional option for the Store.
type Option func(*Store)

// WithNowFunc overrides the clock used for updated_at stamps, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns a Store reading and writing the given table.
func New(client *dynamodb.Client, table string, opts ...Option) *Store {
	s := &Store{
		client: client,
		table:  table,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutNew inserts the initial row for a workflow. It fails with
// ErrAlreadyExists when a row with the same (id, created_at) exists, so a
// rollout is never silently overwritten.
func (s *Store) PutNew(ctx context.Context, w data.Workflow) error {
	item, err := attributevalue.MarshalMap(w)
	if err != nil {
		return fmt.Errorf("marshaling workflow %s: %w", w.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id) AND attribute_not_exists(#created_at)"),
		ExpressionAttributeNames: map[string]string{
			"#id":         "id",
			"#created_at": "created_at",
		},
	})
	if errors.Is(classify("put workflow", err), ErrConditionalCheckFailed) {
		return fmt.Errorf("%w: %s at %s", ErrAlreadyExists, w.ID, w.CreatedAt)
	}
	return classify("put workflow", err)
}

// ListByRepo returns every workflow for the repository, newest first.
func (s *Store) ListByRepo(ctx context.Context, owner, repo string) ([]data.Workflow, error) {
	id, err := attributevalue.Marshal(owner + "/" + repo)
	if err != nil {
		return nil, fmt.Errorf("marshaling workflow id: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": id},
		// Descending on the created_at sort key: newest rollout first.
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, classify("list workflows", err)
	}

	return unmarshalWorkflows(out.Items)
}

// FindDue returns every workflow with status Running whose due_to_run is at
// or before now. Served by the status GSI; second-precision RFC 3339 strings
// make the range comparison equivalent to a timestamp comparison.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]data.Workflow, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(statusIndex),
		KeyConditionExpression: aws.String("#status = :status AND #due_to_run <= :due_to_run"),
		ExpressionAttributeNames: map[string]string{
			"#status":     "status",
			"#due_to_run": "due_to_run",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(data.StatusRunning)},
			":due_to_run": &types.AttributeValueMemberS{Value: data.NewTime(now).String()},
		},
	})
	if err != nil {
		return nil, classify("find due workflows", err)
	}

	return unmarshalWorkflows(out.Items)
}

// AdvanceEnvironment overwrites the environments and due time of a running
// workflow. The workflow status is untouched.
func (s *Store) AdvanceEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error) {
	update := "SET #environments = :environments, #due_to_run = :due_to_run, #updated_at = :updated_at"
	return s.update(ctx, "advance environment", w, update, func(values map[string]types.AttributeValue, names map[string]string) error {
		names["#environments"] = "environments"
		names["#due_to_run"] = "due_to_run"

		marshaled, err := attributevalue.Marshal(envs)
		if err != nil {
			return fmt.Errorf("marshaling environments: %w", err)
		}
		values[":environments"] = marshaled
		values[":due_to_run"] = &types.AttributeValueMemberS{Value: due.String()}
		return nil
	})
}

// FailEnvironment is AdvanceEnvironment plus marking the whole workflow
// Failure, in one conditional write.
func (s *Store) FailEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error) {
	update := "SET #environments = :environments, #due_to_run = :due_to_run, #updated_at = :updated_at, #status = :status"
	return s.update(ctx, "fail environment", w, update, func(values map[string]types.AttributeValue, names map[string]string) error {
		names["#environments"] = "environments"
		names["#due_to_run"] = "due_to_run"
		names["#status"] = "status"

		marshaled, err := attributevalue.Marshal(envs)
		if err != nil {
			return fmt.Errorf("marshaling environments: %w", err)
		}
		values[":environments"] = marshaled
		values[":due_to_run"] = &types.AttributeValueMemberS{Value: due.String()}
		values[":status"] = &types.AttributeValueMemberS{Value: string(data.StatusFailure)}
		return nil
	})
}

// MarkDone sets the workflow's final status. Terminal rows no longer match
// the status GSI query, so the dispatcher stops seeing them.
func (s *Store) MarkDone(ctx context.Context, w data.Workflow, final data.Status) error {
	update := "SET #status = :status, #updated_at = :updated_at"
	_, err := s.update(ctx, "mark workflow done", w, update, func(values map[string]types.AttributeValue, names map[string]string) error {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(final)}
		return nil
	})
	return err
}

// SetStatus swaps the workflow status from one value to another, failing with
// ErrConditionalCheckFailed when the current status is not the expected one.
// Pause and resume are built on this.
func (s *Store) SetStatus(ctx context.Context, w data.Workflow, from, to data.Status) (data.Workflow, error) {
	update := "SET #status = :status, #updated_at = :updated_at"
	return s.update(ctx, "set workflow status", w, update, func(values map[string]types.AttributeValue, names map[string]string) error {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(to)}
		values[":from"] = &types.AttributeValueMemberS{Value: string(from)}
		return nil
	}, withCondition("#status = :from"))
}

// SetDue moves a workflow's due time. Resume uses this to make a row
// immediately eligible again.
func (s *Store) SetDue(ctx context.Context, w data.Workflow, due data.Time) (data.Workflow, error) {
	update := "SET #due_to_run = :due_to_run, #updated_at = :updated_at"
	return s.update(ctx, "set workflow due time", w, update, func(values map[string]types.AttributeValue, names map[string]string) error {
		names["#due_to_run"] = "due_to_run"
		values[":due_to_run"] = &types.AttributeValueMemberS{Value: due.String()}
		return nil
	})
}

type updateOption func(*string)

// withCondition appends an extra clause to the row-exists condition.
func withCondition(clause string) updateOption {
	return func(condition *string) {
		*condition += " AND " + clause
	}
}

// update runs a conditional UpdateItem against the workflow's primary key and
// returns the post-update row. Every update stamps updated_at and requires
// the row to still exist, so a stale processor can never recreate a deleted
// workflow.
func (s *Store) update(ctx context.Context, op string, w data.Workflow, expression string, bind func(values map[string]types.AttributeValue, names map[string]string) error, opts ...updateOption) (data.Workflow, error) {
	names := map[string]string{
		"#id":         "id",
		"#created_at": "created_at",
		"#updated_at": "updated_at",
	}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: data.NewTime(s.now()).String()},
	}
	if err := bind(values, names); err != nil {
		return data.Workflow{}, fmt.Errorf("%s: %w", op, err)
	}

	condition := "attribute_exists(#id) AND attribute_exists(#created_at)"
	for _, opt := range opts {
		opt(&condition)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id":         &types.AttributeValueMemberS{Value: w.ID},
			"created_at": &types.AttributeValueMemberS{Value: w.CreatedAt.String()},
		},
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return data.Workflow{}, classify(op, err)
	}
	if out.Attributes == nil {
		return data.Workflow{}, fmt.Errorf("%w: %s: no attributes returned", ErrNotFound, op)
	}

	var updated data.Workflow
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return data.Workflow{}, fmt.Errorf("%s: unmarshaling updated workflow: %w", op, err)
	}
	return updated, nil
}

func unmarshalWorkflows(items []map[string]types.AttributeValue) ([]data.Workflow, error) {
	workflows := make([]data.Workflow, 0, len(items))
	for _, item := range items {
		var w data.Workflow
		if err := attributevalue.UnmarshalMap(item, &w); err != nil {
			return nil, fmt.Errorf("unmarshaling workflow item: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}
