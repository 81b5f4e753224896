package data

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Time is a second-precision UTC timestamp. It serializes as RFC 3339 in both
// JSON and DynamoDB string attributes, which keeps stored values
// lexicographically orderable. The table sort key and the due-to-run GSI range
// key depend on this property.
type Time struct {
	time.Time
}

// NewTime truncates t to second precision and normalizes it to UTC.
func NewTime(t time.Time) Time {
	return Time{Time: t.Truncate(time.Second).UTC()}
}

// ParseTime parses an RFC 3339 string produced by Time.String.
func ParseTime(s string) (Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return NewTime(t), nil
}

func (t Time) String() string {
	return t.Time.Format(time.RFC3339)
}

// Add returns t shifted by d, re-truncated to second precision.
func (t Time) Add(d time.Duration) Time {
	return NewTime(t.Time.Add(d))
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("timestamp is not a JSON string: %s", b)
	}
	parsed, err := ParseTime(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler.
func (t Time) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: t.String()}, nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler.
func (t *Time) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return fmt.Errorf("timestamp attribute is not a string: %T", av)
	}
	parsed, err := ParseTime(s.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

var _ attributevalue.Marshaler = Time{}
var _ attributevalue.Unmarshaler = &Time{}
