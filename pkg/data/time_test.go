package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestNewTime_TruncatesAndNormalizes(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	in := time.Date(2026, 3, 1, 7, 30, 45, 999999999, est)

	got := NewTime(in)

	want := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	if !got.Time.Equal(want) {
		t.Errorf("NewTime() = %v, want %v", got.Time, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("NewTime() location = %v, want UTC", got.Location())
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	orig := NewTime(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))

	parsed, err := ParseTime(orig.String())
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !parsed.Time.Equal(orig.Time) {
		t.Errorf("round trip changed value: %v != %v", parsed, orig)
	}
}

func TestParseTime_Invalid(t *testing.T) {
	if _, err := ParseTime("not a timestamp"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestTime_StringIsLexicographicallyOrderable(t *testing.T) {
	earlier := NewTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	later := NewTime(time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC))

	if !(earlier.String() < later.String()) {
		t.Errorf("expected %q < %q", earlier.String(), later.String())
	}
}

func TestTime_JSON(t *testing.T) {
	orig := NewTime(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `"2026-03-01T12:30:45Z"` {
		t.Errorf("Marshal() = %s", b)
	}

	var parsed Time
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !parsed.Time.Equal(orig.Time) {
		t.Errorf("round trip changed value: %v != %v", parsed, orig)
	}

	if err := json.Unmarshal([]byte("12345"), &parsed); err == nil {
		t.Error("expected error for non-string JSON value")
	}
}

func TestTime_DynamoDBAttributeValue(t *testing.T) {
	orig := NewTime(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))

	av, err := orig.MarshalDynamoDBAttributeValue()
	if err != nil {
		t.Fatalf("MarshalDynamoDBAttributeValue() error = %v", err)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("marshaled attribute is %T, want string member", av)
	}
	if s.Value != "2026-03-01T12:30:45Z" {
		t.Errorf("attribute value = %q", s.Value)
	}

	var parsed Time
	if err := parsed.UnmarshalDynamoDBAttributeValue(av); err != nil {
		t.Fatalf("UnmarshalDynamoDBAttributeValue() error = %v", err)
	}
	if !parsed.Time.Equal(orig.Time) {
		t.Errorf("round trip changed value: %v != %v", parsed, orig)
	}

	if err := parsed.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberN{Value: "1"}); err == nil {
		t.Error("expected error for non-string attribute")
	}
}

func TestTime_Add(t *testing.T) {
	base := NewTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	got := base.Add(10 * time.Minute)

	want := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	if !got.Time.Equal(want) {
		t.Errorf("Add() = %v, want %v", got.Time, want)
	}
}
