package logger

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

// TestToJSONProtoMessage verifies protobuf messages render through protojson
func TestToJSONProtoMessage(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{
		"sender":  "hub-a",
		"channel": 2,
		"values":  []any{int32(42), true, "ping"},
	})
	if err != nil {
		t.Fatalf("Failed to build struct: %v", err)
	}

	out := ToJSON(msg)
	// protojson output spacing is deliberately unstable, check content only
	for _, want := range []string{`"sender"`, `"hub-a"`, `"channel"`, `"values"`, `"ping"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in output:\n%s", want, out)
		}
	}
}

// TestToJSONPlainValue verifies non-proto values fall back to encoding/json
func TestToJSONPlainValue(t *testing.T) {
	out := ToJSON(struct {
		Name string
		RSSI int
	}{Name: "hub-b", RSSI: -60})

	for _, want := range []string{`"Name": "hub-b"`, `"RSSI": -60`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in output:\n%s", want, out)
		}
	}
}

// TestParseLevel verifies level names map correctly
func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"Warn", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestSetLevel verifies the global level round-trips
func TestSetLevel(t *testing.T) {
	defer SetLevel(INFO)

	SetLevel(TRACE)
	if GetLevel() != TRACE {
		t.Errorf("Expected TRACE, got %v", GetLevel())
	}
	SetLevel(ERROR)
	if GetLevel() != ERROR {
		t.Errorf("Expected ERROR, got %v", GetLevel())
	}
}
