package spanz

import (
	"encoding/json"
	"testing"
)

func TestValueVariants(t *testing.T) {
	tests := []struct {
		v    Value
		kind ValueKind
		str  string
		json string
	}{
		{String("a"), KindString, "a", `"a"`},
		{Int64(-3), KindInt64, "-3", `-3`},
		{Int(12), KindInt64, "12", `12`},
		{Float64(1.5), KindFloat64, "1.5", `1.5`},
		{Bool(true), KindBool, "true", `true`},
		{Bool(false), KindBool, "false", `false`},
		{Value{}, KindInvalid, "", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.str, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, tt.v.Kind())
			}
			if tt.v.String() != tt.str {
				t.Errorf("Expected %q, got %q", tt.str, tt.v.String())
			}
			b, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.json {
				t.Errorf("Expected JSON %s, got %s", tt.json, b)
			}
		})
	}
}

func TestValueAccessors(t *testing.T) {
	if s, ok := String("x").AsString(); !ok || s != "x" {
		t.Error("AsString failed")
	}
	if _, ok := String("x").AsInt64(); ok {
		t.Error("AsInt64 must fail on a string")
	}
	if f, ok := Float64(2.5).AsFloat64(); !ok || f != 2.5 {
		t.Error("AsFloat64 failed")
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Error("AsBool failed")
	}
	if Int(1).Interface() != int64(1) {
		t.Error("Expected int64 from Interface")
	}
	if (Value{}).Valid() {
		t.Error("Zero value must be invalid")
	}
}
