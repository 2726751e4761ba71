package validation

import (
	"testing"
)

// --- ValidateRequired Tests ---

func TestValidateRequired_Valid(t *testing.T) {
	if err := ValidateRequired("field", "value"); err != nil {
		t.Errorf("ValidateRequired(\"value\") = %v, want nil", err)
	}
}

func TestValidateRequired_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tabs_newlines", "\t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequired("field", tt.value)
			if err == nil {
				t.Errorf("ValidateRequired(%q) = nil, want error", tt.value)
			}
		})
	}
}

// --- ValidateEnum Tests ---

func TestValidateEnum(t *testing.T) {
	allowed := []string{"new", "actioned", "completed", "aborted", "hidden"}

	for _, v := range allowed {
		if err := ValidateEnum("category", v, allowed); err != nil {
			t.Errorf("ValidateEnum(%q) = %v, want nil", v, err)
		}
	}

	err := ValidateEnum("category", "junk", allowed)
	if err == nil {
		t.Fatal("ValidateEnum(\"junk\") = nil, want error")
	}
	if err.Field != "category" {
		t.Errorf("Field = %q, want category", err.Field)
	}
}

// --- ValidatePositiveID Tests ---

func TestValidatePositiveID(t *testing.T) {
	if err := ValidatePositiveID("record_id", 42); err != nil {
		t.Errorf("ValidatePositiveID(42) = %v, want nil", err)
	}
	if err := ValidatePositiveID("record_id", 0); err == nil {
		t.Error("ValidatePositiveID(0) = nil, want error")
	}
	if err := ValidatePositiveID("record_id", -1); err == nil {
		t.Error("ValidatePositiveID(-1) = nil, want error")
	}
}

// --- Collector Tests ---

func TestCollector_AccumulatesErrors(t *testing.T) {
	var c Collector

	c.Add(nil)
	if c.HasErrors() {
		t.Error("Collector with only nil adds should have no errors")
	}

	c.Add(ValidateRequired("scope", ""))
	c.Add(ValidateEnum("category", "junk", []string{"new"}))

	if !c.HasErrors() {
		t.Fatal("Collector should have errors")
	}
	if got := len(c.Errors()); got != 2 {
		t.Errorf("len(Errors()) = %d, want 2", got)
	}
}
