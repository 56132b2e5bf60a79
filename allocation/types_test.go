package allocation_test

import (
	"testing"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

func TestMustParseDecimalPanicsOnBadLiteral(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a malformed literal, not zeroed money")
		}
	}()
	allocation.MustParseDecimal("eighty thousand")
}

func TestRoundCurrency(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"33.335", "33.34"}, // half rounds to the even digit
		{"66.665", "66.66"},
		{"10.004", "10"},
		{"10.006", "10.01"},
		{"68000", "68000"},
	}

	for _, tt := range tests {
		got := allocation.RoundCurrency(dec(tt.in))
		if !got.Equal(dec(tt.want)) {
			t.Errorf("RoundCurrency(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStageValid(t *testing.T) {
	for _, s := range allocation.Stages() {
		if !s.Valid() {
			t.Errorf("stage %s must be valid", s)
		}
	}
	if allocation.Stage("department").Valid() {
		t.Error("unknown stage must be invalid")
	}
}
