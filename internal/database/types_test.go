package database

import "testing"

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input   string
		want    Outcome
		wantErr bool
	}{
		{"matched", OutcomeMatched, false},
		{"success", OutcomeMatched, false},
		{"SUCCESS", OutcomeMatched, false},
		{"rejected", OutcomeRejected, false},
		{"failed", OutcomeRejected, false},
		{"unknown", OutcomeRejected, false},
		{" error ", OutcomeError, false},
		{"", "", true},
		{"maybe", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseOutcome(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseOutcome(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseOutcome(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeMatched, OutcomeRejected, OutcomeError} {
		if !o.Valid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if Outcome("success").Valid() {
		t.Error("alias must not be valid as a stored outcome")
	}
}

func TestIdentityHasEncoding(t *testing.T) {
	if (&Identity{}).HasEncoding() {
		t.Error("empty identity should not have an encoding")
	}
	if !(&Identity{Encoding: []float32{0.1}}).HasEncoding() {
		t.Error("expected encoding")
	}
}
