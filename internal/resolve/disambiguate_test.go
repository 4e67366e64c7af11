package resolve_test

import (
	"testing"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/resolve"
	"taxonmatch/internal/taxa"
	"taxonmatch/internal/testsupport"
)

func records(t *testing.T, idx *taxa.Index, ids ...string) []*taxa.Record {
	t.Helper()
	out := make([]*taxa.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := idx.ByID(id)
		if !ok {
			t.Fatalf("fixture record %s missing", id)
		}
		out = append(out, rec)
	}
	return out
}

func TestDisambiguatorSteps(t *testing.T) {
	idx := testsupport.NewIndex(t)
	d := resolve.NewDisambiguator(logging.NewNop(), nil)

	tests := []struct {
		name      string
		submitted string
		ids       []string
		step      string
		want      string
	}{
		{"single", "anything", []string{"4"}, resolve.StepSingle, "4"},
		{"repeated record counts once", "anything", []string{"4", "4"}, resolve.StepSingle, "4"},
		{"self match", "Coffea Racemosa", []string{"31", "30"}, resolve.StepSelfMatch, "30"},
		{"unique accepted prefers better status", "Clerodendrum x", []string{"9", "8"}, resolve.StepUniqueAccepted, "8"},
		{"containment prefers specific rank", "Coffea arabica var. unknownus", []string{"1", "2"}, resolve.StepContainment, "2"},
		{"undecided", "Psychotria ambigua", []string{"40", "42"}, resolve.StepUndecided, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := d.Decide(tt.submitted, records(t, idx, tt.ids...))
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if decision.Step != tt.step {
				t.Fatalf("expected step %s, got %s", tt.step, decision.Step)
			}
			if tt.want == "" {
				if decision.Decided() || decision.Reason != resolve.ReasonUndecided {
					t.Fatalf("expected undecided, got %+v", decision)
				}
				return
			}
			if !decision.Decided() || decision.Record.ID != tt.want {
				t.Fatalf("expected record %s, got %+v", tt.want, decision)
			}
		})
	}
}

func TestDisambiguatorEmptyCandidates(t *testing.T) {
	d := resolve.NewDisambiguator(nil, nil)
	decision, err := d.Decide("Coffea", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Decided() {
		t.Fatal("no candidates cannot decide")
	}
}
