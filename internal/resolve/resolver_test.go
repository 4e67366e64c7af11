package resolve_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"taxonmatch/internal/config"
	"taxonmatch/internal/knms"
	"taxonmatch/internal/logging"
	"taxonmatch/internal/metrics"
	"taxonmatch/internal/overrides"
	"taxonmatch/internal/resolve"
	"taxonmatch/internal/services"
	"taxonmatch/internal/taxa"
	"taxonmatch/internal/testsupport"
)

type recordingSink struct {
	mu      sync.Mutex
	reports []resolve.Report
}

func (s *recordingSink) Write(_ context.Context, report resolve.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingSink) tagged(tag string) []resolve.ReportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []resolve.ReportRow
	for _, report := range s.reports {
		if report.Tag == tag {
			rows = append(rows, report.Rows...)
		}
	}
	return rows
}

type stubExternal struct {
	mu      sync.Mutex
	calls   int
	names   [][]string
	err     error
	respond func(call int, names []string) *knms.Outcome
}

func (s *stubExternal) Match(_ context.Context, names []string) (*knms.Outcome, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.names = append(s.names, append([]string(nil), names...))
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.respond == nil {
		return &knms.Outcome{Rows: map[string][]knms.Row{}}, nil
	}
	return s.respond(call, names), nil
}

func knmsRows(submitted string, state knms.MatchState, ipniIDs ...string) []knms.Row {
	rows := make([]knms.Row, 0, len(ipniIDs))
	for _, id := range ipniIDs {
		rows = append(rows, knms.Row{Submitted: submitted, MatchState: state, IPNIID: id})
	}
	return rows
}

func newResolver(t *testing.T, idx *taxa.Index, opts resolve.Options) *resolve.Resolver {
	t.Helper()
	if opts.Level == "" {
		opts.Level = config.LevelFull
	}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	r, err := resolve.New(idx, opts)
	if err != nil {
		t.Fatalf("resolve.New: %v", err)
	}
	return r
}

func resolveNames(t *testing.T, r *resolve.Resolver, rawNames []string, families []string) *resolve.Result {
	t.Helper()
	result, err := r.Resolve(context.Background(), resolve.NewSubmissions(rawNames, families))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return result
}

func expectMatch(t *testing.T, res resolve.Resolution, matchedBy, recordID, acceptedName string) {
	t.Helper()
	if res.MatchedBy != matchedBy {
		t.Fatalf("%q: expected matched_by %q, got %q", res.Key, matchedBy, res.MatchedBy)
	}
	if recordID == "" {
		if res.Resolved() {
			t.Fatalf("%q: expected no record, got %s", res.Key, res.Record.ID)
		}
		return
	}
	if !res.Resolved() {
		t.Fatalf("%q: expected a record, state=%s", res.Key, res.State)
	}
	if res.Record.ID != recordID {
		t.Fatalf("%q: expected record %s, got %s", res.Key, recordID, res.Record.ID)
	}
	if res.Record.Accepted.Name != acceptedName {
		t.Fatalf("%q: expected accepted name %q, got %q", res.Key, acceptedName, res.Record.Accepted.Name)
	}
}

func TestDirectMatching(t *testing.T) {
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Level: config.LevelDirect})
	tests := []struct {
		name      string
		matchedBy string
		id        string
		accepted  string
	}{
		{"Coffea arabica", "direct-name_unique", "2", "Coffea arabica"},
		{"  coffea   arabica ", "direct-name_unique", "2", "Coffea arabica"},
		{"Coffea vulgaris", "direct-name_unique", "4", "Coffea arabica"},
		{"Coffea arabica L.", "direct-name+author_unique", "2", "Coffea arabica"},
		{"Coffea racemosa Ruiz & Pav.", "direct-name+author_unique", "31", "Coffea liberica"},
		{"Coffea racemosa", "direct-name", "30", "Coffea racemosa"},
		{"Andersonia", "direct-name", "20", "Andersonia"},
		{"Coffea localis", resolve.MatchedUnresolved, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := resolveNames(t, r, []string{tt.name}, nil)
			expectMatch(t, result.At(0), tt.matchedBy, tt.id, tt.accepted)
		})
	}
}

func TestFamilyHintDisambiguates(t *testing.T) {
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Level: config.LevelDirect})
	result := resolveNames(t, r,
		[]string{"Andersonia", "Andersonia", "Andersonia"},
		[]string{"Rubiaceae", "Ericaceae", ""},
	)
	if len(result.Keys()) != 3 {
		t.Fatalf("family-qualified keys should stay distinct, got %v", result.Keys())
	}
	expectMatch(t, result.At(0), "direct-name_unique", "21", "Gaertnera")
	expectMatch(t, result.At(1), "direct-name_unique", "20", "Andersonia")
	expectMatch(t, result.At(2), "direct-name", "20", "Andersonia")
}

func TestWrongFamilyHintStaysUnresolvedThroughEveryStage(t *testing.T) {
	external := &stubExternal{respond: func(_ int, names []string) *knms.Outcome {
		out := &knms.Outcome{Rows: map[string][]knms.Row{}, Requests: 1}
		for _, name := range names {
			switch name {
			case "Coffea arabica":
				out.Rows[name] = knmsRows(name, knms.StateSingle, "200-1")
			case "Clerodendron":
				out.Rows[name] = knmsRows(name, knms.StateMultiple, "800-1", "900-1")
			}
		}
		return out
	}}
	sink := &recordingSink{}
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{External: external, Sink: sink})
	// Lamiaceae and Apocynaceae exist in the checklist, so the hints are kept.
	result := resolveNames(t, r,
		[]string{"Coffea arabica", "Coffea arabica", "Clerodendron"},
		[]string{"Lamiaceae", "", "Apocynaceae"},
	)

	expectMatch(t, result.At(0), resolve.MatchedUnresolved, "", "")
	expectMatch(t, result.At(1), "direct-name_unique", "2", "Coffea arabica")
	expectMatch(t, result.At(2), resolve.MatchedUnresolved, "", "")

	if external.calls != 1 {
		t.Fatalf("hinted names should still be offered to the external stage, got %d calls", external.calls)
	}
	sent := strings.Join(external.names[0], "|")
	for _, name := range []string{"Coffea arabica", "Clerodendron"} {
		if !strings.Contains(sent, name) {
			t.Fatalf("expected %q in external batch %v", name, external.names[0])
		}
	}
	if got := len(sink.tagged(resolve.TagUnresolved)); got != 2 {
		t.Fatalf("expected both hinted names in the unresolved report, got %d", got)
	}
}

func TestAmbiguousDirectIsReportedAndLeftForLaterStages(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Sink: sink})
	result := resolveNames(t, r, []string{"Psychotria ambigua"}, nil)

	expectMatch(t, result.At(0), resolve.MatchedUnresolved, "", "")
	direct := sink.tagged(resolve.TagAmbiguousDirect)
	if len(direct) != 2 {
		t.Fatalf("expected two ambiguous direct candidates, got %+v", direct)
	}
	for _, row := range direct {
		if row.Reason != resolve.ReasonUndecided {
			t.Fatalf("unexpected reason %q", row.Reason)
		}
	}
	if len(sink.tagged(resolve.TagAmbiguousAutoresolve)) != 2 {
		t.Fatalf("expected autoresolve ambiguity to be reported too")
	}
	unresolved := sink.tagged(resolve.TagUnresolved)
	if len(unresolved) != 1 || unresolved[0].Submitted != "Psychotria ambigua" {
		t.Fatalf("unexpected unresolved rows %+v", unresolved)
	}
}

func TestAutoresolve(t *testing.T) {
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{})
	result := resolveNames(t, r,
		[]string{"Coffea arabica var. unknownus", "Tabernaemontana foo", "Clerodendrum foo", "Clerodendrum foo"},
		[]string{"", "", "", "Lamiaceae"},
	)
	expectMatch(t, result.At(0), "autoresolve", "2", "Coffea arabica")
	expectMatch(t, result.At(1), "autoresolve_unique", "7", "Tabernaemontana")
	// Clerodendrum is a genus name in two families, so a bare genus hit is
	// only trusted with a family hint.
	expectMatch(t, result.At(2), resolve.MatchedUnresolved, "", "")
	expectMatch(t, result.At(3), "autoresolve", "8", "Clerodendrum")
}

func TestMatchLevelsSelectStages(t *testing.T) {
	idx := testsupport.NewIndex(t)
	for _, tt := range []struct {
		level         string
		externalCalls int
		matchedBy     string
	}{
		{config.LevelDirect, 0, resolve.MatchedUnresolved},
		{config.LevelKNMS, 1, resolve.MatchedUnresolved},
		{config.LevelFull, 1, "autoresolve_unique"},
	} {
		t.Run(tt.level, func(t *testing.T) {
			external := &stubExternal{}
			r := newResolver(t, idx, resolve.Options{Level: tt.level, External: external})
			result := resolveNames(t, r, []string{"Tabernaemontana foo"}, nil)
			if external.calls != tt.externalCalls {
				t.Fatalf("expected %d external calls, got %d", tt.externalCalls, external.calls)
			}
			if got := result.At(0).MatchedBy; got != tt.matchedBy {
				t.Fatalf("expected %q, got %q", tt.matchedBy, got)
			}
		})
	}

	if _, err := resolve.New(idx, resolve.Options{Level: "fuzzy"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown level, got %v", err)
	}
	if _, err := resolve.New(nil, resolve.Options{Level: config.LevelFull}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing index, got %v", err)
	}
}

func TestExternalMatches(t *testing.T) {
	external := &stubExternal{respond: func(_ int, names []string) *knms.Outcome {
		out := &knms.Outcome{Rows: map[string][]knms.Row{}, Requests: 1}
		for _, name := range names {
			switch name {
			case "Coffea arabicaa":
				out.Rows[name] = knmsRows(name, knms.StateSingle, "200-1")
			case "Clerodendron":
				out.Rows[name] = knmsRows(name, knms.StateMultiple, "800-1", "900-1")
			case "Nonsense":
				out.Rows[name] = []knms.Row{{Submitted: name, MatchState: knms.StateNoMatch}}
			}
		}
		return out
	}}
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Level: config.LevelKNMS, External: external})
	result := resolveNames(t, r,
		[]string{"Coffea arabica", "Coffea arabicaa", "Clerodendron", "Clerodendron", "Nonsense"},
		[]string{"", "", "", "Verbenaceae", ""},
	)

	if len(external.names) != 1 {
		t.Fatalf("expected a single external call, got %d", len(external.names))
	}
	for _, name := range external.names[0] {
		if name == "Coffea arabica" {
			t.Fatal("directly matched names must not reach the external stage")
		}
	}
	expectMatch(t, result.At(0), "direct-name_unique", "2", "Coffea arabica")
	expectMatch(t, result.At(1), "knms-single", "2", "Coffea arabica")
	expectMatch(t, result.At(2), "knms-multiple", "8", "Clerodendrum")
	expectMatch(t, result.At(3), "knms-single", "9", "Clerodendrum")
	expectMatch(t, result.At(4), resolve.MatchedUnresolved, "", "")
}

func TestRetryableExternalFailureLeavesPendingRetry(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "knms", "match", "service unavailable", nil)
	external := &stubExternal{respond: func(call int, names []string) *knms.Outcome {
		if call == 1 {
			return &knms.Outcome{
				Rows:     map[string][]knms.Row{},
				Requests: 1,
				Failures: []knms.BatchFailure{{Names: names, Err: transient}},
			}
		}
		return &knms.Outcome{
			Rows:     map[string][]knms.Row{"Coffea arabicaa": knmsRows("Coffea arabicaa", knms.StateSingle, "200-1")},
			Requests: 1,
		}
	}}
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{External: external})
	result := resolveNames(t, r, []string{"Coffea arabicaa", "Tabernaemontana foo", "Coffea arabica"}, nil)

	expectMatch(t, result.At(0), resolve.MatchedPendingRetry, "", "")
	expectMatch(t, result.At(1), resolve.MatchedPendingRetry, "", "")
	expectMatch(t, result.At(2), "direct-name_unique", "2", "Coffea arabica")
	if !result.HasPendingRetry() {
		t.Fatal("expected pending_retry keys")
	}
	if len(result.Errors) != 1 || len(result.Errors[0].Keys) != 2 || !errors.Is(result.Errors[0], services.ErrTransient) {
		t.Fatalf("unexpected stage errors %+v", result.Errors)
	}

	if err := r.Resume(context.Background(), result); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	expectMatch(t, result.At(0), "knms-single", "2", "Coffea arabica")
	expectMatch(t, result.At(1), "autoresolve_unique", "7", "Tabernaemontana")
	expectMatch(t, result.At(2), "direct-name_unique", "2", "Coffea arabica")
	if result.HasPendingRetry() || len(result.Errors) != 0 {
		t.Fatalf("expected retry to settle every key, counts=%+v errors=%v", result.Counts(), result.Errors)
	}
	if external.calls != 2 {
		t.Fatalf("expected two external calls, got %d", external.calls)
	}
}

func TestNonRetryableExternalFailureFallsThrough(t *testing.T) {
	malformed := services.Wrap(services.ErrMalformed, "knms", "parse", "bad body", nil)
	external := &stubExternal{respond: func(_ int, names []string) *knms.Outcome {
		return &knms.Outcome{Rows: map[string][]knms.Row{}, Requests: 1, Failures: []knms.BatchFailure{{Names: names, Err: malformed}}}
	}}
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{External: external})
	result := resolveNames(t, r, []string{"Tabernaemontana foo"}, nil)
	expectMatch(t, result.At(0), "autoresolve_unique", "7", "Tabernaemontana")
	if len(result.Errors) != 1 {
		t.Fatalf("expected the failure to be recorded, got %v", result.Errors)
	}
}

func TestExternalStageErrorOnlyAbortsWhenFatal(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		abort     bool
		state     resolve.State
		matchedBy string
	}{
		{"transient", services.Wrap(services.ErrTransient, "knms", "match", "connection reset", nil), false, resolve.StatePendingRetry, resolve.MatchedPendingRetry},
		{"malformed", services.Wrap(services.ErrMalformed, "knms", "match", "bad body", nil), false, resolve.StateResolved, "autoresolve_unique"},
		{"invariant", services.Wrap(services.ErrInvariant, "knms", "match", "broken", nil), true, 0, ""},
		{"configuration", services.Wrap(services.ErrConfiguration, "knms", "match", "no url", nil), true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			external := &stubExternal{err: tt.err}
			r := newResolver(t, testsupport.NewIndex(t), resolve.Options{External: external})
			result, err := r.Resolve(context.Background(), resolve.NewSubmissions([]string{"Tabernaemontana foo"}, nil))
			if tt.abort {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v to abort Resolve, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			res := result.At(0)
			if res.State != tt.state || res.MatchedBy != tt.matchedBy {
				t.Fatalf("got state %s matched_by %q, want %s %q", res.State, res.MatchedBy, tt.state, tt.matchedBy)
			}
			if len(result.Errors) != 1 || !errors.Is(result.Errors[0], tt.err) || len(result.Errors[0].Keys) != 1 {
				t.Fatalf("expected one recorded stage error, got %v", result.Errors)
			}
		})
	}
}

func TestManualOverrides(t *testing.T) {
	table := overrides.FromEntries([]overrides.Override{
		{Submitted: "Coffea vulgaris", ResolutionID: "5"},
		{Submitted: "Coffea arabica", ResolutionID: "999"},
		{Submitted: "Andersonia", Family: "Rubiaceae", ResolutionID: "22"},
	})
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Level: config.LevelDirect, Overrides: table})
	result := resolveNames(t, r,
		[]string{"Coffea vulgaris", "Coffea arabica", "Andersonia", "Andersonia"},
		[]string{"", "", "Rubiaceae", "Ericaceae"},
	)
	expectMatch(t, result.At(0), "manual", "5", "Coffea liberica")
	expectMatch(t, result.At(1), "direct-name_unique", "2", "Coffea arabica")
	expectMatch(t, result.At(2), "manual", "22", "Gaertnera")
	expectMatch(t, result.At(3), "direct-name_unique", "20", "Andersonia")
}

func TestCardinalityAndInputOrder(t *testing.T) {
	recorder := metrics.New()
	r := newResolver(t, testsupport.NewIndex(t), resolve.Options{Metrics: recorder})
	raw := []string{"Coffea arabica", "Psychotria ambigua", "Coffea arabica", "", "   ", "Coffea arabica L."}
	result := resolveNames(t, r, raw, nil)

	if len(result.Submissions) != len(raw) {
		t.Fatalf("expected %d submissions, got %d", len(raw), len(result.Submissions))
	}
	counts := result.Counts()
	if counts.Total != 4 {
		t.Fatalf("expected 4 distinct keys, got %d (%v)", counts.Total, result.Keys())
	}
	if counts.Resolved+counts.Unresolved+counts.Pending+counts.PendingRetry != counts.Total {
		t.Fatalf("states do not add up: %+v", counts)
	}
	if counts.Pending != 0 {
		t.Fatalf("no key may stay pending after Resolve: %+v", counts)
	}
	if result.At(0).Record != result.At(2).Record {
		t.Fatal("duplicate submissions must share a resolution")
	}
	expectMatch(t, result.At(3), resolve.MatchedUnresolved, "", "")
	expectMatch(t, result.At(4), resolve.MatchedUnresolved, "", "")
	expectMatch(t, result.At(5), "direct-name+author_unique", "2", "Coffea arabica")
}

func TestResolveIsIdempotent(t *testing.T) {
	idx := testsupport.NewIndex(t)
	raw := []string{"Coffea arabica", "Andersonia", "Coffea arabica var. unknownus", "Psychotria ambigua", "Coffea racemosa"}
	first := resolveNames(t, newResolver(t, idx, resolve.Options{}), raw, nil)
	second := resolveNames(t, newResolver(t, idx, resolve.Options{Workers: 1}), raw, nil)
	for i := range raw {
		a, b := first.At(i), second.At(i)
		if a.MatchedBy != b.MatchedBy || a.State != b.State || a.Record != b.Record {
			t.Fatalf("row %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}

func TestUnknownStatusFailsFast(t *testing.T) {
	table := testsupport.ChecklistTable +
		"60|6000-1|Species|Accepted|Rubiaceae|Coffea|Coffea dubia|Lour.||Lour.|1|60\n" +
		"61|6100-1|Species|Doubtful|Rubiaceae|Coffea|Coffea dubia|Roxb.||Roxb.||60\n"
	idx := testsupport.IndexFromTable(t, table, taxa.BuildOptions{})
	r := newResolver(t, idx, resolve.Options{})
	_, err := r.Resolve(context.Background(), resolve.NewSubmissions([]string{"Coffea dubia"}, nil))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Doubtful") {
		t.Fatalf("error should name the status: %v", err)
	}
}

func TestFamilyHintChecks(t *testing.T) {
	idx := testsupport.NewIndex(t)

	r := newResolver(t, idx, resolve.Options{FamiliesOfInterest: []string{"Rubiaceae"}})
	_, err := r.Resolve(context.Background(), resolve.NewSubmissions([]string{"Andersonia"}, []string{"Ericaceae"}))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for hint outside families of interest, got %v", err)
	}

	r = newResolver(t, idx, resolve.Options{Level: config.LevelDirect})
	result := resolveNames(t, r, []string{"Andersonia", "Andersonia"}, []string{"Ericaceea", "Ericaceae"})
	if len(result.Keys()) != 2 {
		t.Fatalf("a cleared hint keeps its own key, got %v", result.Keys())
	}
	if result.Submissions[0].Family != "" {
		t.Fatalf("unknown family hint should be cleared, got %q", result.Submissions[0].Family)
	}
	expectMatch(t, result.At(0), "direct-name", "20", "Andersonia")
	expectMatch(t, result.At(1), "direct-name_unique", "20", "Andersonia")
}
