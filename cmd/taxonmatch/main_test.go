package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"taxonmatch/internal/config"
	"taxonmatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("TAXONMATCH_KNMS_URL", "")
	t.Setenv("TAXONMATCH_CHECKLIST", "")

	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"

	configPath := filepath.Join(homeDir, ".config", "taxonmatch", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		baseDir:    testsupport.BaseDir(cfg),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	testsupport.WriteText(t, path, string(data))
}

func runCLI(t *testing.T, args []string, configPath string, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// parseOutput reads a CSV result into rows keyed by column name.
func parseOutput(t *testing.T, data string) []map[string]string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v\n%s", err, data)
	}
	if len(records) == 0 {
		t.Fatal("output has no header")
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, column := range header {
			row[column] = record[i]
		}
		rows = append(rows, row)
	}
	return rows
}

// knmsStub serves match responses for the names in answers and counts requests.
type knmsStub struct {
	server   *httptest.Server
	requests atomic.Int32
	failures atomic.Int32
}

func newKNMSStub(t *testing.T, answers map[string][]string, failFirst int32) *knmsStub {
	t.Helper()
	stub := &knmsStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.requests.Add(1)
		if stub.failures.Add(1) <= failFirst {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var names []string
		if err := json.Unmarshal(body, &names); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var records [][]string
		for _, name := range names {
			ids, ok := answers[name]
			switch {
			case !ok:
				records = append(records, []string{name, "false"})
			case len(ids) == 1:
				records = append(records, []string{name, "true", "urn:lsid:ipni.org:names:" + ids[0], name})
			default:
				for i, id := range ids {
					submitted, state := name, "multiple_matches"
					if i > 0 {
						submitted, state = "", ""
					}
					records = append(records, []string{submitted, state, "urn:lsid:ipni.org:names:" + id, name})
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"records": records})
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "\tok")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestEnvFileSuppliesChecklist(t *testing.T) {
	env := setupCLITestEnv(t)
	checklist := env.cfg.Paths.Checklist
	cfg := *env.cfg
	cfg.Paths.Checklist = ""
	writeTestConfig(t, env.configPath, &cfg)
	// godotenv never overrides a variable that is already set, even to "".
	os.Unsetenv("TAXONMATCH_CHECKLIST")

	envFile := filepath.Join(env.baseDir, "taxonmatch.env")
	testsupport.WriteText(t, envFile, "TAXONMATCH_CHECKLIST="+checklist+"\n")

	out, _, err := runCLI(t, []string{"--env-file", envFile, "config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, checklist+"\tok")

	if _, _, err := runCLI(t, []string{"--env-file", filepath.Join(env.baseDir, "absent.env"), "config", "validate"}, env.configPath, ""); err == nil {
		t.Fatal("expected missing env file to fail")
	}
}

func TestResolveWritesAnnotatedTable(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithLevel(config.LevelDirect))
	input := filepath.Join(env.baseDir, "names.csv")
	testsupport.WriteText(t, input, "\ufeffid,name,family\n"+
		"1,Coffea arabica L.,\n"+
		"2,Andersonia,Rubiaceae\n"+
		"3,Psychotria ambigua,\n"+
		"4,Coffea arabica L.,\n")

	stdout, stderr, err := runCLI(t, []string{"resolve", input, "--family-column", "family"}, env.configPath, "")
	if err != nil {
		t.Fatalf("resolve: %v\nstderr: %s", err, stderr)
	}
	rows := parseOutput(t, stdout)
	if len(rows) != 4 {
		t.Fatalf("expected 4 output rows, got %d", len(rows))
	}
	if rows[0]["id"] != "1" || rows[3]["id"] != "4" {
		t.Fatalf("input order not preserved: %v", rows)
	}
	if rows[0]["matched_by"] != "direct-name+author_unique" || rows[0]["accepted_name"] != "Coffea arabica" {
		t.Fatalf("unexpected row 0: %v", rows[0])
	}
	if rows[1]["matched_by"] != "direct-name_unique" || rows[1]["accepted_name"] != "Gaertnera" || rows[1]["taxon_status"] != "Synonym" {
		t.Fatalf("unexpected row 1: %v", rows[1])
	}
	if rows[2]["matched_by"] != "unresolved" || rows[2]["accepted_name"] != "" {
		t.Fatalf("unexpected row 2: %v", rows[2])
	}
	requireContains(t, stderr, "resolved")

	entries, err := os.ReadDir(env.cfg.Paths.DiagnosticsDir)
	if err != nil {
		t.Fatalf("read diagnostics dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	if !slices.ContainsFunc(names, func(name string) bool { return strings.HasPrefix(name, "ambiguous_direct_") }) ||
		!slices.ContainsFunc(names, func(name string) bool { return strings.HasPrefix(name, "unresolved_") }) {
		t.Fatalf("expected ambiguous and unresolved diagnostics, got %v", names)
	}
}

func TestResolveWritesOutputFileFromStdin(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithLevel(config.LevelDirect))
	output := filepath.Join(env.baseDir, "out", "resolved.tsv")
	_, stderr, err := runCLI(t, []string{"resolve", "-", "-o", output, "-q"}, env.configPath, "name\nCoffea vulgaris\n")
	if err != nil {
		t.Fatalf("resolve: %v\nstderr: %s", err, stderr)
	}
	if stderr != "" {
		t.Fatalf("quiet run printed a summary: %q", stderr)
	}
	data := testsupport.ReadText(t, output)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Coffea arabica\t") || !strings.HasSuffix(lines[1], "\tdirect-name_unique") {
		t.Fatalf("unexpected tsv output:\n%s", data)
	}
}

func TestResolveAppliesOverrideFile(t *testing.T) {
	env := setupCLITestEnv(t,
		testsupport.WithLevel(config.LevelDirect),
		testsupport.WithOverrides("submitted,resolution_id\nMystery plant,5\n"),
	)
	stdout, stderr, err := runCLI(t, []string{"resolve", "-"}, env.configPath, "name\nMystery plant\nCoffea arabica\n")
	if err != nil {
		t.Fatalf("resolve: %v\nstderr: %s", err, stderr)
	}
	rows := parseOutput(t, stdout)
	if len(rows) != 2 {
		t.Fatalf("expected 2 output rows, got %d", len(rows))
	}
	if rows[0]["matched_by"] != "manual" || rows[0]["accepted_name"] != "Coffea liberica" || rows[0]["accepted_plant_name_id"] != "5" {
		t.Fatalf("override not applied: %v", rows[0])
	}
	if rows[1]["matched_by"] != "direct-name_unique" {
		t.Fatalf("unexpected row 1: %v", rows[1])
	}
}

func TestResolveFailsBeforeWork(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "names.csv")

	testsupport.WriteText(t, input, "name,matched_by\nCoffea arabica,x\n")
	stdout, _, err := runCLI(t, []string{"resolve", input}, env.configPath, "")
	if err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Fatalf("expected reserved column error, got %v", err)
	}
	if stdout != "" {
		t.Fatalf("no output expected, got %q", stdout)
	}

	env = setupCLITestEnv(t)
	env.cfg.Matching.FamiliesOfInterest = []string{"Rubiaceae"}
	writeTestConfig(t, env.configPath, env.cfg)
	testsupport.WriteText(t, input, "name,family\nAndersonia,Ericaceae\n")
	if _, _, err := runCLI(t, []string{"resolve", input, "--family-column", "family"}, env.configPath, ""); err == nil ||
		!strings.Contains(err.Error(), "families_of_interest") {
		t.Fatalf("expected families_of_interest error, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"resolve", input, "--level", "fuzzy"}, env.configPath, ""); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestResolveUsesKNMSAndCache(t *testing.T) {
	stub := newKNMSStub(t, map[string][]string{
		"Coffea arabicaa": {"200-1"},
		"Clerodendron":    {"800-1", "900-1"},
	}, 0)
	env := setupCLITestEnv(t, testsupport.WithKNMS(stub.server.URL), testsupport.WithLevel(config.LevelKNMS))
	input := filepath.Join(env.baseDir, "names.csv")
	testsupport.WriteText(t, input, "name\nCoffea arabicaa\nClerodendron\nCoffea arabica\n")

	for run := 0; run < 2; run++ {
		stdout, stderr, err := runCLI(t, []string{"resolve", input}, env.configPath, "")
		if err != nil {
			t.Fatalf("run %d: %v\nstderr: %s", run, err, stderr)
		}
		rows := parseOutput(t, stdout)
		if rows[0]["matched_by"] != "knms-single" || rows[0]["accepted_ipni_id"] != "200-1" {
			t.Fatalf("run %d: unexpected row 0: %v", run, rows[0])
		}
		if rows[1]["matched_by"] != "knms-multiple" || rows[1]["accepted_name"] != "Clerodendrum" {
			t.Fatalf("run %d: unexpected row 1: %v", run, rows[1])
		}
		if rows[2]["matched_by"] != "direct-name_unique" {
			t.Fatalf("run %d: unexpected row 2: %v", run, rows[2])
		}
	}
	if got := stub.requests.Load(); got != 1 {
		t.Fatalf("expected the second run to be served from cache, got %d requests", got)
	}

	out, _, err := runCLI(t, []string{"cache", "stats"}, env.configPath, "")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	requireContains(t, out, "Batches: 1")

	out, _, err = runCLI(t, []string{"cache", "clear"}, env.configPath, "")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 cached batches")

	out, _, err = runCLI(t, []string{"cache", "stats"}, env.configPath, "")
	if err != nil {
		t.Fatalf("cache stats after clear: %v", err)
	}
	requireContains(t, out, "Batches: 0")
}

func TestResolveRetriesPendingNames(t *testing.T) {
	stub := newKNMSStub(t, map[string][]string{"Coffea arabicaa": {"200-1"}}, 1)
	env := setupCLITestEnv(t, testsupport.WithKNMS(stub.server.URL))
	env.cfg.KNMS.RetryAttempts = 2
	env.cfg.KNMS.RetryBackoffSeconds = 0
	writeTestConfig(t, env.configPath, env.cfg)

	stdout, stderr, err := runCLI(t, []string{"resolve", "-"}, env.configPath, "name\nCoffea arabicaa\n")
	if err != nil {
		t.Fatalf("resolve: %v\nstderr: %s", err, stderr)
	}
	rows := parseOutput(t, stdout)
	if rows[0]["matched_by"] != "knms-single" {
		t.Fatalf("expected the retry to resolve the name, got %v", rows[0])
	}
	if got := stub.requests.Load(); got != 2 {
		t.Fatalf("expected two requests, got %d", got)
	}
}

func TestResolveReportsPendingRetry(t *testing.T) {
	stub := newKNMSStub(t, nil, 100)
	env := setupCLITestEnv(t, testsupport.WithKNMS(stub.server.URL))

	stdout, stderr, err := runCLI(t, []string{"resolve", "-"}, env.configPath, "name\nCoffea arabicaa\nCoffea arabica\n")
	if err == nil || !strings.Contains(err.Error(), "pending_retry") {
		t.Fatalf("expected a pending_retry error, got %v", err)
	}
	rows := parseOutput(t, stdout)
	if rows[0]["matched_by"] != "pending_retry" || rows[1]["matched_by"] != "direct-name_unique" {
		t.Fatalf("unexpected rows %v", rows)
	}
	requireContains(t, stderr, "knms stage failed for 1 names")
}

func TestLookupJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	stdout, _, err := runCLI(t, []string{"lookup", "--json", "--level", "direct", "Coffea vulgaris", "Andersonia", "Nothing"}, env.configPath, "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	var rows []lookupRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("decode lookup json: %v\n%s", err, stdout)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].AcceptedName != "Coffea arabica" || rows[0].TaxonStatus != "Synonym" || rows[0].PlantNameID != "4" || rows[0].AcceptedID != "2" {
		t.Fatalf("unexpected row 0: %+v", rows[0])
	}
	if rows[1].MatchedBy != "direct-name" || rows[1].AcceptedFamily != "Ericaceae" {
		t.Fatalf("unexpected row 1: %+v", rows[1])
	}
	if rows[2].MatchedBy != "unresolved" || rows[2].AcceptedName != "" {
		t.Fatalf("unexpected row 2: %+v", rows[2])
	}

	stdout, _, err = runCLI(t, []string{"lookup", "--family", "Rubiaceae", "--no-knms", "Andersonia"}, env.configPath, "")
	if err != nil {
		t.Fatalf("lookup with family: %v", err)
	}
	requireContains(t, stdout, "Gaertnera")
}
