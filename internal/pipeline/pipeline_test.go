package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clinformatics/rxmeta/internal/fetch"
)

// scriptedTransport serves canned response bodies keyed by request URL and
// counts remote calls. URLs outside the script return 404.
type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func (s *scriptedTransport) Get(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	body, ok := s.responses[url]
	if !ok {
		return nil, &fetch.StatusError{Code: 404, URL: url}
	}
	return []byte(body), nil
}

func (s *scriptedTransport) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

const testBaseURL = "https://rxnav.test/REST"

func historyBody(rxcui, name, tty, status, isCurrent, currentRxcui, endDate, scdRxcui string, bossBase, bossBaseName string) string {
	boss := ""
	if bossBase != "" {
		boss = fmt.Sprintf(`,"bossConcept":[{"baseRxcui":"%s","baseName":"%s","bossRxcui":"","bossName":""}]`, bossBase, bossBaseName)
	}
	return fmt.Sprintf(`{"rxcuiHistoryConcept":{"rxcuiConcept":{"rxcui":"%s","str":"%s","tty":"%s","status":"%s","isCurrent":"%s","currentRxcui":"%s","endDate":"%s","scdRxcui":"%s"}%s}}`,
		rxcui, name, tty, status, isCurrent, currentRxcui, endDate, scdRxcui, boss)
}

// newScript covers a small but complete universe: the deferasirox ingredient,
// its generic and branded drugs, and a retired alias of the branded drug.
func newScript() *scriptedTransport {
	u := func(format string, args ...interface{}) string {
		return testBaseURL + fmt.Sprintf(format, args...)
	}
	return &scriptedTransport{
		calls: make(map[string]int),
		responses: map[string]string{
			u("/rxcuihistory/status.json?type=ACTIVE"):          `{"rxcuiList":{"rxcuis":["614373","597772","616159"]}}`,
			u("/rxcuihistory/status.json?type=RETIRED"):         `{"rxcuiList":{"rxcuis":["555001"]}}`,
			u("/rxcuihistory/status.json?type=NEVER%%20ACTIVE"): `{"rxcuiList":{"rxcuis":[]}}`,

			u("/rxcuihistory/concept.json?rxcui=614373"): historyBody(
				"614373", "deferasirox", "IN", "Active", "1", "", "", "", "", ""),
			u("/rxcuihistory/concept.json?rxcui=597772"): historyBody(
				"597772", "deferasirox 125 MG Tablet for Oral Suspension", "SCD", "Active", "1", "", "", "",
				"614373", "deferasirox"),
			u("/rxcuihistory/concept.json?rxcui=616159"): historyBody(
				"616159", "deferasirox 125 MG Tablet for Oral Suspension [Exjade]", "SBD", "Active", "1", "", "", "597772",
				"614373", "deferasirox"),
			u("/rxcuihistory/concept.json?rxcui=555001"): historyBody(
				"555001", "Exjade 125 MG Tablet", "SBD", "Retired", "0", "616159", "22013", "", "", ""),

			u("/rxclass/classTree/json?classId=VA000"): `{"rxclassTree":[
				{"rxclassMinConceptItem":{"classId":"AD000","className":"ANTIDOTES,DETERRENTS AND POISON CONTROL","classType":"VA"},
				 "rxclassTree":[{"rxclassMinConceptItem":{"classId":"AD300","className":"ANTIDOTES/DETERRENTS,OTHER","classType":"VA"}}]}]}`,
			u("/rxclass/classMembers.json?classId=AD300&relaSource=VA&rela=has_VAClass&ttys=SCD+GPCK"): `{"drugMemberGroup":{"drugMember":[{"minConcept":{"rxcui":"597772"}}]}}`,

			u("/rxcui/597772/allhistoricalndcs/json"): `{"historicalNdcConcept":{"historicalNdcTime":[{"ndcTime":[{"ndc":["00078047015"]}]}]}}`,
			u("/rxcui/616159/allhistoricalndcs/json"): `{"historicalNdcConcept":null}`,
		},
	}
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	dir := t.TempDir()
	s := DefaultSettings()
	s.CachePath = filepath.Join(dir, "cache.txt")
	s.OutputDir = dir
	s.OutputFilename = "metadata.txt"
	s.Prefix = "rxmeta"
	s.Workers = 2
	s.BaseURL = testBaseURL
	s.LegacyRootID = ""
	s.AddProvenance = true
	s.SourceVersion = "RXNORM_TEST"
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func fullNameOf(line string) string {
	return strings.Trim(strings.SplitN(line, "|", 2)[0], `"`)
}

func TestRunBuildsFullHierarchy(t *testing.T) {
	settings := testSettings(t)
	transport := newScript()

	p := New(settings, nil, nil, nil, WithTransport(transport))
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.Concepts != 3 {
		t.Errorf("concepts = %d, want 3 (ingredient, generic, branded chain)", result.Concepts)
	}
	if result.SeedsSkipped != 0 {
		t.Errorf("skipped = %d, want 0", result.SeedsSkipped)
	}

	lines := readLines(t, settings.OutputPath())
	wantPaths := []string{
		`\rxmeta\`,
		`\rxmeta\PROVENANCE\`,
		`\rxmeta\PROVENANCE\BUILD_DATE\`,
		`\rxmeta\PROVENANCE\SOURCE\`,
		`\rxmeta\PROVENANCE\VERSION\`,
		`\rxmeta\VA000\`,
		`\rxmeta\VA000\AD000\`,
		`\rxmeta\VA000\AD000\AD300\`,
		`\rxmeta\VA000\AD000\AD300\614373\`,
		`\rxmeta\VA000\AD000\AD300\614373\597772\`,
		`\rxmeta\VA000\AD000\AD300\614373\597772\00078047015\`,
		`\rxmeta\VA000\AD000\AD300\614373\616159\`,
	}
	if len(lines) != len(wantPaths)+1 {
		t.Fatalf("lines = %d, want header + %d rows:\n%s", len(lines), len(wantPaths), strings.Join(lines, "\n"))
	}
	if !strings.HasPrefix(lines[0], "C_FULLNAME|") {
		t.Errorf("first line is not the header: %s", lines[0])
	}
	for i, want := range wantPaths {
		if got := fullNameOf(lines[i+1]); got != want {
			t.Errorf("row %d path = %s, want %s", i, got, want)
		}
	}
	if result.Rows != int64(len(wantPaths)) {
		t.Errorf("result rows = %d, want %d", result.Rows, len(wantPaths))
	}

	byPath := map[string][]string{}
	for _, line := range lines[1:] {
		byPath[fullNameOf(line)] = strings.Split(line, "|")
	}

	// Depths follow segment counts for the scenario rows.
	if cells := byPath[`\rxmeta\VA000\AD000\AD300\614373\616159\`]; cells[1] != "6" || cells[3] != `"RXNORM:616159"` {
		t.Errorf("branded row = %v", cells)
	}
	if cells := byPath[`\rxmeta\VA000\AD000\AD300\614373\597772\00078047015\`]; cells[1] != "7" || cells[3] != `"NDC:00078047015"` {
		t.Errorf("package row = %v", cells)
	}

	// Class names render sentence-style.
	if cells := byPath[`\rxmeta\VA000\AD000\AD300\`]; cells[2] != `"Antidotes/deterrents,other"` {
		t.Errorf("class name cell = %s", cells[2])
	}

	// Provenance rows carry controlled visual attributes and no base code.
	if cells := byPath[`\rxmeta\PROVENANCE\`]; cells[4] != `"FH"` || cells[3] != "" {
		t.Errorf("provenance folder row = %v", cells)
	}
	if cells := byPath[`\rxmeta\PROVENANCE\VERSION\`]; cells[4] != `"LH"` || cells[13] != `"RXNORM_TEST"` {
		t.Errorf("provenance version row = %v", cells)
	}
}

func TestRunWarmCacheNeedsNoNetwork(t *testing.T) {
	settings := testSettings(t)
	transport := newScript()

	if _, err := New(settings, nil, nil, nil, WithTransport(transport)).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	coldCalls := transport.totalCalls()
	if coldCalls == 0 {
		t.Fatal("cold run made no remote calls")
	}

	// Second run against a transport that has no responses: every lookup must
	// come from the cache file.
	dead := &scriptedTransport{calls: make(map[string]int), responses: map[string]string{}}
	result, err := New(settings, nil, nil, nil, WithTransport(dead)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := dead.totalCalls(); got != 0 {
		t.Errorf("warm run made %d remote calls, want 0", got)
	}
	if result.Concepts != 3 {
		t.Errorf("warm run concepts = %d, want 3", result.Concepts)
	}
}

func TestRunRetiredAliasMergesIntoActiveChain(t *testing.T) {
	settings := testSettings(t)
	settings.AddProvenance = false
	transport := newScript()

	p := New(settings, nil, nil, nil, WithTransport(transport))
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The retired alias 555001 resolves into the 616159 chain: exactly one
	// branded row, no row for the alias.
	lines := readLines(t, settings.OutputPath())
	var branded, alias int
	for _, line := range lines {
		if strings.Contains(line, `"RXNORM:616159"`) {
			branded++
		}
		if strings.Contains(line, "555001") {
			alias++
		}
	}
	if branded != 1 {
		t.Errorf("branded rows = %d, want 1", branded)
	}
	if alias != 0 {
		t.Errorf("alias rows = %d, want 0", alias)
	}
}

func TestRunAppendSuppressesHeader(t *testing.T) {
	settings := testSettings(t)
	settings.AddProvenance = false
	transport := newScript()

	if _, err := New(settings, nil, nil, nil, WithTransport(transport)).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := readLines(t, settings.OutputPath())

	settings.Append = true
	if _, err := New(settings, nil, nil, nil, WithTransport(transport)).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	combined := readLines(t, settings.OutputPath())

	if len(combined) != 2*len(first)-1 {
		t.Errorf("combined lines = %d, want %d", len(combined), 2*len(first)-1)
	}
	headers := 0
	for _, line := range combined {
		if strings.HasPrefix(line, "C_FULLNAME|") {
			headers++
		}
	}
	if headers != 1 {
		t.Errorf("headers = %d, want 1", headers)
	}
}

func TestRunModifierPassThrough(t *testing.T) {
	settings := testSettings(t)
	settings.AddProvenance = false
	modPath := filepath.Join(settings.OutputDir, "modifiers.txt")
	mod := `"C_FULLNAME"|"C_HLEVEL"|"C_NAME"|"C_BASECODE"|"C_VISUALATTRIBUTES"|"M_APPLIED_PATH"` + "\n" +
		`"\Route\Oral\"|2|"Oral"|"ROUTE:ORAL"|"RA "|"\rxmeta\%"` + "\n"
	if err := os.WriteFile(modPath, []byte(mod), 0o644); err != nil {
		t.Fatal(err)
	}
	settings.ModifiersFile = modPath

	if _, err := New(settings, nil, nil, nil, WithTransport(newScript())).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, settings.OutputPath())
	last := lines[len(lines)-1]
	if fullNameOf(last) != `\Route\Oral\` {
		t.Errorf("last row = %s, want the modifier row", last)
	}
	if cells := strings.Split(last, "|"); cells[5] != `"\rxmeta\%"` {
		t.Errorf("modifier applied path = %s", cells[5])
	}

	// Suppressed by --no-modifiers.
	settings.NoModifiers = true
	if _, err := New(settings, nil, nil, nil, WithTransport(newScript())).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, line := range readLines(t, settings.OutputPath()) {
		if strings.Contains(line, "ROUTE:ORAL") {
			t.Error("modifier row emitted despite suppression")
		}
	}
}

func TestProgressSnapshot(t *testing.T) {
	settings := testSettings(t)
	progress := &Progress{}

	if _, err := New(settings, nil, nil, progress, WithTransport(newScript())).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := progress.Snapshot()
	if snap.RunID == "" {
		t.Error("run id not set")
	}
	if snap.SeedsTotal != 4 || snap.SeedsDone != 4 {
		t.Errorf("seeds = %d/%d, want 4/4", snap.SeedsDone, snap.SeedsTotal)
	}
	if snap.ConceptsResolved != 4 {
		t.Errorf("concepts resolved = %d, want 4 (before chain merges)", snap.ConceptsResolved)
	}
	if snap.RowsWritten == 0 {
		t.Error("rows written not recorded")
	}
	if snap.Phase != "serialize" {
		t.Errorf("final phase = %q", snap.Phase)
	}
}
