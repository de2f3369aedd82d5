package ndc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/clinformatics/rxmeta/internal/concept"
)

type fakePackageSource map[int][]string

func (f fakePackageSource) AllHistoricalNDCs(ctx context.Context, rxcui int) ([]string, error) {
	return f[rxcui], nil
}

func TestExpandDeduplicatesAndSorts(t *testing.T) {
	src := fakePackageSource{
		616159: {"00078047016", "00078047015", "00078047015", ""},
	}
	e := NewExpander(src, nil, nil, nil)

	c := &concept.Concept{Canonical: 616159, Name: "deferasirox 125 MG Tablet for Oral Suspension [Exjade]"}
	packages, err := e.Expand(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}

	if len(packages) != 2 {
		t.Fatalf("packages = %v, want 2 distinct codes", packages)
	}
	if packages[0].Code != "00078047015" || packages[1].Code != "00078047016" {
		t.Errorf("codes = %s,%s, want sorted", packages[0].Code, packages[1].Code)
	}
}

func TestExpandFallbackName(t *testing.T) {
	src := fakePackageSource{616159: {"00078047015"}}
	e := NewExpander(src, nil, nil, nil)

	c := &concept.Concept{Canonical: 616159, Name: "deferasirox 125 MG Tablet for Oral Suspension [Exjade]"}
	packages, err := e.Expand(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	want := "(00078047015) deferasirox 125 MG Tablet for Oral Suspension [Exjade]"
	if packages[0].Name != want {
		t.Errorf("name = %q, want %q", packages[0].Name, want)
	}
}

func TestExpandNoPackages(t *testing.T) {
	e := NewExpander(fakePackageSource{}, nil, nil, nil)

	packages, err := e.Expand(context.Background(), &concept.Concept{Canonical: 1, Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(packages) != 0 {
		t.Errorf("packages = %v, want none", packages)
	}
}

func writeNameFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ndc_names.tsv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNameTable(t *testing.T) {
	path := writeNameFile(t, "NDC_CODE\tNDC_NAME\n"+
		"NDC:00078047015\t\"EXJADE (deferasirox) 30 TABLET in 1 BOTTLE\"\n"+
		"NDC:00003085722\tSPRYCEL (dasatinib) 1 BOTTLE in 1 CARTON\n")

	table, err := LoadNameTable(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 2 {
		t.Fatalf("len = %d, want 2", table.Len())
	}

	name, ok := table.Lookup("00078047015")
	if !ok || name != "EXJADE (deferasirox) 30 TABLET in 1 BOTTLE" {
		t.Errorf("lookup = %q (%v), quotes should be stripped", name, ok)
	}
	if _, ok := table.Lookup("99999999999"); ok {
		t.Error("expected miss for unknown code")
	}
}

func TestLoadNameTableRejectsBadCode(t *testing.T) {
	path := writeNameFile(t, "NDC_CODE\tNDC_NAME\nNDC:123\tshort code\n")
	if _, err := LoadNameTable(path, nil); err == nil {
		t.Error("expected error for code that is not length 11")
	}
}

func TestExpandUsesNameTable(t *testing.T) {
	path := writeNameFile(t, "NDC_CODE\tNDC_NAME\nNDC:00078047015\tEXJADE 30 TABLET in 1 BOTTLE\n")
	table, err := LoadNameTable(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	src := fakePackageSource{616159: {"00078047015"}}
	e := NewExpander(src, table, nil, nil)

	packages, err := e.Expand(context.Background(), &concept.Concept{Canonical: 616159, Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if packages[0].Name != "EXJADE 30 TABLET in 1 BOTTLE" {
		t.Errorf("name = %q, want the FDA name", packages[0].Name)
	}
}
