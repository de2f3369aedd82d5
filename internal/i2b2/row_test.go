package i2b2

import (
	"strings"
	"testing"
)

func TestHeaderColumnCount(t *testing.T) {
	if got := len(strings.Split(Header(), "|")); got != 18 {
		t.Fatalf("header columns = %d, want 18", got)
	}
	if !strings.HasPrefix(Header(), "C_FULLNAME|C_HLEVEL|C_NAME|C_BASECODE|") {
		t.Errorf("header = %s", Header())
	}
}

func TestEncodeDefaults(t *testing.T) {
	r := Row{
		FullName:   `\rxmeta\VA000\AD000\AD300\614373\616159\`,
		Level:      6,
		Name:       "deferasirox 125 MG Tablet for Oral Suspension [Exjade]",
		BaseCode:   "RXNORM:616159",
		VisualAttr: "LA ",
	}
	cells := strings.Split(r.Encode(), "|")
	if len(cells) != 18 {
		t.Fatalf("cells = %d, want 18", len(cells))
	}

	want := map[int]string{
		0:  `"\rxmeta\VA000\AD000\AD300\614373\616159\"`,
		1:  "6",
		3:  `"RXNORM:616159"`,
		4:  `"LA"`, // quote trims the trailing space
		5:  `"@"`,
		6:  `"N"`,
		7:  `"concept_dimension"`,
		8:  `"concept_path"`,
		9:  `"T"`,
		10: `"LIKE"`,
		11: `"\rxmeta\VA000\AD000\AD300\614373\616159\"`,
		12: `"concept_cd"`,
		13: `"rxmeta\VA000\AD000\AD300\614373\616159"`,
		14: "0",
		15: "0",
		16: `"rxnav.nlm.nih.gov"`,
		17: "",
	}
	for i, w := range want {
		if cells[i] != w {
			t.Errorf("cell %d (%s) = %s, want %s", i, columns[i], cells[i], w)
		}
	}
}

func TestEncodeQuoting(t *testing.T) {
	r := Row{
		FullName: `\rxmeta\X\`,
		Name:     `  5 ML vial of "special" solution  `,
		BaseCode: "",
	}
	cells := strings.Split(r.Encode(), "|")
	if cells[2] != `"5 ML vial of \"special\" solution"` {
		t.Errorf("name cell = %s", cells[2])
	}
	if cells[3] != "" {
		t.Errorf("empty base code should stay unquoted empty, got %q", cells[3])
	}
}

func TestEncodeKeepsExplicitValues(t *testing.T) {
	r := Row{
		FullName:    `\rxmeta\PROVENANCE\VERSION\`,
		Level:       3,
		Name:        "2026-08",
		VisualAttr:  "LH ",
		Tooltip:     "build version",
		Source:      "rxnav.nlm.nih.gov:NDFRT",
		MetadataXML: "<ValueMetadata/>",
	}
	cells := strings.Split(r.Encode(), "|")
	if cells[13] != `"build version"` {
		t.Errorf("tooltip cell = %s", cells[13])
	}
	if cells[16] != `"rxnav.nlm.nih.gov:NDFRT"` {
		t.Errorf("source cell = %s", cells[16])
	}
	if cells[17] != `"<ValueMetadata/>"` {
		t.Errorf("metadata xml cell = %s", cells[17])
	}
}
