// Package i2b2 serializes the assembled hierarchy into the pipe-delimited
// i2b2 metadata format: one row per path node, quoted for SQL*Loader
// ingestion, with an optional bulk load into a Postgres metadata table.
package i2b2

import (
	"strconv"
	"strings"
)

// SourceSystem is the default SOURCESYSTEM_CD value.
const SourceSystem = "rxnav.nlm.nih.gov"

var columns = []string{
	"C_FULLNAME", "C_HLEVEL", "C_NAME", "C_BASECODE", "C_VISUALATTRIBUTES",
	"M_APPLIED_PATH", "C_SYNONYM_CD", "C_TABLENAME", "C_COLUMNNAME",
	"C_COLUMNDATATYPE", "C_OPERATOR", "C_DIMCODE", "C_FACTTABLECOLUMN",
	"C_TOOLTIP", "C_TOTALNUM", "FACT_COUNT", "SOURCESYSTEM_CD", "C_METADATAXML",
}

// Header returns the pipe-joined column header line.
func Header() string { return strings.Join(columns, "|") }

// Row is one output row. Zero-valued fields take the format's defaults when
// encoded: M_APPLIED_PATH "@", C_DIMCODE the full path, the concept-dimension
// query columns, and the standard source system.
type Row struct {
	FullName    string
	Level       int
	Name        string
	BaseCode    string
	VisualAttr  string
	AppliedPath string
	Tooltip     string
	DimCode     string
	TableName   string
	ColumnName  string
	DataType    string
	Operator    string
	FactColumn  string
	Source      string
	MetadataXML string
}

// Encode renders the row as one pipe-delimited line, without the newline.
// String cells are double-quoted with embedded quotes escaped; an empty base
// code or metadata XML stays an unquoted empty cell.
func (r Row) Encode() string {
	dimCode := r.DimCode
	if dimCode == "" {
		dimCode = r.FullName
	}
	tooltip := r.Tooltip
	if tooltip == "" {
		tooltip = strings.Trim(r.FullName, `\`)
	}

	cells := []string{
		quote(r.FullName),
		strconv.Itoa(r.Level),
		quote(r.Name),
		quoteOrEmpty(r.BaseCode),
		quote(r.VisualAttr),
		quote(defaultStr(r.AppliedPath, "@")),
		quote("N"),
		quote(defaultStr(r.TableName, "concept_dimension")),
		quote(defaultStr(r.ColumnName, "concept_path")),
		quote(defaultStr(r.DataType, "T")),
		quote(defaultStr(r.Operator, "LIKE")),
		quote(dimCode),
		quote(defaultStr(r.FactColumn, "concept_cd")),
		quote(tooltip),
		"0",
		"0",
		quote(defaultStr(r.Source, SourceSystem)),
		quoteOrEmpty(r.MetadataXML),
	}
	return strings.Join(cells, "|")
}

// quote encloses the trimmed string in double quotes, escaping embedded
// quotes, so the value survives SQL*Loader and CSV-style ingestion.
func quote(s string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(s), `"`, `\"`) + `"`
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return ""
	}
	return quote(s)
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
