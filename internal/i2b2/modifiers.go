package i2b2

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LoadModifiers reads an i2b2 modifier metadata file and returns its rows for
// pass-through emission. The file is pipe-delimited with a quoted header
// naming its columns; a cell may span physical lines, so lines are joined
// (line breaks dropped) until the expected field count is reached. Paths and
// levels are kept exactly as given.
func LoadModifiers(path string, logger *zap.Logger) ([]Row, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open modifiers file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read modifiers header: %w", err)
	}

	names := strings.Split(chompLine(header), "|")
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[strings.TrimSpace(strings.Trim(name, `"`))] = i
	}
	for _, required := range []string{"C_FULLNAME", "C_HLEVEL", "C_NAME", "M_APPLIED_PATH"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("modifiers file missing column %s", required)
		}
	}

	var rows []Row
	lineNo := 1
	for {
		fields, consumed, err := readRecord(reader, len(names))
		if err != nil {
			return nil, fmt.Errorf("modifiers file line %d: %w", lineNo+1, err)
		}
		lineNo += consumed
		if fields == nil {
			break
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.Trim(fields[i], `"`)
		}

		level, err := strconv.Atoi(get("C_HLEVEL"))
		if err != nil {
			return nil, fmt.Errorf("modifiers file line %d: bad C_HLEVEL %q", lineNo, get("C_HLEVEL"))
		}
		rows = append(rows, Row{
			FullName:    get("C_FULLNAME"),
			Level:       level,
			Name:        get("C_NAME"),
			BaseCode:    get("C_BASECODE"),
			VisualAttr:  get("C_VISUALATTRIBUTES"),
			AppliedPath: get("M_APPLIED_PATH"),
			Tooltip:     get("C_TOOLTIP"),
			DimCode:     get("C_DIMCODE"),
			TableName:   get("C_TABLENAME"),
			ColumnName:  get("C_COLUMNNAME"),
			DataType:    get("C_COLUMNDATATYPE"),
			Operator:    get("C_OPERATOR"),
			FactColumn:  get("C_FACTTABLECOLUMN"),
			Source:      get("SOURCESYSTEM_CD"),
			MetadataXML: get("C_METADATAXML"),
		})
	}

	logger.Info("modifier rows loaded",
		zap.String("path", path),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// readRecord joins physical lines until the field count reaches want.
// Returns nil fields at EOF with no pending data.
func readRecord(reader *bufio.Reader, want int) ([]string, int, error) {
	var record string
	consumed := 0
	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			if record == "" {
				return nil, consumed, nil
			}
			return nil, consumed, fmt.Errorf("unexpected end of file mid-record")
		}
		consumed++
		record += chompLine(line)
		if record == "" {
			return nil, consumed, nil
		}
		// A line with too few fields ends mid-cell; the cell continues on the
		// next physical line.
		if fields := strings.Split(record, "|"); len(fields) >= want {
			if len(fields) > want {
				return nil, consumed, fmt.Errorf("field count %d exceeds header's %d", len(fields), want)
			}
			return fields, consumed, nil
		}
	}
}

func chompLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
