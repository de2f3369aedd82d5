package ndc

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// NameTable maps NDC codes to the display names the FDA publishes for them.
type NameTable struct {
	names map[string]string
}

// LoadNameTable reads the FDA-derived tab-separated name file: a header line
// followed by "NDC:<code>\t<name>" rows, names optionally double-quoted.
// Codes must be 11 characters.
func LoadNameTable(path string, logger *zap.Logger) (*NameTable, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ndc name file: %w", err)
	}
	defer f.Close()

	t := &NameTable{names: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // header: NDC_CODE NDC_NAME
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "NDC:") {
			return nil, fmt.Errorf("ndc name file line %d: malformed row", lineNo)
		}
		code := fields[0][len("NDC:"):]
		if len(code) != 11 {
			return nil, fmt.Errorf("ndc name file line %d: code %q is not length 11", lineNo, code)
		}
		t.names[code] = strings.Trim(fields[1], `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ndc name file: %w", err)
	}

	logger.Info("ndc name table loaded",
		zap.String("path", path),
		zap.Int("codes", len(t.names)))
	return t, nil
}

// Lookup returns the FDA name for the code, if known.
func (t *NameTable) Lookup(code string) (string, bool) {
	name, ok := t.names[code]
	return name, ok
}

// Len returns the number of named codes.
func (t *NameTable) Len() int { return len(t.names) }
