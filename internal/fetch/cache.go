// Package fetch implements the cached remote lookup layer: every REST API
// call goes through an append-only cache file keyed by the exact request URL,
// with retries, a circuit breaker and in-flight request collapsing on the
// miss path.
package fetch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileCache is the persistent request-signature cache. Each entry occupies
// three lines: the request URL, the data date (YYYYMMDD) and the raw JSON
// response. Entries are only ever appended; response bodies are not held in
// memory, only their file offsets.
//
// The format is shared with earlier builders, so a cache file produced by a
// previous run (or tool) stays usable.
type FileCache struct {
	mu      sync.Mutex
	file    *os.File
	index   map[string]int64 // request URL -> offset of entry's first line
	hits    int64
	entries int
	logger  *zap.Logger
}

// OpenFileCache opens (or creates) the cache file at path and loads its
// index. A malformed file fails open rather than being silently truncated.
func OpenFileCache(path string, logger *zap.Logger) (*FileCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}

	c := &FileCache{
		file:   file,
		index:  make(map[string]int64),
		logger: logger,
	}
	if err := c.loadIndex(); err != nil {
		file.Close()
		return nil, err
	}

	logger.Info("cache file loaded",
		zap.String("path", path),
		zap.Int("entries", c.entries))
	return c, nil
}

func (c *FileCache) loadIndex() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek cache file: %w", err)
	}

	reader := bufio.NewReaderSize(c.file, 1<<20)
	var offset int64
	for {
		entryOffset := offset

		urlLine, err := reader.ReadBytes('\n')
		if err == io.EOF && len(urlLine) == 0 {
			break // clean EOF between entries
		}
		if err != nil {
			return fmt.Errorf("cache file truncated mid-entry at offset %d", entryOffset)
		}
		offset += int64(len(urlLine))

		dateLine, err := reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("cache file truncated mid-entry at offset %d", entryOffset)
		}
		offset += int64(len(dateLine))
		if len(chomp(dateLine)) != 8 {
			return fmt.Errorf("cache entry at offset %d: date line is not YYYYMMDD", entryOffset)
		}

		bodyLine, err := reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("cache file truncated mid-entry at offset %d", entryOffset)
		}
		offset += int64(len(bodyLine))

		c.index[string(chomp(urlLine))] = entryOffset
		c.entries++
	}
	return nil
}

// Get returns the cached response body for the request URL, if present.
func (c *FileCache) Get(url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	offset, ok := c.index[url]
	if !ok {
		return nil, false, nil
	}

	reader := bufio.NewReader(io.NewSectionReader(c.file, offset, 1<<62))
	for i := 0; i < 2; i++ { // skip URL and date lines
		if _, err := reader.ReadBytes('\n'); err != nil {
			return nil, false, fmt.Errorf("read cache entry for %s: %w", url, err)
		}
	}
	body, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("read cache entry for %s: %w", url, err)
	}

	c.hits++
	return chomp(body), true, nil
}

// Put appends a response to the cache file and indexes it. The entry is on
// disk before Put returns, so a crash after a successful remote call never
// costs the result on the next run. Re-putting an existing URL is a no-op.
func (c *FileCache) Put(url string, body []byte) error {
	body, err := normalizeBody(body)
	if err != nil {
		return fmt.Errorf("cache entry for %s: %w", url, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[url]; ok {
		return nil
	}

	offset, err := c.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek cache file: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(url)
	buf.WriteByte('\n')
	buf.WriteString(time.Now().Format("20060102"))
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')

	if _, err := c.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append cache entry: %w", err)
	}

	c.index[url] = offset
	c.entries++
	return nil
}

// Len returns the number of cached entries.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

// Hits returns the number of lookups answered from the cache.
func (c *FileCache) Hits() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Close closes the underlying file.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// normalizeBody collapses a JSON body onto a single line; the cache format
// is line-oriented.
func normalizeBody(body []byte) ([]byte, error) {
	if !bytes.ContainsRune(body, '\n') && !bytes.ContainsRune(body, '\r') {
		return body, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, fmt.Errorf("response body spans lines and is not JSON: %w", err)
	}
	return compact.Bytes(), nil
}

func chomp(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
