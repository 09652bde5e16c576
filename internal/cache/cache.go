// Package cache persists materialized query results to durable storage so
// agents can retrieve slices later instead of holding raw data in context.
//
// Each cache owns one directory: a cache_metadata.json index plus one data
// file per result, named {resultID}.{format}. The index is the only
// shared-mutable resource; all read-modify-write of it is guarded by a
// per-cache mutex, and the index file is replaced atomically (temp file +
// rename) so a crash never leaves a torn index.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cropbase/brapi-mcp/internal/brapi"
	brapierr "github.com/cropbase/brapi-mcp/internal/errors"
)

const indexFileName = "cache_metadata.json"

// ResultInfo is the index entry for one cached result. Immutable after
// creation; a repeat of the same query overwrites the entry under the same
// result id.
type ResultInfo struct {
	ResultID    string         `json:"result_id"`
	SessionID   string         `json:"session_id,omitempty"`
	FilePath    string         `json:"file_path"`
	Format      Format         `json:"format"`
	RowCount    int            `json:"row_count"`
	ColumnCount int            `json:"column_count"`
	Columns     []string       `json:"columns"`
	SizeBytes   int64          `json:"size_bytes"`
	CreatedAt   time.Time      `json:"created_at"`
	Query       map[string]any `json:"query,omitempty"`
}

// SliceMeta describes the slice returned by Load.
type SliceMeta struct {
	ResultID     string   `json:"result_id"`
	TotalRows    int      `json:"total_rows"`
	ReturnedRows int      `json:"returned_rows"`
	Offset       int      `json:"offset,omitempty"`
	Columns      []string `json:"columns"`
	// Truncated is true whenever fewer rows are returned than the stored
	// total.
	Truncated bool `json:"truncated"`
}

// LoadResult is the outcome of one Load call.
type LoadResult struct {
	Records []brapi.Record `json:"data"`
	Meta    SliceMeta      `json:"metadata"`
}

// Cache is one session's result store.
type Cache struct {
	dir string

	mu    sync.Mutex
	index map[string]*ResultInfo
}

// New opens (or creates) a cache rooted at dir and loads its index.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	c := &Cache{
		dir:   dir,
		index: make(map[string]*ResultInfo),
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &c.index); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Save materializes a record set in the chosen format and registers it in
// the index. The data file is written before the index entry, so an index
// entry never points at a missing file as a steady state; a retried save
// under the same id overwrites both consistently (last writer wins).
func (c *Cache) Save(resultID, sessionID string, records []brapi.Record, query map[string]any, format Format) (*ResultInfo, error) {
	if resultID == "" {
		return nil, brapierr.NewInvalidRequest("result_id must not be empty")
	}

	columns := brapi.Columns(records)
	filePath := filepath.Join(c.dir, resultID+"."+string(format))

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.CreateTemp(c.dir, resultID+".*.tmp")
	if err != nil {
		return nil, brapierr.NewInternal(err)
	}
	tmpName := f.Name()

	switch format {
	case FormatCSV:
		err = encodeCSV(f, records, columns)
	case FormatJSONL:
		err = encodeJSONL(f, records)
	default:
		f.Close()
		os.Remove(tmpName)
		return nil, brapierr.NewUnsupportedFormat(string(format), SupportedFormats())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, brapierr.NewInternal(err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return nil, brapierr.NewInternal(err)
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, brapierr.NewInternal(err)
	}

	info := &ResultInfo{
		ResultID:    resultID,
		SessionID:   sessionID,
		FilePath:    filePath,
		Format:      format,
		RowCount:    len(records),
		ColumnCount: len(columns),
		Columns:     columns,
		SizeBytes:   stat.Size(),
		CreatedAt:   time.Now().UTC(),
		Query:       query,
	}

	// A re-save in a different format writes a new data file; drop the one
	// the old index entry pointed at so it cannot be orphaned.
	if prev, ok := c.index[resultID]; ok && prev.FilePath != filePath {
		os.Remove(prev.FilePath)
	}

	c.index[resultID] = info
	if err := c.persistIndexLocked(); err != nil {
		return nil, brapierr.NewInternal(err)
	}
	return info, nil
}

// Load reads a cached result back, optionally slicing rows (limit/offset)
// and projecting columns. limit <= 0 means all rows.
func (c *Cache) Load(resultID string, limit, offset int, columns []string) (*LoadResult, error) {
	c.mu.Lock()
	info, ok := c.index[resultID]
	c.mu.Unlock()
	if !ok {
		return nil, brapierr.NewNotFound("result", resultID)
	}

	f, err := os.Open(info.FilePath)
	if err != nil {
		// Index entry with a missing backing file: surfaced as not
		// found, never as a crash.
		return nil, brapierr.NewNotFound("result", resultID)
	}
	defer f.Close()

	var records []brapi.Record
	switch info.Format {
	case FormatCSV:
		records, _, err = decodeCSV(f)
	case FormatJSONL:
		records, err = decodeJSONL(f)
	default:
		return nil, brapierr.NewUnsupportedFormat(string(info.Format), SupportedFormats())
	}
	if err != nil {
		return nil, brapierr.NewInternal(err)
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(records) {
		offset = len(records)
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	outCols := info.Columns
	if len(columns) > 0 {
		records, outCols = project(records, info.Columns, columns)
	}

	return &LoadResult{
		Records: records,
		Meta: SliceMeta{
			ResultID:     resultID,
			TotalRows:    info.RowCount,
			ReturnedRows: len(records),
			Offset:       offset,
			Columns:      outCols,
			Truncated:    len(records) < info.RowCount,
		},
	}, nil
}

// Info returns the index entry for a result without loading its data.
func (c *Cache) Info(resultID string) (*ResultInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.index[resultID]
	return info, ok
}

// List returns all index entries, newest first.
func (c *Cache) List() []*ResultInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]*ResultInfo, 0, len(c.index))
	for _, info := range c.index {
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

// Delete removes a result's data file and index entry. Deleting an absent
// id reports false rather than an error.
func (c *Cache) Delete(resultID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.index[resultID]
	if !ok {
		return false, nil
	}

	if err := os.Remove(info.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, brapierr.NewInternal(err)
	}

	delete(c.index, resultID)
	if err := c.persistIndexLocked(); err != nil {
		return false, brapierr.NewInternal(err)
	}
	return true, nil
}

// persistIndexLocked atomically rewrites the index file. Callers must hold
// c.mu.
func (c *Cache) persistIndexLocked() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, indexFileName+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(c.dir, indexFileName))
}

// project filters records down to the requested columns, keeping only
// columns that exist in the stored result.
func project(records []brapi.Record, stored, requested []string) ([]brapi.Record, []string) {
	known := make(map[string]bool, len(stored))
	for _, col := range stored {
		known[col] = true
	}

	keep := make([]string, 0, len(requested))
	for _, col := range requested {
		if known[col] {
			keep = append(keep, col)
		}
	}

	projected := make([]brapi.Record, len(records))
	for i, rec := range records {
		out := make(brapi.Record, len(keep))
		for _, col := range keep {
			if v, ok := rec[col]; ok {
				out[col] = v
			}
		}
		projected[i] = out
	}
	return projected, keep
}
