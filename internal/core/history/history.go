// Package history keeps a TOML ledger of completed downloads.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/nightconcept/efficient-downloader/internal/core/downloader"
)

const FileName = "effdl-history.toml"
const APIVersion = "1"

// Entry represents a single recorded download.
// Example:
// [entry."0d9f0c3e-..."]
//
//	source = "input as given"
//	final_url = "URL the body was read from"
//	path = "destination/file.ext"
type Entry struct {
	Source       string    `toml:"source"`
	FinalURL     string    `toml:"final_url"`
	Path         string    `toml:"path"`
	Redirects    []string  `toml:"redirects,omitempty"`
	StatusCode   int       `toml:"status_code"`
	Bytes        int64     `toml:"bytes"`
	DownloadedAt time.Time `toml:"downloaded_at"`
}

// Record is an Entry together with its id.
type Record struct {
	ID string
	Entry
}

// History represents the structure of the history file.
type History struct {
	APIVersion string           `toml:"api_version"`
	Entry      map[string]Entry `toml:"entry"`
}

// New creates an empty History.
func New() *History {
	return &History{
		APIVersion: APIVersion,
		Entry:      make(map[string]Entry),
	}
}

// Load reads the history file at path. A missing file yields an empty History.
func Load(path string) (*History, error) {
	h := New()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return h, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat history file %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, h); err != nil {
		return nil, fmt.Errorf("failed to decode history file %s: %w", path, err)
	}
	if h.APIVersion == "" {
		h.APIVersion = APIVersion
	}
	if h.Entry == nil {
		h.Entry = make(map[string]Entry)
	}
	return h, nil
}

// Save writes h to path, creating the parent directory when needed.
func Save(path string, h *History) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for history file %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create/truncate history file %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close history file %s: %w", path, closeErr)
		}
	}()

	if err := toml.NewEncoder(file).Encode(h); err != nil {
		return fmt.Errorf("failed to encode history file %s: %w", path, err)
	}
	return nil
}

// Record adds res to the history under a new id and returns the id.
func (h *History) Record(res *downloader.Result, at time.Time) string {
	if h.Entry == nil {
		h.Entry = make(map[string]Entry)
	}
	id := uuid.NewString()
	h.Entry[id] = Entry{
		Source:       res.Source,
		FinalURL:     res.FinalURL,
		Path:         filepath.ToSlash(res.Destination),
		Redirects:    res.Redirects,
		StatusCode:   res.StatusCode,
		Bytes:        res.Bytes,
		DownloadedAt: at.UTC().Truncate(time.Second),
	}
	return id
}

// Sorted returns every record, newest first. Ties are broken by id.
func (h *History) Sorted() []Record {
	records := make([]Record, 0, len(h.Entry))
	for id, e := range h.Entry {
		records = append(records, Record{ID: id, Entry: e})
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].DownloadedAt.Equal(records[j].DownloadedAt) {
			return records[i].DownloadedAt.After(records[j].DownloadedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}
