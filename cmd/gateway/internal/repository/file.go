package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

var _ UserStore = (*FileStore)(nil)

// FileStore keeps users in one JSON document keyed by email:
//
//	{"a@x.com": {"email": "a@x.com", "subscriptions": ["GOOG"]}}
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadUsers returns no records when the file does not exist yet.
func (f *FileStore) LoadUsers(ctx context.Context) ([]models.UserRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var doc map[string]models.UserRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}

	records := make([]models.UserRecord, 0, len(doc))
	for email, rec := range doc {
		// the map key is authoritative
		rec.Email = email
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Email < records[j].Email })
	return records, nil
}

// SaveUsers writes to a temp file in the same directory and renames it over
// the target, so readers never see a partial document.
func (f *FileStore) SaveUsers(ctx context.Context, records []models.UserRecord) error {
	doc := make(map[string]models.UserRecord, len(records))
	for _, rec := range records {
		if rec.Subscriptions == nil {
			rec.Subscriptions = []string{}
		}
		doc[rec.Email] = rec
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
