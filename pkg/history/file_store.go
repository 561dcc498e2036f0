package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/errors"
)

// FileStore keeps history in a JSON key-value file. Other keys in the file are
// preserved; the entry list lives under a single key.
type FileStore struct {
	path   string
	key    string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first write.
func NewFileStore(path, key string, logger *logrus.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.NewInvalidInput("history path is empty")
	}
	if key == "" {
		key = DefaultKey
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewPersistenceError("open", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"key":  key,
	}).Info("File history store initialized")

	return &FileStore{path: path, key: key, logger: logger}, nil
}

func (f *FileStore) load() (map[string]json.RawMessage, []analysis.HistoryEntry, error) {
	records := make(map[string]json.RawMessage)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil, nil
		}
		return nil, nil, err
	}
	if len(data) == 0 {
		return records, nil, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil, fmt.Errorf("corrupt history file: %w", err)
	}

	var entries []analysis.HistoryEntry
	if raw, ok := records[f.key]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, nil, fmt.Errorf("corrupt history record %q: %w", f.key, err)
		}
	}
	return records, entries, nil
}

func (f *FileStore) save(records map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".history-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) Append(ctx context.Context, entry analysis.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, entries, err := f.load()
	if err != nil {
		return errors.NewPersistenceError("append", err)
	}

	raw, err := json.Marshal(prepend(entries, entry))
	if err != nil {
		return errors.NewPersistenceError("append", err)
	}
	records[f.key] = raw

	if err := f.save(records); err != nil {
		return errors.NewPersistenceError("append", err)
	}

	f.logger.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"source":   entry.Source,
		"count":    len(entries) + 1,
	}).Debug("History entry appended")
	return nil
}

func (f *FileStore) List(ctx context.Context) ([]analysis.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, entries, err := f.load()
	if err != nil {
		return nil, errors.NewPersistenceError("list", err)
	}
	if entries == nil {
		entries = []analysis.HistoryEntry{}
	}
	return entries, nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, _, err := f.load()
	if err != nil {
		// a corrupt file is replaced rather than left blocking the clear
		f.logger.WithError(err).Warn("Discarding unreadable history file")
		records = make(map[string]json.RawMessage)
	}
	delete(records, f.key)

	if err := f.save(records); err != nil {
		return errors.NewPersistenceError("clear", err)
	}
	f.logger.Info("History cleared")
	return nil
}
