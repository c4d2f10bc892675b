package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/papertrade-io/paperbroker/internal/models"
)

// JSONStorage keeps every account in one JSON file. Writes go to a temp
// file and rename into place so a crash never leaves a torn file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *jsonData
}

type jsonData struct {
	Accounts    map[string]*models.Account `json:"accounts"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// NewJSONStorage opens or creates a JSON-backed store at filepath.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     &jsonData{Accounts: make(map[string]*models.Account)},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return err
	}
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]*models.Account)
	}
	return nil
}

// flush must be called with the write lock held.
func (s *JSONStorage) flush() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then atomic rename.
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// Load implements Interface.
func (s *JSONStorage) Load(ctx context.Context, id string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.data.Accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acct.Clone(), nil
}

// Save implements Interface.
func (s *JSONStorage) Save(ctx context.Context, acct *models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.data.Accounts[acct.ID]; ok && prev.StartingBalance != acct.StartingBalance {
		return fmt.Errorf("account %s: %w", acct.ID, ErrStartingBalance)
	}

	prev, existed := s.data.Accounts[acct.ID]
	s.data.Accounts[acct.ID] = acct.Clone()
	if err := s.flush(); err != nil {
		// Keep the in-memory map consistent with the file on disk.
		if existed {
			s.data.Accounts[acct.ID] = prev
		} else {
			delete(s.data.Accounts, acct.ID)
		}
		return fmt.Errorf("saving account %s: %w", acct.ID, err)
	}
	return nil
}

// ListIDs implements Interface.
func (s *JSONStorage) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data.Accounts))
	for id := range s.data.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Interface. The JSON store holds no open handles.
func (s *JSONStorage) Close() error { return nil }
