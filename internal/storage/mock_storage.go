package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/papertrade-io/paperbroker/internal/models"
)

// MockStorage implements Interface for testing with injectable errors
// and call counting.
type MockStorage struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	saveError     error
	loadError     error
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates an empty in-memory mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{accounts: make(map[string]*models.Account)}
}

// Load implements Interface.
func (m *MockStorage) Load(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	if m.loadError != nil {
		return nil, m.loadError
	}
	acct, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acct.Clone(), nil
}

// Save implements Interface.
func (m *MockStorage) Save(_ context.Context, acct *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if prev, ok := m.accounts[acct.ID]; ok && prev.StartingBalance != acct.StartingBalance {
		return fmt.Errorf("account %s: %w", acct.ID, ErrStartingBalance)
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

// ListIDs implements Interface.
func (m *MockStorage) ListIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Interface.
func (m *MockStorage) Close() error { return nil }

// SetSaveError injects an error returned by every subsequent Save.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError injects an error returned by every subsequent Load.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SaveCallCount reports how many times Save was invoked.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

// LoadCallCount reports how many times Load was invoked.
func (m *MockStorage) LoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}
