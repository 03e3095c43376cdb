package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

// FileStateStore keeps one JSON document per symbol under dir. Writes go to
// a temp file that is renamed over the target.
type FileStateStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(symbol string) string {
	return filepath.Join(s.dir, "risk_"+strings.ToUpper(symbol)+".json")
}

func (s *FileStateStore) Load(_ context.Context, symbol string) (*models.TradingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st models.TradingState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", symbol, err)
	}
	return &st, nil
}

func (s *FileStateStore) Save(_ context.Context, st models.TradingState) error {
	if st.Symbol == "" {
		return fmt.Errorf("save state: empty symbol")
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".risk-*.tmp")
	if err != nil {
		return fmt.Errorf("temp state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(st.Symbol)); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func (s *FileStateStore) Clear(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(symbol)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

var _ domrepo.StateStore = (*FileStateStore)(nil)
