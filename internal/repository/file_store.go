package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"vpnshop/internal/models"
)

// FileStore keeps every collection in its own flat file under dir.
// Each save rewrites the whole file through a temp file and a rename,
// so a crash mid-write leaves the previous version intact.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) LoadConfigs() ([]models.Config, error) {
	data, err := s.read(ConfigsFile)
	if err != nil {
		return nil, err
	}
	return decodeConfigs(data)
}

func (s *FileStore) SaveConfigs(configs []models.Config) error {
	data, err := encodeConfigs(configs)
	if err != nil {
		return err
	}
	return s.write(ConfigsFile, data)
}

func (s *FileStore) LoadOrders() ([]models.Order, error) {
	data, err := s.read(OrdersFile)
	if err != nil {
		return nil, err
	}
	return decodeOrders(data)
}

func (s *FileStore) SaveOrders(orders []models.Order) error {
	data, err := encodeOrders(orders)
	if err != nil {
		return err
	}
	return s.write(OrdersFile, data)
}

func (s *FileStore) LoadUsers() ([]int64, error) {
	return s.readIDs(UsersFile)
}

func (s *FileStore) SaveUsers(ids []int64) error {
	return s.write(UsersFile, encodeIDs(ids))
}

func (s *FileStore) LoadBlacklist() ([]int64, error) {
	return s.readIDs(BlacklistFile)
}

func (s *FileStore) SaveBlacklist(ids []int64) error {
	return s.write(BlacklistFile, encodeIDs(ids))
}

func (s *FileStore) Export() (map[string][]byte, error) {
	return exportAll(s)
}

func (s *FileStore) readIDs(name string) ([]int64, error) {
	data, err := s.read(name)
	if err != nil {
		return nil, err
	}
	ids, bad := decodeIDs(data)
	if len(bad) > 0 && s.logger != nil {
		s.logger.Warn("Skipping malformed id lines", zap.String("file", name), zap.Strings("lines", bad))
	}
	return ids, nil
}

// read returns nil data for a missing file.
func (s *FileStore) read(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
