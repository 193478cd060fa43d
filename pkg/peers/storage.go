package peers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
)

const (
	currentVersion = 1

	tempSuffix   = ".tmp"
	backupSuffix = ".bak"
	lockSuffix   = ".lock"
)

// storage persists the registry as a JSON file guarded by an
// inter-process lock file.
type storage struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

func newStorage(path string) *storage {
	return &storage{path: path, lockPath: path + lockSuffix}
}

func emptyData() *registryData {
	return &registryData{Version: currentVersion, Peers: make(map[string]*Peer)}
}

// load reads the registry file. A missing or empty file yields an empty
// registry; an unparsable one is moved aside to <path>.bak.
func (s *storage) load() (*registryData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) || (err == nil && len(raw) == 0) {
		return emptyData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read peer registry: %w", err)
	}

	var data registryData
	if err := json.Unmarshal(raw, &data); err != nil {
		if berr := os.Rename(s.path, s.path+backupSuffix); berr != nil {
			return nil, fmt.Errorf("corrupt peer registry (%v), backup failed: %w", err, berr)
		}
		return emptyData(), nil
	}
	if data.Peers == nil {
		data.Peers = make(map[string]*Peer)
	}
	return &data, nil
}

// save writes data to a temp file, syncs it and renames it into place.
func (s *storage) save(data *registryData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal peer registry: %w", err)
	}

	tmp := s.path + tempSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, err = f.Write(raw)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write peer registry: %w", err)
	}
	return nil
}

// lock takes the inter-process lock and returns its release func.
func (s *storage) lock() (func(), error) {
	if dir := filepath.Dir(s.lockPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock peer registry: %w", err)
	}
	return func() {
		_ = unlockFile(f)
		f.Close()
	}, nil
}
