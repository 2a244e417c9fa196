package config

import "sync"

// Manager is the hot-reload-safe accessor for the kernel's live config,
// mirroring the teacher's ConfigManager/RWMutexManager contract: Get
// returns a cloned snapshot, Set/Reload store a cloned copy under lock.
type Manager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager is the production Manager implementation.
type RWMutexManager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

var _ Manager = (*RWMutexManager)(nil)

// NewManager loads path and wraps it in a ready-to-use RWMutexManager.
func NewManager(path string) (*RWMutexManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &RWMutexManager{cfg: cfg, path: path}, nil
}

// NewRWMutexManager wraps an already-loaded config (used in tests and by
// callers that construct a Config programmatically).
func NewRWMutexManager(cfg *Config) *RWMutexManager {
	return &RWMutexManager{cfg: cfg.Clone()}
}

func (m *RWMutexManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

func (m *RWMutexManager) Set(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

func (m *RWMutexManager) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.path = path
	return nil
}
