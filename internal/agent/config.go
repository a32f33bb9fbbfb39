package agent

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// ConfigStore holds the effective AgentConfig under a lock and persists it
// to a local file so a restart picks up the last config pushed by the
// server rather than whatever static defaults cmd/agent started with.
type ConfigStore struct {
	path string

	mu  sync.RWMutex
	cfg protocol.AgentConfig
}

// NewConfigStore loads path if present, falling back to initial.
func NewConfigStore(path string, initial protocol.AgentConfig) *ConfigStore {
	s := &ConfigStore{path: path, cfg: initial}
	if path == "" {
		return s
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var loaded protocol.AgentConfig
	if err := json.Unmarshal(raw, &loaded); err == nil {
		s.cfg = loaded
	}
	return s
}

// Current returns a copy of the effective config.
func (s *ConfigStore) Current() protocol.AgentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace atomically swaps in cfg and persists it to disk; a write failure
// is returned but the in-memory swap already happened, since the spec's
// ordering is "replace in-memory, then ack" rather than "persist, then
// replace".
func (s *ConfigStore) Replace(cfg protocol.AgentConfig) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}
