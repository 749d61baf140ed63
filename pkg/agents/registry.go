// Package agents resolves agent identifiers to their definitions. Agents
// come from the static configuration plus optional JSON definition files in
// a watched directory, which take precedence and can be edited at runtime.
package agents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stackboard/agentd/internal/config"
)

// ErrNotFound is returned when no agent matches the requested ID.
var ErrNotFound = fmt.Errorf("agent not found")

// Registry holds the resolved agent definitions.
type Registry struct {
	mu     sync.RWMutex
	static map[string]config.AgentConfig // from config file
	files  map[string]config.AgentConfig // from AgentsDir, keyed by agent ID
	dir    string
	logger zerolog.Logger
}

// NewRegistry builds a registry from the configured agents and, when dir is
// non-empty, the JSON definition files under it.
func NewRegistry(agents []config.AgentConfig, dir string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		static: make(map[string]config.AgentConfig, len(agents)),
		files:  make(map[string]config.AgentConfig),
		dir:    dir,
		logger: logger.With().Str("component", "agents").Logger(),
	}

	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent definition missing id")
		}
		r.static[a.ID] = a
	}

	if dir != "" {
		if err := r.reloadDir(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Get returns the definition for an agent ID.
func (r *Registry) Get(id string) (config.AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.files[id]; ok {
		return a, nil
	}
	if a, ok := r.static[id]; ok {
		return a, nil
	}
	return config.AgentConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns all known agent definitions sorted by ID.
func (r *Registry) List() []config.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]config.AgentConfig, len(r.static)+len(r.files))
	for id, a := range r.static {
		seen[id] = a
	}
	for id, a := range r.files {
		seen[id] = a
	}

	out := make([]config.AgentConfig, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// reloadDir re-reads every .json definition under the agents directory.
// A file that fails to parse is skipped so one bad edit cannot wipe the
// registry.
func (r *Registry) reloadDir() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read agents dir: %w", err)
	}

	loaded := make(map[string]config.AgentConfig)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		a, err := loadDefinition(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid agent definition")
			continue
		}
		loaded[a.ID] = a
	}

	r.mu.Lock()
	r.files = loaded
	r.mu.Unlock()

	r.logger.Debug().Int("count", len(loaded)).Str("dir", r.dir).Msg("Agent definitions loaded")
	return nil
}

func loadDefinition(path string) (config.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.AgentConfig{}, fmt.Errorf("failed to read definition: %w", err)
	}

	var a config.AgentConfig
	if err := json.Unmarshal(data, &a); err != nil {
		return config.AgentConfig{}, fmt.Errorf("failed to parse definition: %w", err)
	}
	if a.ID == "" {
		return config.AgentConfig{}, fmt.Errorf("definition %s missing id", filepath.Base(path))
	}
	if a.Model == "" {
		return config.AgentConfig{}, fmt.Errorf("definition %s missing model", filepath.Base(path))
	}
	return a, nil
}
