package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	ConfigVersion = "1.0.0"
	DefaultPort   = 3456
)

// AICommand is one launchable command from the config file.
type AICommand struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cmd     string `json:"cmd"`
	Enabled bool   `json:"enabled"`
}

// AuthConfig holds the hex SHA-256 digest of the bearer token.
type AuthConfig struct {
	TokenHash string `json:"tokenHash"`
}

// FileConfig mirrors the on-disk JSON config file.
type FileConfig struct {
	Version     string      `json:"version"`
	Port        int         `json:"port"`
	AllowedDirs []string    `json:"allowedDirs"`
	AICommands  []AICommand `json:"aiCommands"`
	Auth        *AuthConfig `json:"auth,omitempty"`
}

func (c *FileConfig) clone() *FileConfig {
	out := &FileConfig{
		Version:     c.Version,
		Port:        c.Port,
		AllowedDirs: append([]string(nil), c.AllowedDirs...),
		AICommands:  append([]AICommand(nil), c.AICommands...),
	}
	if c.Auth != nil {
		auth := *c.Auth
		out.Auth = &auth
	}
	return out
}

// CommandByID returns the enabled command with the given id, or the
// first enabled command when id is empty, or "claude" as a last resort.
func (c *FileConfig) CommandByID(id string) string {
	for _, cmd := range c.AICommands {
		if !cmd.Enabled {
			continue
		}
		if id == "" || cmd.ID == id {
			return cmd.Cmd
		}
	}
	return "claude"
}

// Store owns the JSON config file: it creates the file with defaults on
// first run, caches the parsed copy behind a lock, persists updates
// atomically, and reloads when the file is edited externally.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg *FileConfig

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads path or creates it with defaults seeded from env.
func NewStore(path string, env *Config) (*Store, error) {
	s := &Store{path: path, done: make(chan struct{})}

	cfg, err := readFile(path)
	if os.IsNotExist(err) {
		cfg = defaults(env)
		if err := s.writeFile(cfg); err != nil {
			return nil, fmt.Errorf("create config %s: %w", path, err)
		}
		log.Printf("Config: created %s", path)
	} else if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	applyMissing(cfg, env)
	s.cfg = cfg

	if err := s.watch(); err != nil {
		// Hot reload is best-effort; the store works without it.
		log.Printf("Config: watch disabled: %v", err)
	}
	return s, nil
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the cached config.
func (s *Store) Get() FileConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg.clone()
}

// Update applies mutate to the config under the write lock and persists
// the result. The mutation is discarded if it returns an error.
func (s *Store) Update(mutate func(*FileConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := s.writeFile(next); err != nil {
		return fmt.Errorf("save config %s: %w", s.path, err)
	}
	s.cfg = next
	return nil
}

// Close stops the file watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func defaults(env *Config) *FileConfig {
	cfg := &FileConfig{
		Version:     ConfigVersion,
		Port:        DefaultPort,
		AllowedDirs: []string{},
		AICommands:  []AICommand{},
	}
	applyMissing(cfg, env)
	return cfg
}

// applyMissing fills absent fields with defaults, seeding from the
// environment where a seed value exists.
func applyMissing(cfg *FileConfig, env *Config) {
	if cfg.Version == "" {
		cfg.Version = ConfigVersion
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
		if env != nil && env.Port != "" {
			if p, err := strconv.Atoi(env.Port); err == nil && p > 0 && p < 65536 {
				cfg.Port = p
			}
		}
	}
	if cfg.AllowedDirs == nil {
		cfg.AllowedDirs = []string{}
		if env != nil {
			cfg.AllowedDirs = append(cfg.AllowedDirs, env.AllowedDirs...)
		}
	}
	if len(cfg.AICommands) == 0 {
		cmd := "claude"
		if env != nil && env.AICommand != "" {
			cmd = env.AICommand
		}
		cfg.AICommands = []AICommand{{
			ID:      uuid.NewString(),
			Name:    "Claude",
			Cmd:     cmd,
			Enabled: true,
		}}
	}
}

func readFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// writeFile persists cfg pretty-printed via tmp+rename so readers never
// observe a partial file. Callers hold s.mu.
func (s *Store) writeFile(cfg *FileConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// watch reloads the cache when the file is rewritten by another process.
// Reloading after our own atomic rename is harmless: the content matches.
func (s *Store) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := readFile(s.path)
				if err != nil {
					log.Printf("Config: reload failed: %v", err)
					continue
				}
				applyMissing(cfg, nil)
				s.mu.Lock()
				s.cfg = cfg
				s.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("Config: watch error: %v", err)
			}
		}
	}()
	return nil
}
