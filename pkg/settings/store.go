package settings

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/retry"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

// DefaultDebounce is how long PersistDebounced waits for further changes
// before writing the file.
const DefaultDebounce = 500 * time.Millisecond

// Store guards a Config shared between commands, the proxy and the stats
// counter, and writes it back to disk.
type Store struct {
	path     string
	debounce time.Duration
	log      *zap.SugaredLogger

	mu    sync.Mutex
	cfg   Config
	dirty bool
	timer *time.Timer

	writeMu sync.Mutex
}

// Open loads path, falling back to defaults when the file does not exist
// yet. The file is only created on the first write.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		def := DefaultConfig()
		cfg = &def
	}
	return NewStore(path, *cfg, log), nil
}

func NewStore(path string, cfg Config, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.S()
	}
	return &Store{path: path, cfg: cfg, debounce: DefaultDebounce, log: log}
}

// SetDebounce overrides DefaultDebounce.
func (s *Store) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.OAuth.Scopes = append([]string(nil), s.cfg.OAuth.Scopes...)
	return cfg
}

func (s *Store) Policy() retry.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Policy()
}

func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GetKey(&s.cfg, key)
}

// Set updates key and writes the file immediately.
func (s *Store) Set(key, value string) error {
	return s.Update(func(cfg *Config) error { return SetKey(cfg, key, value) })
}

// Update applies fn to a copy of the configuration and saves it when fn
// succeeds and the result validates.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	next := s.cfg
	next.OAuth.Scopes = append([]string(nil), s.cfg.OAuth.Scopes...)
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	s.dirty = true
	s.mu.Unlock()
	return s.Flush()
}

// PersistDebounced marks the configuration dirty and schedules a write.
// Calls within the debounce window collapse into one write.
func (s *Store) PersistDebounced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			s.log.Warnw("Failed to persist settings", "path", s.path, "error", err)
		}
	})
}

// Flush writes pending changes now. It is a no-op when nothing changed.
func (s *Store) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cfg := s.cfg
	s.dirty = false
	s.mu.Unlock()

	if err := Save(s.path, &cfg); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	s.log.Debugw("Settings saved", "path", s.path)
	return nil
}

// Stats returns the persisted counter values.
func (s *Store) Stats() stats.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Stats
}

// TrackStats restores counter from the persisted values and keeps the
// stats block in sync with every later mutation.
func (s *Store) TrackStats(counter *stats.Counter) {
	counter.Restore(s.Stats())
	counter.AddObserver(stats.ObserverFunc(func(ev stats.Event, _ bool, _ stats.Snapshot) {
		if ev == stats.EventRestore {
			return
		}
		snap := counter.Snapshot()
		s.mu.Lock()
		s.cfg.Stats = snap
		s.mu.Unlock()
		s.PersistDebounced()
	}))
}
