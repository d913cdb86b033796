// Package settings persists the user-tunable panel settings as a YAML file
// and hot-reloads them when the file changes on disk.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Settings are the flags the orchestration coordinators react to.
type Settings struct {
	AutoStartEnabled bool   `yaml:"auto_start_enabled" json:"auto_start_enabled"`
	AutoSyncEnabled  bool   `yaml:"auto_sync_enabled" json:"auto_sync_enabled"`
	InputDevice      string `yaml:"input_device" json:"input_device"`
	Language         string `yaml:"language" json:"language"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		AutoStartEnabled: false,
		AutoSyncEnabled:  true,
		Language:         "en",
	}
}

// Store owns the settings file and notifies watchers on every change,
// whether it came through Update or from an external edit picked up by
// fsnotify.
type Store struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	current  Settings
	watchers []func()

	fw   *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// NewStore loads settings from path, creating defaults when the file is
// missing, and starts watching the containing directory for changes.
func NewStore(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		path: path,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	loaded, err := load(path)
	if err != nil {
		return nil, err
	}
	s.current = loaded

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is best effort; the store still works without it.
		log.Warn("settings watcher unavailable", "error", err)
		close(s.done)
		return s, nil
	}
	// Watch the directory, not the file: editors replace files by rename.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		log.Warn("settings watch failed", "path", path, "error", err)
		_ = fw.Close()
		close(s.done)
		return s, nil
	}
	s.fw = fw
	go s.watchLoop()

	return s, nil
}

func load(path string) (Settings, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("failed to read settings file %q: %w", path, err)
	}

	settings := Defaults()
	if err := yaml.Unmarshal(contents, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %q: %w", path, err)
	}
	return settings, nil
}

// Current returns a copy of the active settings.
func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update persists new settings and notifies watchers.
func (s *Store) Update(settings Settings) error {
	contents, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, contents, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file %q: %w", s.path, err)
	}

	s.apply(settings)
	return nil
}

// AutoStartEnabled implements ports.SettingsSource.
func (s *Store) AutoStartEnabled() bool { return s.Current().AutoStartEnabled }

// AutoSyncEnabled implements ports.SettingsSource.
func (s *Store) AutoSyncEnabled() bool { return s.Current().AutoSyncEnabled }

// InputDevice implements ports.SettingsSource.
func (s *Store) InputDevice() string { return s.Current().InputDevice }

// Watch registers a callback run after every settings change. Not safe to
// call once events flow.
func (s *Store) Watch(onChange func()) {
	s.mu.Lock()
	s.watchers = append(s.watchers, onChange)
	s.mu.Unlock()
}

// Close stops the file watcher.
func (s *Store) Close() {
	if s.fw == nil {
		return
	}
	close(s.stop)
	_ = s.fw.Close()
	<-s.done
}

func (s *Store) apply(settings Settings) {
	s.mu.Lock()
	changed := settings != s.current
	s.current = settings
	watchers := s.watchers
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, w := range watchers {
		w()
	}
}

func (s *Store) watchLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.fw.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			loaded, err := load(s.path)
			if err != nil {
				s.log.Warn("settings reload failed", "error", err)
				continue
			}
			s.apply(loaded)
		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			s.log.Warn("settings watcher error", "error", err)
		}
	}
}
