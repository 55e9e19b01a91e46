package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrMissingConfigFile is returned when a watcher has no file to watch.
	ErrMissingConfigFile = errors.New("config: watcher needs a config file")

	// ErrMissingOnChange is returned when a watcher has no change callback.
	ErrMissingOnChange = errors.New("config: watcher needs an OnChange callback")
)

// WatcherConfig holds config watcher configuration.
type WatcherConfig struct {
	FilePath string
	Debounce time.Duration // Default: 200ms
	OnChange func(oldCfg, newCfg *Config)
	// OnError receives reload failures; the previous config stays current.
	OnError func(err error)
}

// ConfigWatcher reloads a config file when it changes and hands valid
// results to OnChange.
type ConfigWatcher struct {
	filePath   string
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	lastConfig *Config
	onChange   func(oldCfg, newCfg *Config)
	onError    func(err error)
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewConfigWatcher loads the file once and prepares to watch it. The
// containing directory is watched so that editors which replace the file
// are seen.
func NewConfigWatcher(cfg *WatcherConfig) (*ConfigWatcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}

	path, err := filepath.Abs(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}

	initial, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	onError := cfg.OnError
	if onError == nil {
		onError = func(error) {}
	}

	return &ConfigWatcher{
		filePath:   path,
		debounce:   debounce,
		watcher:    fw,
		lastConfig: initial,
		onChange:   cfg.OnChange,
		onError:    onError,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes.
func (w *ConfigWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.watchLoop()
}

// Stop stops watching and releases the underlying watcher.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.stoppedCh
	}
	w.watcher.Close()
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.filePath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceCh = debounceTimer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config: watch: %w", err))

		case <-debounceCh:
			debounceTimer = nil
			debounceCh = nil
			w.triggerReload()
		}
	}
}

// triggerReload loads and validates the file and calls onChange.
func (w *ConfigWatcher) triggerReload() {
	newConfig, err := LoadConfig(w.filePath)
	if err != nil {
		w.onError(err)
		return
	}
	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		w.onError(fmt.Errorf("config: reload rejected: %w", errors.Join(errs...)))
		return
	}

	w.mu.Lock()
	oldConfig := w.lastConfig
	w.lastConfig = newConfig
	w.mu.Unlock()

	w.onChange(oldConfig, newConfig)
}

// IsRunning returns true if the watcher is running.
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CurrentConfig returns the last successfully loaded config.
func (w *ConfigWatcher) CurrentConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}

// ChangedSections lists the top-level sections that differ between two
// configs, by their config key.
func ChangedSections(oldCfg, newCfg *Config) []string {
	var changed []string
	ov := reflect.ValueOf(oldCfg).Elem()
	nv := reflect.ValueOf(newCfg).Elem()
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			changed = append(changed, t.Field(i).Tag.Get("mapstructure"))
		}
	}
	return changed
}
