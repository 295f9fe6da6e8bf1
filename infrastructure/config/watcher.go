package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DynamicConfig represents runtime-changeable sync tuning. It is loaded
// from a YAML file so operators can adjust staleness thresholds without a
// restart.
type DynamicConfig struct {
	RefreshInterval time.Duration            `yaml:"refresh_interval"`
	TTL             map[string]time.Duration `yaml:"ttl"`
}

// Watcher watches the dynamic configuration file for changes
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	onChange []func(DynamicConfig)

	mu      sync.RWMutex
	current DynamicConfig

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the initial configuration and begins watching path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	current, err := loadDynamicConfig(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger,
		current: current,
		stopCh:  make(chan struct{}),
	}, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching for configuration changes
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("dynamic config watcher started", zap.String("path", w.path))
}

// Stop stops watching for configuration changes
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	// Debounce timer to avoid multiple reloads on editor save patterns.
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-reload:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := loadDynamicConfig(w.path)
	if err != nil {
		w.logger.Warn("ignoring unreadable dynamic config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(DynamicConfig){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("dynamic config reloaded",
		zap.Duration("refreshInterval", cfg.RefreshInterval),
	)
	for _, fn := range callbacks {
		fn(cfg)
	}
}

func loadDynamicConfig(path string) (DynamicConfig, error) {
	var cfg DynamicConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
