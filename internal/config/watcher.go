package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	watchDebounce = 100 * time.Millisecond
	pollFallback  = 5 * time.Second
)

// restartKeys only take effect after a restart. Everything else, currently
// LOG_LEVEL, is applied live by the reload callback.
var restartKeys = map[string]bool{
	"UMA_HOST":                       true,
	"UMA_PORT":                       true,
	"UMA_USE_HTTPS":                  true,
	"UMA_INSECURE_SKIP_VERIFY":       true,
	"UMA_TLS_FINGERPRINT":            true,
	"UMA_ENABLE_WEBSOCKET":           true,
	"UMA_POLL_INTERVAL":              true,
	"UMA_COLLECTOR_REFRESH_INTERVAL": true,
	"UMA_FETCH_TIMEOUT":              true,
	"UMA_CONNECT_TIMEOUT":            true,
	"UMA_RECONNECT_BASE":             true,
	"UMA_RECONNECT_MAX":              true,
	"UMA_RECONNECT_MULTIPLIER":       true,
	"UMA_RECONNECT_JITTER":           true,
	"LISTEN_ADDR":                    true,
	"METRICS_ADDR":                   true,
	"LOG_FORMAT":                     true,
	"LOG_FILE":                       true,
	"DNS_CACHE_TTL":                  true,
}

// Reload describes a change picked up from the .env file.
type Reload struct {
	Config  *Config
	Changed []string
}

// Watcher monitors the .env file and reports changes.
type Watcher struct {
	envPath  string
	onReload func(Reload)
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	current     map[string]string
	base        *Config
	lastModTime time.Time
}

// NewWatcher watches cfg.EnvFile. onReload runs on the watcher goroutine
// whenever the file changes in a way that affects the settings.
func NewWatcher(cfg *Config, onReload func(Reload)) (*Watcher, error) {
	envPath := cfg.EnvFile
	if envPath == "" {
		envPath = filepath.Join(cfg.DataDir, envFileName)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		envPath:  envPath,
		onReload: onReload,
		watcher:  fw,
		stopChan: make(chan struct{}),
		base:     cfg,
		current:  readEnv(envPath),
	}
	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// Start begins watching. If the directory cannot be watched it falls back
// to polling the file's modification time.
func (w *Watcher) Start() {
	dir := filepath.Dir(w.envPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory, falling back to polling")
		go w.pollForChanges()
		return
	}
	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Started watching config file for changes")
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Let the writer finish.
			time.Sleep(watchDebounce)
			log.Debug().Str("event", event.Op.String()).Msg("Detected .env file change")
			w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := stat.ModTime().After(w.lastModTime)
			if changed {
				w.lastModTime = stat.ModTime()
			}
			w.mu.Unlock()
			if changed {
				w.Reload()
			}
		case <-w.stopChan:
			return
		}
	}
}

// Reload re-reads the file and invokes the callback when a key changed.
// It reports whether the callback ran.
func (w *Watcher) Reload() bool {
	next := readEnv(w.envPath)

	w.mu.Lock()
	changed := diffKeys(w.current, next)
	w.current = next
	base := *w.base
	w.mu.Unlock()

	if len(changed) == 0 {
		log.Debug().Msg("No relevant changes detected in .env file")
		return false
	}

	var needsRestart []string
	for _, key := range changed {
		if restartKeys[key] {
			needsRestart = append(needsRestart, key)
		}
	}
	if len(needsRestart) > 0 {
		log.Warn().Strs("keys", needsRestart).Msg("Changed settings take effect after restart")
	}

	base.apply(MapLookup(next))
	if err := base.Validate(); err != nil {
		log.Error().Err(err).Msg("Ignoring invalid .env changes")
		return false
	}

	log.Info().Strs("changes", changed).Msg("Applied .env file changes to runtime config")
	if w.onReload != nil {
		w.onReload(Reload{Config: &base, Changed: changed})
	}
	return true
}

func readEnv(path string) map[string]string {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", path).Msg("Failed to read .env file")
		}
		return map[string]string{}
	}
	return env
}

func diffKeys(prev, next map[string]string) []string {
	var out []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			out = append(out, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
