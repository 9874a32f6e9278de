package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// Watcher monitors an env file for changes and invokes a callback with the
// parsed contents. It is used to pick up log level changes without a
// restart.
type Watcher struct {
	envPath  string
	onChange func(map[string]string)

	mu       sync.Mutex
	lastSeen map[string]string

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	doneWG   sync.WaitGroup
}

// NewWatcher creates a watcher for the env file at envPath. onChange is
// invoked with the full parsed file whenever the contents change.
func NewWatcher(envPath string, onChange func(map[string]string)) *Watcher {
	return &Watcher{
		envPath:  envPath,
		onChange: onChange,
		stopChan: make(chan struct{}),
	}
}

// Start begins watching. The fsnotify watch is placed on the parent
// directory so editors that replace the file (rename-over) are still seen;
// a slow polling loop backstops platforms where fsnotify misses events.
func (w *Watcher) Start() error {
	if current, err := godotenv.Read(w.envPath); err == nil {
		w.mu.Lock()
		w.lastSeen = current
		w.mu.Unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	dir := filepath.Dir(w.envPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	w.doneWG.Add(2)
	go w.watchLoop()
	go w.pollLoop()

	log.Info().Str("path", w.envPath).Msg("Watching env file for changes")
	return nil
}

// Stop terminates the watch loops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	w.doneWG.Wait()
}

func (w *Watcher) watchLoop() {
	defer w.doneWG.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Env file watcher error")
		case <-w.stopChan:
			return
		}
	}
}

// pollLoop re-reads the file every few seconds as a fallback for
// filesystems where fsnotify events are unreliable (NFS, some containers).
func (w *Watcher) pollLoop() {
	defer w.doneWG.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.reload()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	if _, err := os.Stat(w.envPath); err != nil {
		return
	}

	current, err := godotenv.Read(w.envPath)
	if err != nil {
		log.Warn().Err(err).Str("path", w.envPath).Msg("Failed to parse env file")
		return
	}

	w.mu.Lock()
	changed := diffEnv(w.lastSeen, current)
	if len(changed) > 0 {
		w.lastSeen = current
	}
	w.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	log.Info().Strs("keys", changed).Msg("Env file changed, applying new values")
	if w.onChange != nil {
		w.onChange(current)
	}
}

// diffEnv returns the keys whose values differ between two env snapshots,
// including keys present in only one of them.
func diffEnv(old, new map[string]string) []string {
	var changed []string
	for k, v := range new {
		if prev, ok := old[k]; !ok || prev != v {
			changed = append(changed, k)
		}
	}
	for k := range old {
		if _, ok := new[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}
