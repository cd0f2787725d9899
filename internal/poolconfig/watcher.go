package poolconfig

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// CredentialSet maps an authentication source database name to its
// credential, the hot-reloadable unit a running pool reconciles against
// (§4.4) without needing a restart.
type CredentialSet map[string]CredentialFile

func loadCredentialFile(path string) (CredentialSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("poolconfig: reading credential file: %w", err)
	}
	var creds CredentialSet
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("poolconfig: parsing credential file: %w", err)
	}
	return creds, nil
}

// CredentialWatcher watches a credentials file for changes and invokes a
// debounced callback with the reloaded set.
type CredentialWatcher struct {
	path     string
	callback func(CredentialSet)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewCredentialWatcher starts watching path for changes.
func NewCredentialWatcher(path string, callback func(CredentialSet)) (*CredentialWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("poolconfig: creating credential watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("poolconfig: watching credential file: %w", err)
	}

	cw := &CredentialWatcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *CredentialWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("credential watcher error", "err", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *CredentialWatcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	creds, err := loadCredentialFile(cw.path)
	if err != nil {
		slog.Warn("credential hot-reload failed", "path", cw.path, "err", err)
		return
	}
	slog.Info("credentials reloaded", "path", cw.path, "count", len(creds))
	cw.callback(creds)
}

// Stop stops the watcher.
func (cw *CredentialWatcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
