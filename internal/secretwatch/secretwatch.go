// Package secretwatch hot-reloads the shared secret from a file on
// disk, so an operator can rotate the secret without restarting the
// server. It is grounded on this codebase's own config-file watcher:
// the same fsnotify debounce-and-reload idiom, retargeted from
// "reload the whole config" to "reload one secret string".
package secretwatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"rembash.dev/rembash/internal/secretstore"
)

const debounce = 250 * time.Millisecond

// Watch starts a background goroutine that watches path and calls
// verifier.SetPlain with its contents whenever the file changes.
// Watching stops when stop is closed. A file that cannot be watched
// when Watch is called (for example because it does not exist) is
// logged but not fatal: no watch is set up, later creation of the file
// is not observed, and the secret the verifier already holds stays in
// effect.
func Watch(path string, verifier *secretstore.Verifier, log *slog.Logger, stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("secretwatch: failed to create watcher", "error", err)
		return
	}

	if err := watcher.Add(path); err != nil {
		log.Warn("secretwatch: failed to watch secret file", "path", path, "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer

		reload := func() {
			secret, err := secretstore.ReadSecretFile(path)
			if err != nil {
				log.Warn("secretwatch: reload failed", "error", err)
				return
			}
			verifier.SetPlain(secret)
			log.Info("secretwatch: reloaded shared secret", "path", path)
		}

		for {
			select {
			case <-stop:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				// Editors that write atomically remove the original
				// path from the watch list; re-add it so future
				// changes are still observed.
				if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					watcher.Remove(path)
					if err := watcher.Add(path); err != nil {
						log.Debug("secretwatch: re-add watch failed", "error", err)
					}
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("secretwatch: watcher error", "error", err)
			}
		}
	}()
}
