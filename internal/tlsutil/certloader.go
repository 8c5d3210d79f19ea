// Package tlsutil serves the ops endpoints' TLS certificate and swaps it in
// place when the files on disk change, so certificate renewal never requires
// a daemon restart.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertLoader holds the current certificate pair and watches for rotation.
// GetCertificate plugs into tls.Config.GetCertificate.
type CertLoader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// New loads the initial certificate and starts watching for changes.
// Returns an error if the initial load fails.
func New(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	if err := cl.load(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// Watch the parent directories rather than the files themselves.
	// Rotation usually replaces the files (or the symlinked directory
	// behind them, as secret mounts do), which silently drops a per-file
	// watch after the first swap.
	for _, dir := range watchDirs(certFile, keyFile) {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	cl.watcher = watcher
	go cl.watchLoop()

	logger.Info("serving TLS certificate, watching for rotation",
		"cert_file", certFile, "key_file", keyFile)

	return cl, nil
}

// watchDirs returns the distinct parent directories of the given paths.
func watchDirs(paths ...string) []string {
	seen := make(map[string]bool, len(paths))
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// GetCertificate is the tls.Config.GetCertificate callback. It runs on
// every handshake and must stay cheap.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// Reload swaps in the certificate pair currently on disk. A failed load
// keeps the previous certificate so handshakes continue during a partial
// rotation; the next file event retries.
func (cl *CertLoader) Reload() error {
	if err := cl.load(); err != nil {
		cl.logger.Error("certificate reload failed, keeping current",
			"error", err, "cert_file", cl.certFile, "key_file", cl.keyFile)
		return err
	}
	cl.logger.Info("certificate rotated", "cert_file", cl.certFile)
	return nil
}

// Stop terminates the file watcher.
func (cl *CertLoader) Stop() {
	close(cl.stopCh)
	if cl.watcher != nil {
		cl.watcher.Close()
	}
}

func (cl *CertLoader) load() error {
	cert, err := tls.LoadX509KeyPair(cl.certFile, cl.keyFile)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.cert = &cert
	cl.mu.Unlock()
	return nil
}

func (cl *CertLoader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			if !cl.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			// Rotation touches both files; one debounced reload picks up
			// the finished pair.
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				cl.Reload() //nolint:errcheck
			})
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("certificate watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// relevant reports whether a watched-directory event concerns one of the
// certificate files.
func (cl *CertLoader) relevant(name string) bool {
	clean := filepath.Clean(name)
	return clean == filepath.Clean(cl.certFile) || clean == filepath.Clean(cl.keyFile)
}
