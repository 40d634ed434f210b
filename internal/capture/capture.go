// Package capture records raw webhook payloads and their canonical form to disk
// so they can be replayed as parser fixtures.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	sessionID  = time.Now().Format("20060102-150405")
	captureSeq uint64
)

var captureEnabled atomic.Bool

// envCaptureDir overrides the capture root
const envCaptureDir = "LEADPILOT_CAPTURE_DIR"

const defaultCaptureDir = "captures"

var (
	dirMu   sync.RWMutex
	rootDir string
)

// Enabled reports whether capture is currently active
func Enabled() bool {
	return captureEnabled.Load()
}

// Enable turns capture on, writing below dir (or the env/default root when empty)
func Enable(dir string) {
	dirMu.Lock()
	rootDir = dir
	dirMu.Unlock()
	captureEnabled.Store(true)
}

func Disable() {
	captureEnabled.Store(false)
}

func captureRoot() string {
	dirMu.RLock()
	defer dirMu.RUnlock()
	if rootDir != "" {
		return rootDir
	}
	if dir := os.Getenv(envCaptureDir); dir != "" {
		return dir
	}
	return defaultCaptureDir
}

func writeFile(namespace, category, ext string, data []byte) {
	seq := atomic.AddUint64(&captureSeq, 1)
	sessionDir := filepath.Join(captureRoot(), namespace, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", sessionDir).Msg("capture: cannot create directory")
		return
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: write failed")
		return
	}
	log.Debug().Str("path", path).Msg("capture: wrote fixture")
}

// WriteJSON stores payload as indented JSON under <root>/<namespace>/<session>/
func WriteJSON(namespace, category string, payload any) {
	if !Enabled() {
		return
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("category", category).Msg("capture: marshal failed")
		return
	}
	writeFile(namespace, category, "json", data)
}

// WriteBlob stores raw bytes with the given extension
func WriteBlob(namespace, category, ext string, data []byte) {
	if !Enabled() {
		return
	}
	writeFile(namespace, category, ext, data)
}
