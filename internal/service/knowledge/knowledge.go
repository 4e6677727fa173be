// Package knowledge holds the static system preamble prepended to every
// completion call. Document ingestion happens outside this service; here
// the text is read from a file and kept hot-reloadable.
package knowledge

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// FallbackContent is used until a knowledge base is loaded successfully.
const FallbackContent = "Anda adalah asisten AI dasar. Knowledge base belum dimuat atau gagal dimuat."

// Base serves the current knowledge-base text.
type Base struct {
	mu      sync.RWMutex
	path    string
	content string
	loaded  bool
}

// NewBase creates a base reading from path. An empty path leaves the
// fallback text in place.
func NewBase(path string) *Base {
	b := &Base{path: path, content: FallbackContent}
	if path == "" {
		log.Println("[knowledge] no knowledge base configured, using fallback text")
		return b
	}
	if err := b.Refresh(); err != nil {
		log.Printf("[knowledge] initial load failed: %v", err)
	}
	return b
}

// Content returns the current knowledge-base text.
func (b *Base) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content
}

// Loaded reports whether a real knowledge base replaced the fallback.
func (b *Base) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// Refresh re-reads the knowledge base from disk. On failure the previous
// content stays in place.
func (b *Base) Refresh() error {
	if b.path == "" {
		return fmt.Errorf("no knowledge base path configured")
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("read knowledge base: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Errorf("knowledge base %s is empty", b.path)
	}

	b.mu.Lock()
	b.content = text
	b.loaded = true
	b.mu.Unlock()

	log.Printf("[knowledge] loaded %d bytes from %s", len(text), b.path)
	return nil
}
