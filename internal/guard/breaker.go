package guard

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Breaker is the shared circuit-breaker marker: a filesystem timestamp
// visible to all sibling worker processes. A marker younger than the
// cooldown window means "fail fast, the server is unresponsive"; absence
// or staleness means "attempt connect normally".
type Breaker struct {
	path     string
	cooldown time.Duration
}

// NewBreaker creates a breaker backed by the marker file at path.
func NewBreaker(path string, cooldown time.Duration) *Breaker {
	return &Breaker{path: path, cooldown: cooldown}
}

// Check reports whether the breaker is tripped and, if so, how long until
// the cooldown expires. A stale marker is cleared as a side effect so the
// next check starts clean.
func (b *Breaker) Check() (tripped bool, remaining time.Duration) {
	info, err := os.Stat(b.path)
	if err != nil {
		return false, 0
	}
	age := time.Since(info.ModTime())
	if age < b.cooldown {
		return true, b.cooldown - age
	}
	log.Debugf("[Guard] Check: clearing stale breaker marker (age=%v)", age)
	b.Clear()
	return false, 0
}

// Trip writes the marker, telling every sibling process to fail fast for
// the cooldown window.
func (b *Breaker) Trip() {
	now := time.Now()
	if err := os.WriteFile(b.path, []byte(now.Format(time.RFC3339)+"\n"), 0600); err != nil {
		log.Warnf("[Guard] Trip: failed to write breaker marker: %v", err)
		return
	}
	// WriteFile preserves an existing file's mtime semantics; force it so
	// repeated trips always restart the window.
	if err := os.Chtimes(b.path, now, now); err != nil {
		log.Warnf("[Guard] Trip: failed to touch breaker marker: %v", err)
	}
	log.Infof("[Guard] Trip: breaker tripped for %v", b.cooldown)
}

// Clear removes the marker. Safe to call when absent.
func (b *Breaker) Clear() {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		log.Warnf("[Guard] Clear: %v", err)
	}
}
