// Package monitor provides observers for the clacks service: a bounded
// display log of recent traffic, a structured-logging observer and a
// WebSocket feed streaming packets as JSON.
package monitor

import (
	"strings"
	"sync"

	"github.com/arloliu/go-clacks/internal/queue"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/packet"
)

// DefaultDisplayLines is the display log capacity used for non-positive sizes.
const DefaultDisplayLines = 500

// DisplayLog keeps the most recent observed packets as display lines,
// oldest first. It is safe for concurrent use.
type DisplayLog struct {
	mu    sync.Mutex
	lines queue.Queue[string]
}

// NewDisplayLog creates a display log holding at most maxLines lines.
func NewDisplayLog(maxLines int) *DisplayLog {
	if maxLines <= 0 {
		maxLines = DefaultDisplayLines
	}

	return &DisplayLog{lines: queue.NewBoundedQueue[string](maxLines)}
}

// Observe appends p as one display line per text line.
func (d *DisplayLog) Observe(p packet.Packet) {
	text := strings.TrimRight(p.String(), "\r\n")

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		d.lines.Enqueue(line)
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (d *DisplayLog) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lines.Items()
}

// Text returns the buffered lines joined by newlines.
func (d *DisplayLog) Text() string {
	return strings.Join(d.Lines(), "\n")
}

// Len returns the number of buffered lines.
func (d *DisplayLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lines.Length()
}

// Clear drops every buffered line.
func (d *DisplayLog) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lines.Reset()
}

// LogObserver writes observed packets to a logger. Error status packets
// are logged at warn level, device text at info, everything else at debug.
type LogObserver struct {
	logger logger.Logger
}

// NewLogObserver creates a LogObserver writing to l.
func NewLogObserver(l logger.Logger) *LogObserver {
	return &LogObserver{logger: l}
}

// Observe logs p.
func (o *LogObserver) Observe(p packet.Packet) {
	switch {
	case p.Kind == packet.KindStatus && p.Level == packet.LevelError:
		o.logger.Warn("monitor: device status", "level", p.Level, "text", p.Body)
	case p.Kind == packet.KindStatus:
		o.logger.Debug("monitor: device status", "level", p.Level, "text", p.Body)
	case p.Kind == packet.KindDeviceText:
		o.logger.Info("monitor: device text", "line", p.Body)
	default:
		o.logger.Debug("monitor: packet", "kind", p.Kind, "id", p.FullID, "body", p.Body)
	}
}
