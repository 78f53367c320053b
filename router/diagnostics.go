package router

import (
	"sync"

	"github.com/armon/circbuf"
	"github.com/sirupsen/logrus"
)

// DiagnosticsRingSize bounds the recent-errors buffer a RecentErrors hook
// keeps, in bytes.
const DiagnosticsRingSize = 64 * 1024

// recentErrorsHook is a logrus hook that tees every Warn/Error/Fatal/Panic
// entry's formatted text into a fixed-size ring buffer, so an operator or
// the admin API can retrieve "what went wrong recently" without scraping
// the full log stream.
type recentErrorsHook struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// newRecentErrorsHook allocates a ring of DiagnosticsRingSize bytes.
func newRecentErrorsHook() (*recentErrorsHook, error) {
	buf, err := circbuf.NewBuffer(DiagnosticsRingSize)
	if err != nil {
		return nil, err
	}
	return &recentErrorsHook{buf: buf}, nil
}

func (h *recentErrorsHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (h *recentErrorsHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.buf.Write([]byte(line))
	return err
}

// RecentErrors returns the tail of every Warn-or-worse log line emitted
// so far, oldest first, bounded by DiagnosticsRingSize bytes.
func (h *recentErrorsHook) RecentErrors() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.buf.Bytes())
}
