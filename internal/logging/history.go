package logging

import (
	"container/ring"
	"sync"
)

// HistorySize is the number of log lines kept in memory.
const HistorySize = 500

var (
	historyOnce sync.Once
	historyBuf  *lineHistory
)

// lineHistory keeps the most recent log lines for diagnostics bundles.
type lineHistory struct {
	mu     sync.Mutex
	buffer *ring.Ring
}

func history() *lineHistory {
	historyOnce.Do(func() {
		historyBuf = &lineHistory{buffer: ring.New(HistorySize)}
	})
	return historyBuf
}

func (h *lineHistory) Write(p []byte) (int, error) {
	line := string(p)
	h.mu.Lock()
	h.buffer.Value = line
	h.buffer = h.buffer.Next()
	h.mu.Unlock()
	return len(p), nil
}

func (h *lineHistory) lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, HistorySize)
	h.buffer.Do(func(v any) {
		if v != nil {
			out = append(out, v.(string))
		}
	})
	return out
}

// Recent returns up to HistorySize of the latest log lines, oldest first.
func Recent() []string {
	return history().lines()
}
