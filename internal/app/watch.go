package app

import (
	"sync"

	"escape-progression-service/internal/domain"
)

// standingsHub fans standings snapshots out to subscribers.
type standingsHub struct {
	mu          sync.Mutex
	subscribers map[chan domain.Standings]struct{}
}

func newStandingsHub() *standingsHub {
	return &standingsHub{subscribers: make(map[chan domain.Standings]struct{})}
}

func (h *standingsHub) subscribe() (<-chan domain.Standings, func()) {
	ch := make(chan domain.Standings, 8)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *standingsHub) broadcast(st domain.Standings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- st:
		default:
			// Drop the stale snapshot so a slow watcher never blocks the
			// commit path; only the newest standings matter.
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}
