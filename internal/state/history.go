// Package state is the central, authoritative device-state mirror:
// every resolved value update lands here, is diffed against the prior
// value, and on change is appended to a bounded per-device history ring
// and published to the subscription broadcast bus.
package state

import (
	"container/list"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// history is a bounded, append-only ring of ChangeRecords for one
// device, backed by a doubly-linked list so both append and
// eviction-of-oldest are O(1).
//
// Follows an LRU (container/list + map) shape, repurposed here for
// "append, then evict-oldest-past-capacity" instead of
// "move-to-front-on-touch".
type history struct {
	records  *list.List
	capacity int
}

func newHistory(capacity int) *history {
	return &history{records: list.New(), capacity: capacity}
}

func (h *history) append(rec domain.ChangeRecord) {
	h.records.PushBack(rec)
	for h.records.Len() > h.capacity {
		h.records.Remove(h.records.Front())
	}
}

// recent returns up to limit most-recent records, newest first. limit
// <= 0 returns the entire ring.
func (h *history) recent(limit int) []domain.ChangeRecord {
	n := h.records.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ChangeRecord, 0, n)
	for e := h.records.Back(); e != nil && len(out) < n; e = e.Prev() {
		out = append(out, e.Value.(domain.ChangeRecord))
	}
	return out
}

func (h *history) len() int {
	return h.records.Len()
}
