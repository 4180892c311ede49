package engine

import "sort"

// OrderHeap holds the pending orders of one scheduled account, bucketed by pair.
// A bucket exists only while it holds at least one record.
type OrderHeap struct {
	orders map[Pair][]*OrderRecord
	size   int
}

func NewOrderHeap() *OrderHeap {
	return &OrderHeap{orders: make(map[Pair][]*OrderRecord)}
}

func (h *OrderHeap) Push(rec *OrderRecord) {
	h.orders[rec.Pair] = append(h.orders[rec.Pair], rec)
	h.size++
}

// RemoveMatching deletes every record of the pair bucket structurally identical
// to rec and returns how many were removed.
func (h *OrderHeap) RemoveMatching(rec *OrderRecord) int {
	active, ok := h.orders[rec.Pair]
	if !ok {
		return 0
	}
	kept := make([]*OrderRecord, 0, len(active))
	for _, o := range active {
		if !o.Matches(rec) {
			kept = append(kept, o)
		}
	}
	removed := len(active) - len(kept)
	if len(kept) == 0 {
		delete(h.orders, rec.Pair)
	} else {
		h.orders[rec.Pair] = kept
	}
	h.size -= removed
	return removed
}

// Has reports whether any record is resident for the pair
func (h *OrderHeap) Has(p Pair) bool {
	return len(h.orders[p]) > 0
}

// Pairs returns the bucket keys in a stable order
func (h *OrderHeap) Pairs() []Pair {
	pairs := make([]Pair, 0, len(h.orders))
	for p := range h.orders {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)
	return pairs
}

// Snapshot copies the bucket so the caller can iterate while the heap changes
func (h *OrderHeap) Snapshot(p Pair) []*OrderRecord {
	active := h.orders[p]
	out := make([]*OrderRecord, len(active))
	copy(out, active)
	return out
}

// Records returns copies of every resident record
func (h *OrderHeap) Records() []OrderRecord {
	out := make([]OrderRecord, 0, h.size)
	for _, p := range h.Pairs() {
		for _, rec := range h.orders[p] {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func (h *OrderHeap) Len() int {
	return h.size
}

// LenPair returns the number of records resident for one pair
func (h *OrderHeap) LenPair(p Pair) int {
	return len(h.orders[p])
}

func (h *OrderHeap) Reset() {
	h.orders = make(map[Pair][]*OrderRecord)
	h.size = 0
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Base != pairs[j].Base {
			return pairs[i].Base < pairs[j].Base
		}
		return pairs[i].Quote < pairs[j].Quote
	})
}
