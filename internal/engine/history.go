package engine

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DecisionHistory keeps the most recent explanations per key. Entries are
// for explain only; the file store stays authoritative.
type DecisionHistory struct {
	mu     sync.Mutex
	perKey int
	cache  *lru.Cache[string, []Explanation]
}

// NewDecisionHistory bounds the history to maxKeys keys with perKey entries each
func NewDecisionHistory(maxKeys, perKey int) (*DecisionHistory, error) {
	if perKey <= 0 {
		perKey = 16
	}
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	cache, err := lru.New[string, []Explanation](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create decision history: %w", err)
	}
	return &DecisionHistory{perKey: perKey, cache: cache}, nil
}

// Record appends e as the newest entry for its key
func (h *DecisionHistory) Record(e Explanation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, _ := h.cache.Get(e.Key)
	next := make([]Explanation, 0, h.perKey)
	next = append(next, e)
	for _, p := range prev {
		if len(next) == h.perKey {
			break
		}
		next = append(next, p)
	}
	h.cache.Add(e.Key, next)
}

// Latest returns the newest explanation for key
func (h *DecisionHistory) Latest(key string) (Explanation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.cache.Get(key)
	if !ok || len(entries) == 0 {
		return Explanation{}, false
	}
	return entries[0], true
}

// History returns the retained explanations for key, newest first
func (h *DecisionHistory) History(key string) []Explanation {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, _ := h.cache.Get(key)
	return append([]Explanation(nil), entries...)
}

// Len returns the number of keys with history
func (h *DecisionHistory) Len() int {
	return h.cache.Len()
}
