package cache

import (
	"sync"
	"time"

	"budgetplanner/internal/core"
)

// SummaryCache holds computed month summaries per user. Any mutation of a
// month must call Invalidate for it.
//
// Readers take a token with Begin before computing a summary and store it
// with Put. A Put is dropped when any invalidation happened after its token
// was taken, so a summary computed before a write never outlives the write.
type SummaryCache struct {
	mu  sync.Mutex
	gen uint64
	lru *LRUCache[core.MonthSummary]
}

func NewSummaryCache(maxSize int, ttl time.Duration) *SummaryCache {
	return &SummaryCache{lru: NewLRUCache[core.MonthSummary](maxSize, ttl)}
}

func summaryKey(userID string, month core.MonthKey) string {
	return userID + "|" + string(month)
}

func (s *SummaryCache) Get(userID string, month core.MonthKey) (core.MonthSummary, bool) {
	return s.lru.Get(summaryKey(userID, month))
}

// Begin returns the token to pass to Put for a summary about to be computed.
func (s *SummaryCache) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Put stores summary and reports whether it was kept.
func (s *SummaryCache) Put(token uint64, userID string, month core.MonthKey, summary core.MonthSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.gen {
		return false
	}
	s.lru.Set(summaryKey(userID, month), summary)
	return true
}

func (s *SummaryCache) Invalidate(userID string, month core.MonthKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.lru.Delete(summaryKey(userID, month))
}

func (s *SummaryCache) CleanExpired() int { return s.lru.CleanExpired() }

func (s *SummaryCache) Size() int { return s.lru.Size() }
