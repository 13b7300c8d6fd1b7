package bot

import (
	"context"
	"sync"
)

// CancelSet tracks one cancellable task per chat so /cancel can stop
// long-running work such as the monitor loop. Registering a new task
// for a chat cancels the previous one.
type CancelSet struct {
	mu sync.Mutex
	m  map[int64]*cancelEntry
}

type cancelEntry struct {
	cancel context.CancelFunc
}

// NewCancelSet creates an empty set.
func NewCancelSet() *CancelSet {
	return &CancelSet{m: make(map[int64]*cancelEntry)}
}

// Register derives a cancellable context for a task in chatID and
// stores its cancel function. The returned cancel must be called when
// the task finishes; it also removes the entry.
func (s *CancelSet) Register(ctx context.Context, chatID int64) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(ctx)
	entry := &cancelEntry{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.m[chatID]; ok {
		prev.cancel()
	}
	s.m[chatID] = entry
	s.mu.Unlock()

	return tctx, func() {
		s.mu.Lock()
		// Only remove our own entry; a newer task may have replaced it.
		if s.m[chatID] == entry {
			delete(s.m, chatID)
		}
		s.mu.Unlock()
		cancel()
	}
}

// Cancel stops the running task for chatID, reporting whether one was
// found.
func (s *CancelSet) Cancel(chatID int64) bool {
	s.mu.Lock()
	entry, ok := s.m[chatID]
	if ok {
		delete(s.m, chatID)
	}
	s.mu.Unlock()

	if ok {
		entry.cancel()
	}
	return ok
}

// Len reports how many tasks are currently registered.
func (s *CancelSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
