package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parkslope/psp/internal/groupsio"
	"github.com/parkslope/psp/internal/models"
)

// scriptedSource replays responses in order and records every request.
type scriptedSource struct {
	mu        sync.Mutex
	responses []sourceResponse
	requests  []groupsio.PageRequest
	// onFetch runs after a request is recorded, before the response is returned.
	onFetch func(call int)
}

type sourceResponse struct {
	page *groupsio.Page
	err  error
}

func (s *scriptedSource) FetchPage(_ context.Context, req groupsio.PageRequest) (*groupsio.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	call := len(s.requests)
	if s.onFetch != nil {
		s.onFetch(call)
	}
	if call > len(s.responses) {
		return &groupsio.Page{}, nil
	}
	r := s.responses[call-1]
	return r.page, r.err
}

func (s *scriptedSource) tokens() []*int64 {
	var tokens []*int64
	for _, r := range s.requests {
		tokens = append(tokens, r.PageToken)
	}
	return tokens
}

// pageOf builds a page holding the given ids in the given order.
func pageOf(hasMore bool, next *int64, ids ...int64) *groupsio.Page {
	page := &groupsio.Page{TotalCount: 1000, HasMore: hasMore, NextPageToken: next}
	for _, id := range ids {
		page.Data = append(page.Data, groupsio.RawMessage{ID: id, TopicID: id, Subject: "subject", Name: "Someone"})
	}
	return page
}

func ok(page *groupsio.Page) sourceResponse {
	return sourceResponse{page: page}
}

func fail(err error) sourceResponse {
	return sourceResponse{err: err}
}

// memoryStore keeps messages and sync state in memory with the same commit semantics
// as the database store.
type memoryStore struct {
	mu       sync.Mutex
	messages map[int64]models.Message
	state    models.SyncState
	// inserts lists every id ever inserted, so duplicates would show up twice.
	inserts    []int64
	commits    int
	failCommit error
	lastFetch  *time.Time
}

func newMemoryStore(ids ...int64) *memoryStore {
	s := &memoryStore{messages: make(map[int64]models.Message)}
	for _, id := range ids {
		s.messages[id] = models.Message{ID: id}
	}
	return s
}

func (s *memoryStore) ExistingIDs(_ context.Context, ids []int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := s.messages[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (s *memoryStore) SyncState(context.Context) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	return &state, nil
}

func (s *memoryStore) BackfillToken(context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.BackfillPageToken == nil {
		return nil, nil
	}
	token := *s.state.BackfillPageToken
	return &token, nil
}

func (s *memoryStore) insertLocked(messages []models.Message) int {
	inserted := 0
	for _, m := range messages {
		if _, ok := s.messages[m.ID]; ok {
			continue
		}
		s.messages[m.ID] = m
		s.inserts = append(s.inserts, m.ID)
		inserted++
	}
	return inserted
}

func (s *memoryStore) InsertBatch(_ context.Context, messages []models.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		return 0, s.failCommit
	}
	s.commits++
	return s.insertLocked(messages), nil
}

func (s *memoryStore) CommitBackfillBatch(_ context.Context, messages []models.Message, progress models.BackfillProgress) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		return 0, s.failCommit
	}
	s.commits++
	inserted := s.insertLocked(messages)

	if progress.MaxID > 0 {
		if s.state.OldestMessageID == nil || progress.MinID < *s.state.OldestMessageID {
			minID := progress.MinID
			s.state.OldestMessageID = &minID
		}
		if s.state.NewestMessageID == nil || progress.MaxID > *s.state.NewestMessageID {
			maxID := progress.MaxID
			s.state.NewestMessageID = &maxID
		}
	}

	switch {
	case progress.Complete:
		now := time.Now()
		s.state.BackfillPageToken = nil
		s.state.BackfillCompletedAt = &now
	case progress.NextPageToken != nil:
		token := *progress.NextPageToken
		s.state.BackfillPageToken = &token
	}
	return inserted, nil
}

func (s *memoryStore) RecordForwardSync(_ context.Context, at time.Time, newestID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFetch = &at
	s.state.LastFetchAt = &at
	if newestID != nil && (s.state.NewestMessageID == nil || *newestID > *s.state.NewestMessageID) {
		id := *newestID
		s.state.NewestMessageID = &id
	}
	return nil
}

func (s *memoryStore) storedIDs() map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[int64]bool, len(s.messages))
	for id := range s.messages {
		ids[id] = true
	}
	return ids
}

// recordingSleep never blocks; it records requested durations and fails once ctx is done.
type recordingSleep struct {
	mu     sync.Mutex
	waits  []time.Duration
	onWait func(n int)
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	onWait := r.onWait
	r.mu.Unlock()

	if onWait != nil {
		onWait(n)
	}
	return ctx.Err()
}

var errBoom = errors.New("boom")

func ptr(v int64) *int64 {
	return &v
}
