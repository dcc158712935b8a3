// Package memory provides in-process store implementations.
// They back local development when no database is configured and serve as
// the store fakes in service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/google/uuid"
)

// MessageStore implements out.MessageRepository.
type MessageStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Message
	identity map[domain.MessageIdentity]string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:     make(map[string]*domain.Message),
		identity: make(map[domain.MessageIdentity]string),
	}
}

var _ out.MessageRepository = (*MessageStore)(nil)

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.Classification != nil {
		c := *m.Classification
		cp.Classification = &c
	}
	return &cp
}

func (s *MessageStore) Upsert(ctx context.Context, msg *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.identity[msg.Identity()]; ok {
		existing := s.byID[id]
		existing.ThreadID = msg.ThreadID
		existing.Subject = msg.Subject
		existing.Sender = msg.Sender
		existing.SenderName = msg.SenderName
		existing.Recipient = msg.Recipient
		existing.Timestamp = msg.Timestamp
		existing.Snippet = msg.Snippet
		existing.Body = msg.Body
		existing.BodyType = msg.BodyType
		existing.ContentLoaded = msg.ContentLoaded
		existing.ContentLoadedAt = msg.ContentLoadedAt
		existing.UpdatedAt = now
		msg.ID = existing.ID
		return false, nil
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.RefinementStatus == "" {
		msg.RefinementStatus = domain.RefinementPending
	}
	if msg.AnalysisDepth == "" {
		msg.AnalysisDepth = domain.AnalysisBasic
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.byID[msg.ID] = cloneMessage(msg)
	s.identity[msg.Identity()] = msg.ID
	return true, nil
}

func (s *MessageStore) GetByID(ctx context.Context, userID, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok || m.UserID != userID {
		return nil, out.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MessageStore) FindSettled(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settled := make(map[string]bool)
	for _, pid := range providerIDs {
		id, ok := s.identity[domain.MessageIdentity{UserID: userID, Provider: provider, ProviderMessageID: pid}]
		if !ok {
			continue
		}
		m := s.byID[id]
		if m.ContentLoaded || m.AnalysisDepth == domain.AnalysisComprehensive {
			settled[pid] = true
		}
	}
	return settled, nil
}

func matches(m *domain.Message, f *domain.MessageFilter) bool {
	if m.UserID != f.UserID {
		return false
	}
	if f.Label != "" && m.Label != f.Label {
		return false
	}
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	return true
}

func (s *MessageStore) Count(ctx context.Context, filter *domain.MessageFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.byID {
		if matches(m, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) ListBatch(ctx context.Context, filter *domain.MessageFilter, afterID string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Message
	for _, m := range s.byID {
		if matches(m, filter) && m.ID > afterID {
			result = append(result, cloneMessage(m))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MessageStore) ListForRefinement(ctx context.Context, userID string, exclude []string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var result []*domain.Message
	for _, m := range s.byID {
		if m.UserID != userID || m.AnalysisDepth != domain.AnalysisBasic || m.RefinementStatus == domain.RefinementRefined {
			continue
		}
		if _, ok := skip[m.ID]; ok {
			continue
		}
		result = append(result, cloneMessage(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MessageStore) UpdateClassification(ctx context.Context, userID, id string, upd *domain.ClassificationUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.UserID != userID {
		return false, out.ErrNotFound
	}
	if m.Label != upd.ExpectedLabel {
		return false, nil
	}

	m.Label = upd.Label
	if upd.Classification != nil {
		c := *upd.Classification
		m.Classification = &c
	}
	if upd.PreviousLabel != "" {
		m.PreviousLabel = upd.PreviousLabel
	}
	if upd.RefinementStatus != "" {
		m.RefinementStatus = upd.RefinementStatus
	}
	if upd.AnalysisDepth != "" {
		m.AnalysisDepth = upd.AnalysisDepth
	}
	if upd.ClearBody {
		m.ClearBody()
	}
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *MessageStore) CountByLabel(ctx context.Context, userID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, m := range s.byID {
		if m.UserID == userID {
			counts[m.Label]++
		}
	}
	return counts, nil
}

func (s *MessageStore) DeleteByProvider(ctx context.Context, userID string, provider domain.Provider) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.byID {
		if m.UserID == userID && m.Provider == provider {
			s.remove(id)
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) DeleteByProviderIDs(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, pid := range providerIDs {
		key := domain.MessageIdentity{UserID: userID, Provider: provider, ProviderMessageID: pid}
		if id, ok := s.identity[key]; ok {
			s.remove(id)
			n++
		}
	}
	return n, nil
}

// remove expects s.mu held for writing.
func (s *MessageStore) remove(id string) {
	if m, ok := s.byID[id]; ok {
		delete(s.identity, m.Identity())
		delete(s.byID, id)
	}
}

// relabel moves every message of userID labeled from to to. When keepPrevious
// is set, from is recorded as the previous label. Callers hold their own lock
// across the category write and this call.
func (s *MessageStore) relabel(userID, from, to string, keepPrevious bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, m := range s.byID {
		if m.UserID != userID {
			continue
		}
		if !keepPrevious && m.PreviousLabel == from {
			m.PreviousLabel = to
		}
		if m.Label != from {
			continue
		}
		m.Label = to
		if m.Classification != nil {
			m.Classification.Label = to
		}
		if keepPrevious {
			m.PreviousLabel = from
			if m.Classification != nil {
				m.Classification.Method = domain.MethodFallback
			}
		}
		m.UpdatedAt = now
		n++
	}
	return n
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
