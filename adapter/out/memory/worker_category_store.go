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

// CategoryStore implements out.CategoryRepository. Rename and Delete cascade
// into the attached MessageStore while holding the category lock; GuardLabel
// holds the read side of the same lock.
type CategoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Category
	messages *MessageStore
}

func NewCategoryStore(messages *MessageStore) *CategoryStore {
	return &CategoryStore{
		byID:     make(map[string]*domain.Category),
		messages: messages,
	}
}

var _ out.CategoryRepository = (*CategoryStore)(nil)

func (s *CategoryStore) list(userID string, activeOnly bool) []*domain.Category {
	var result []*domain.Category
	for _, c := range s.byID {
		if c.UserID != userID || (activeOnly && !c.Active) {
			continue
		}
		result = append(result, c.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *CategoryStore) List(ctx context.Context, userID string) ([]*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(userID, false), nil
}

func (s *CategoryStore) ListActive(ctx context.Context, userID string) ([]*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(userID, true), nil
}

func (s *CategoryStore) GetByID(ctx context.Context, userID, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return nil, out.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *CategoryStore) GetByName(ctx context.Context, userID, name string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.byName(userID, name); c != nil {
		return c.Clone(), nil
	}
	return nil, out.ErrNotFound
}

// byName expects s.mu held.
func (s *CategoryStore) byName(userID, name string) *domain.Category {
	for _, c := range s.byID {
		if c.UserID == userID && c.Name == name {
			return c
		}
	}
	return nil
}

func (s *CategoryStore) Create(ctx context.Context, category *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byName(category.UserID, category.Name) != nil {
		return out.ErrDuplicate
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	now := time.Now()
	category.CreatedAt = now
	category.UpdatedAt = now
	s.byID[category.ID] = category.Clone()
	return nil
}

func (s *CategoryStore) Update(ctx context.Context, category *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[category.ID]
	if !ok || existing.UserID != category.UserID {
		return out.ErrNotFound
	}
	updated := category.Clone()
	updated.Name = existing.Name
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	s.byID[category.ID] = updated
	return nil
}

func (s *CategoryStore) Rename(ctx context.Context, userID, id, newName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return 0, out.ErrNotFound
	}
	if c.Name == newName {
		return 0, nil
	}
	if s.byName(userID, newName) != nil {
		return 0, out.ErrDuplicate
	}

	oldName := c.Name
	c.Name = newName
	c.UpdatedAt = time.Now()

	var n int64
	if s.messages != nil {
		n = s.messages.relabel(userID, oldName, newName, false)
	}
	return n, nil
}

func (s *CategoryStore) Delete(ctx context.Context, userID, id, reassignTo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return 0, out.ErrNotFound
	}
	delete(s.byID, id)

	var n int64
	if s.messages != nil && reassignTo != "" && reassignTo != c.Name {
		n = s.messages.relabel(userID, c.Name, reassignTo, true)
	}
	return n, nil
}

// GuardLabel keeps Rename and Delete out while write runs.
func (s *CategoryStore) GuardLabel(ctx context.Context, userID, label string, write func(ctx context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.byName(userID, label); c == nil || !c.Active {
		return out.ErrLabelGone
	}
	return write(ctx)
}
