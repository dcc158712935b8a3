// Package category manages user-scoped category taxonomies.
package category

import (
	"context"
	"errors"
	"strings"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/apperr"

	"github.com/rs/zerolog"
)

// Config controls cascade behaviour.
type Config struct {
	FallbackCategory string
	AutoReclassify   bool
}

// Service implements in.CategoryService.
type Service struct {
	repo   out.CategoryRepository
	cache  *classification.CategoryCache
	ml     out.MLScorer         // optional
	jobs   in.ReclassifyService // optional
	events out.EventPublisher
	cfg    Config
	log    zerolog.Logger
}

var _ in.CategoryService = (*Service)(nil)

// NewService creates the category service. ml and jobs may be nil.
func NewService(
	repo out.CategoryRepository,
	cache *classification.CategoryCache,
	ml out.MLScorer,
	jobs in.ReclassifyService,
	events out.EventPublisher,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if cfg.FallbackCategory == "" {
		cfg.FallbackCategory = "Other"
	}
	if events == nil {
		events = out.NopPublisher{}
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		ml:     ml,
		jobs:   jobs,
		events: events,
		cfg:    cfg,
		log:    log.With().Str("component", "category_service").Logger(),
	}
}

// =============================================================================
// Queries
// =============================================================================

func (s *Service) List(ctx context.Context, userID string) ([]*domain.Category, error) {
	categories, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, apperr.DatabaseError("list categories", err)
	}
	return categories, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Category, error) {
	c, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, storeError("get category", err)
	}
	return c, nil
}

// =============================================================================
// Mutations
// =============================================================================

func (s *Service) Create(ctx context.Context, userID string, req *in.CreateCategoryRequest) (*domain.Category, error) {
	c := &domain.Category{
		UserID:         userID,
		Name:           req.Name,
		Priority:       req.Priority,
		Domains:        req.Domains,
		SenderPatterns: req.SenderPatterns,
		Keywords:       req.Keywords,
		Active:         true,
		TrainingStatus: domain.TrainingPending,
	}
	c.Normalize()
	if c.Name == "" {
		return nil, apperr.MissingField("name")
	}
	if !c.Priority.Valid() {
		return nil, apperr.InvalidInput("priority", "must be high, normal or low")
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, storeError("create category", err)
	}

	s.afterMutation(ctx, c, "created", 0)
	return c, nil
}

// Update applies a partial change. A name change is cascaded to messages
// atomically by the store; pattern changes may start a reclassification job.
func (s *Service) Update(ctx context.Context, userID, id string, patch *domain.CategoryPatch) (*in.CategoryUpdateResult, error) {
	existing, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, storeError("get category", err)
	}

	result := &in.CategoryUpdateResult{}
	updated := existing.Clone()

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.InvalidInput("name", "must not be empty")
		}
		if name != existing.Name {
			n, err := s.repo.Rename(ctx, userID, id, name)
			if err != nil {
				return nil, storeError("rename category", err)
			}
			result.Relabeled = n
			updated.Name = name
			s.log.Info().
				Str("user_id", userID).
				Str("from", existing.Name).
				Str("to", name).
				Int64("relabeled", n).
				Msg("category renamed")
		}
	}

	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return nil, apperr.InvalidInput("priority", "must be high, normal or low")
		}
		updated.Priority = *patch.Priority
	}
	if patch.Domains != nil {
		updated.Domains = patch.Domains
	}
	if patch.SenderPatterns != nil {
		updated.SenderPatterns = patch.SenderPatterns
	}
	if patch.Keywords != nil {
		updated.Keywords = patch.Keywords
	}
	if patch.Active != nil {
		updated.Active = *patch.Active
	}
	updated.Normalize()

	patternsChanged := !existing.SamePatterns(updated) || existing.Active != updated.Active
	if patternsChanged || existing.Priority != updated.Priority {
		updated.TrainingStatus = domain.TrainingPending
		if err := s.repo.Update(ctx, updated); err != nil {
			return nil, storeError("update category", err)
		}
	}

	s.afterMutation(ctx, updated, "updated", result.Relabeled)
	result.Category = updated

	if patternsChanged && s.cfg.AutoReclassify && s.jobs != nil {
		job, err := s.jobs.Start(ctx, userID, domain.ReclassifyScope{Label: updated.Name})
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Str("category", updated.Name).Msg("auto reclassification not started")
		} else {
			result.Job = job
		}
	}
	return result, nil
}

// Delete removes the category and moves its messages to the fallback label.
func (s *Service) Delete(ctx context.Context, userID, id string) (int64, error) {
	existing, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return 0, storeError("get category", err)
	}

	n, err := s.repo.Delete(ctx, userID, id, s.cfg.FallbackCategory)
	if err != nil {
		return 0, storeError("delete category", err)
	}

	existing.Active = false
	s.afterMutation(ctx, existing, "deleted", n)
	return n, nil
}

// afterMutation invalidates the Phase-1 cache, pushes patterns to the ML
// service and notifies the user. Only the invalidation is required to succeed.
func (s *Service) afterMutation(ctx context.Context, c *domain.Category, action string, relabeled int64) {
	s.cache.Invalidate(ctx, c.UserID)

	if s.ml != nil {
		status := domain.TrainingSynced
		if err := s.ml.SyncCategory(ctx, c.UserID, c); err != nil {
			status = domain.TrainingFailed
			s.log.Warn().Err(err).Str("user_id", c.UserID).Str("category", c.Name).Msg("category sync to ml service failed")
		}
		if action != "deleted" {
			c.TrainingStatus = status
			if err := s.repo.Update(ctx, c); err != nil {
				s.log.Warn().Err(err).Str("category_id", c.ID).Msg("failed to record training status")
			}
		}
	}

	s.events.Publish(ctx, domain.NewEvent(c.UserID, domain.EventCategoryChanged, &domain.CategoryChangedData{
		CategoryID: c.ID,
		Name:       c.Name,
		Action:     action,
		Relabeled:  relabeled,
	}))
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, out.ErrNotFound):
		return apperr.NotFound("category")
	case errors.Is(err, out.ErrDuplicate):
		return apperr.AlreadyExists("category")
	default:
		return apperr.DatabaseError(op, err)
	}
}
