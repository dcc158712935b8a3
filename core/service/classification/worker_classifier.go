// Package classification implements the two-phase message classifier.
//
//	Phase 1: Rules   → sender domain, sender name, keyword density per user category
//	Phase 2: Model   → external scoring service, only when Phase 1 is not confident enough
//
// Phase 2 never lowers confidence and never produces a label outside the user's taxonomy.
package classification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Config is the two-phase policy.
type Config struct {
	Floor             float64 // Phase-1 floor, default 0.5
	RefineThreshold   float64 // escalate to Phase 2 below this, default 0.75
	FailureConfidence float64 // confidence when categories cannot be loaded, default 0.3
	FallbackCategory  string  // default "Other"
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Floor:             0.5,
		RefineThreshold:   0.75,
		FailureConfidence: 0.3,
		FallbackCategory:  "Other",
	}
}

// Classifier merges Phase 1 and Phase 2.
type Classifier struct {
	cache *CategoryCache
	rules *RuleClassifier
	ml    *MLClassifier // nil disables Phase 2
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewClassifier wires the phases together. ml may be nil.
func NewClassifier(cache *CategoryCache, ml *MLClassifier, cfg Config, log zerolog.Logger) *Classifier {
	def := DefaultConfig()
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.RefineThreshold <= 0 {
		cfg.RefineThreshold = def.RefineThreshold
	}
	if cfg.FailureConfidence <= 0 {
		cfg.FailureConfidence = def.FailureConfidence
	}
	if cfg.FallbackCategory == "" {
		cfg.FallbackCategory = def.FallbackCategory
	}
	return &Classifier{
		cache: cache,
		rules: NewRuleClassifier(RuleConfig{Floor: cfg.Floor, FallbackCategory: cfg.FallbackCategory}),
		ml:    ml,
		cfg:   cfg,
		log:   log.With().Str("component", "classifier").Logger(),
		now:   time.Now,
	}
}

// Cache exposes the category registry so callers can invalidate it.
func (c *Classifier) Cache() *CategoryCache {
	return c.cache
}

// FallbackCategory returns the configured fallback label.
func (c *Classifier) FallbackCategory() string {
	return c.cfg.FallbackCategory
}

// Classify always returns a record with a non-empty label. The error is set
// only when the user's categories could not be loaded; the record then
// carries the fallback label at the failure confidence.
func (c *Classifier) Classify(ctx context.Context, userID string, in *Input) (*domain.Classification, error) {
	snap, err := c.cache.Get(ctx, userID)
	if err != nil {
		err = fmt.Errorf("failed to load categories: %w", err)
		metrics.Classifications.WithLabelValues("1", domain.MethodFallback).Inc()
		fb := c.fallback(c.cfg.FailureConfidence)
		fb.Error = err.Error()
		return fb, err
	}
	return c.ClassifyWith(ctx, snap, in), nil
}

// fallback is a Phase-1 record on the fallback label.
func (c *Classifier) fallback(confidence float64) *domain.Classification {
	return &domain.Classification{
		Label:        c.cfg.FallbackCategory,
		Confidence:   confidence,
		Phase:        domain.PhaseRules,
		Method:       domain.MethodFallback,
		ClassifiedAt: c.now(),
	}
}

// ClassifyWith runs both phases against a loaded snapshot.
func (c *Classifier) ClassifyWith(ctx context.Context, snap *CategorySnapshot, in *Input) *domain.Classification {
	result := c.rules.ClassifyWith(snap, in)

	if c.ml != nil && result.Confidence < c.cfg.RefineThreshold {
		result = c.refine(ctx, snap, in, result)
	}

	metrics.Classifications.WithLabelValues(strconv.Itoa(result.Phase), result.Method).Inc()
	return result
}

func (c *Classifier) refine(ctx context.Context, snap *CategorySnapshot, in *Input, phase1 *domain.Classification) *domain.Classification {
	candidates := append(snap.Names(), c.cfg.FallbackCategory)

	phase2, err := c.ml.Refine(ctx, snap.UserID, in, candidates)
	if err != nil {
		c.log.Debug().Err(err).Str("user_id", snap.UserID).Msg("phase 2 unavailable, keeping phase 1")
		kept := *phase1
		kept.Error = err.Error()
		return &kept
	}

	label, ok := snap.Resolve(phase2.Label)
	if !ok && strings.EqualFold(phase2.Label, c.cfg.FallbackCategory) {
		label, ok = c.cfg.FallbackCategory, true
	}
	if !ok {
		c.log.Debug().Str("user_id", snap.UserID).Str("label", phase2.Label).Msg("phase 2 label outside taxonomy")
		return phase1
	}
	if phase2.Confidence <= phase1.Confidence {
		return phase1
	}

	phase2.Label = label
	return phase2
}
