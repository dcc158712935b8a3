package domain

import (
	"strings"
	"time"
)

// CategoryPriority breaks confidence ties between categories.
type CategoryPriority string

const (
	CategoryPriorityHigh   CategoryPriority = "high"
	CategoryPriorityNormal CategoryPriority = "normal"
	CategoryPriorityLow    CategoryPriority = "low"
)

// Rank orders priorities; higher wins.
func (p CategoryPriority) Rank() int {
	switch p {
	case CategoryPriorityHigh:
		return 3
	case CategoryPriorityNormal:
		return 2
	case CategoryPriorityLow:
		return 1
	default:
		return 0
	}
}

func (p CategoryPriority) Valid() bool {
	return p.Rank() > 0
}

// TrainingStatus tracks whether the ML service has seen the latest patterns.
type TrainingStatus string

const (
	TrainingUntrained TrainingStatus = "untrained"
	TrainingPending   TrainingStatus = "pending"
	TrainingSynced    TrainingStatus = "synced"
	TrainingFailed    TrainingStatus = "failed"
)

// Category is a user-scoped taxonomy entry.
type Category struct {
	ID             string           `json:"id" bson:"_id"`
	UserID         string           `json:"user_id" bson:"userId"`
	Name           string           `json:"name" bson:"name"`
	Priority       CategoryPriority `json:"priority" bson:"priority"`
	Domains        []string         `json:"domains" bson:"domains"`
	SenderPatterns []string         `json:"sender_patterns" bson:"senderPatterns"`
	Keywords       []string         `json:"keywords" bson:"keywords"`
	Active         bool             `json:"active" bson:"active"`
	TrainingStatus TrainingStatus   `json:"training_status" bson:"trainingStatus"`
	CreatedAt      time.Time        `json:"created_at" bson:"createdAt"`
	UpdatedAt      time.Time        `json:"updated_at" bson:"updatedAt"`
}

// Clone returns a deep copy so cached snapshots stay immutable.
func (c *Category) Clone() *Category {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Domains = append([]string(nil), c.Domains...)
	cp.SenderPatterns = append([]string(nil), c.SenderPatterns...)
	cp.Keywords = append([]string(nil), c.Keywords...)
	return &cp
}

// SamePatterns reports whether two categories match the same messages.
func (c *Category) SamePatterns(other *Category) bool {
	return equalFold(c.Domains, other.Domains) &&
		equalFold(c.SenderPatterns, other.SenderPatterns) &&
		equalFold(c.Keywords, other.Keywords)
}

// Normalize trims names and lowercases patterns.
func (c *Category) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Priority == "" {
		c.Priority = CategoryPriorityNormal
	}
	c.Domains = normalizePatterns(c.Domains, func(s string) string {
		s = strings.TrimPrefix(s, "@")
		return strings.TrimPrefix(s, ".")
	})
	c.SenderPatterns = normalizePatterns(c.SenderPatterns, nil)
	c.Keywords = normalizePatterns(c.Keywords, nil)
}

func normalizePatterns(in []string, extra func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if extra != nil {
			p = extra(p)
		}
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// CategoryPatch is a partial update; nil fields are left untouched.
type CategoryPatch struct {
	Name           *string           `json:"name,omitempty"`
	Priority       *CategoryPriority `json:"priority,omitempty"`
	Domains        []string          `json:"domains,omitempty"`
	SenderPatterns []string          `json:"sender_patterns,omitempty"`
	Keywords       []string          `json:"keywords,omitempty"`
	Active         *bool             `json:"active,omitempty"`
}
