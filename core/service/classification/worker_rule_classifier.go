package classification

import (
	"sort"
	"strings"
	"time"

	"mailsort_server/core/domain"
)

// =============================================================================
// Phase-1 Rule Classifier
// =============================================================================

// Signal confidences.
const (
	ConfDomainExact      = 0.95
	ConfDomainPartial    = 0.90
	ConfSenderExact      = 0.90
	ConfSenderPartial    = 0.85
	ConfKeywordBase      = 0.5
	ConfKeywordDensityUp = 0.3
)

// signal order is also the tie-break order: earlier wins.
type signal int

const (
	signalDomain signal = iota
	signalSender
	signalKeyword
)

func (s signal) method() string {
	switch s {
	case signalDomain:
		return domain.MethodDomainMatch
	case signalSender:
		return domain.MethodSenderPattern
	default:
		return domain.MethodKeywordMatch
	}
}

// RuleConfig holds the Phase-1 policy values.
type RuleConfig struct {
	Floor            float64 // default 0.5
	FallbackCategory string  // default "Other"
}

func (c RuleConfig) withDefaults() RuleConfig {
	if c.Floor <= 0 {
		c.Floor = 0.5
	}
	if c.FallbackCategory == "" {
		c.FallbackCategory = "Other"
	}
	return c
}

// RuleClassifier matches a message against the user's category patterns.
type RuleClassifier struct {
	cfg RuleConfig
	now func() time.Time
}

func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	return &RuleClassifier{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// ClassifyWith evaluates against a loaded snapshot. It never mutates input.
func (r *RuleClassifier) ClassifyWith(snap *CategorySnapshot, in *Input) *domain.Classification {
	result := Evaluate(snap.Categories, in, r.cfg)
	result.ClassifiedAt = r.now()
	return result
}

type candidate struct {
	name       string
	rank       int
	confidence float64
	signal     signal
}

// Evaluate is the pure Phase-1 decision over a category list.
func Evaluate(categories []*domain.Category, in *Input, cfg RuleConfig) *domain.Classification {
	cfg = cfg.withDefaults()

	senderDomain := domain.AddressDomain(in.Sender)
	senderAddr := strings.ToLower(strings.TrimSpace(in.Sender))
	senderName := strings.ToLower(strings.TrimSpace(in.SenderName))
	if senderName == "" {
		if at := strings.Index(senderAddr, "@"); at > 0 {
			senderName = senderAddr[:at]
		}
	}
	text := strings.ToLower(in.Subject + "\n" + in.Body)

	var candidates []candidate
	for _, c := range categories {
		if c == nil || !c.Active {
			continue
		}
		best := candidate{name: c.Name, rank: c.Priority.Rank()}

		consider := func(conf float64, s signal) {
			if conf > best.confidence {
				best.confidence = conf
				best.signal = s
			}
		}
		consider(domainScore(c.Domains, senderDomain), signalDomain)
		consider(senderScore(c.SenderPatterns, senderName, senderAddr), signalSender)
		consider(keywordScore(c.Keywords, text), signalKeyword)

		if best.confidence >= cfg.Floor {
			candidates = append(candidates, best)
		}
	}

	if len(candidates) == 0 {
		return &domain.Classification{
			Label:      cfg.FallbackCategory,
			Confidence: cfg.Floor,
			Phase:      domain.PhaseRules,
			Method:     domain.MethodFallback,
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.rank != b.rank {
			return a.rank > b.rank
		}
		if a.signal != b.signal {
			return a.signal < b.signal
		}
		return a.name < b.name
	})

	win := candidates[0]
	return &domain.Classification{
		Label:      win.name,
		Confidence: win.confidence,
		Phase:      domain.PhaseRules,
		Method:     win.signal.method(),
	}
}

func domainScore(patterns []string, senderDomain string) float64 {
	if senderDomain == "" {
		return 0
	}
	var best float64
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case senderDomain == p:
			return ConfDomainExact
		case strings.Contains(senderDomain, p):
			best = ConfDomainPartial
		}
	}
	return best
}

func senderScore(patterns []string, name, addr string) float64 {
	var best float64
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case p == name || p == addr:
			return ConfSenderExact
		case (name != "" && strings.Contains(name, p)) || strings.Contains(addr, p):
			best = ConfSenderPartial
		}
	}
	return best
}

func keywordScore(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matched := 0
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return ConfKeywordBase + ConfKeywordDensityUp*float64(matched)/float64(len(keywords))
}
