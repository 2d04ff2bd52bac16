package scorer

import (
	"slices"

	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// VerifiedSuffix is appended to a category label matched by a prototype.
const VerifiedSuffix = " (verified)"

// Config holds the veto and fusion thresholds
type Config struct {
	StrongVetoFloor float64
	WeakVetoFloor   float64
	WeakVetoPenalty float64
	VerifyThreshold float64
	AlertThreshold  float64
	TopK            int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		StrongVetoFloor: 0.2,
		WeakVetoFloor:   0.5,
		WeakVetoPenalty: 0.3,
		VerifyThreshold: 0.75,
		AlertThreshold:  0.6,
		TopK:            conf.DefaultTopK,
	}
}

// ConfigFromSettings copies the thresholds out of the detection settings.
func ConfigFromSettings(d *conf.DetectionSettings) Config {
	cfg := Config{
		StrongVetoFloor: d.StrongVetoFloor,
		WeakVetoFloor:   d.WeakVetoFloor,
		WeakVetoPenalty: d.WeakVetoPenalty,
		VerifyThreshold: d.VerifyThreshold,
		AlertThreshold:  d.AlertThreshold,
		TopK:            d.TopK,
	}
	if cfg.TopK <= 0 {
		cfg.TopK = conf.DefaultTopK
	}
	return cfg
}

// Ranked is one entry of the ranked result list. Category is empty for
// plain classifier labels.
type Ranked struct {
	Label    string
	Score    float64
	Category prototype.Category
}

// CategoryScore is the breakdown for one threat category
type CategoryScore struct {
	Category  prototype.Category
	Label     string  // display label, with VerifiedSuffix when verified
	Heuristic float64 // classifier evidence after the veto
	Custom    float64 // best prototype similarity, prototype.NoMatch when none
	Final     float64
	Verified  bool
	Vetoed    bool
	Flagged   bool
}

// Result is the scored outcome of one inference cycle
type Result struct {
	Threats []CategoryScore
	Mimic   float64
	Ranked  []Ranked
}

// Threat returns the score for category c.
func (r Result) Threat(c prototype.Category) (CategoryScore, bool) {
	for _, t := range r.Threats {
		if t.Category == c {
			return t, true
		}
	}
	return CategoryScore{}, false
}

// Flagged reports whether any category reached the alert threshold.
func (r Result) Flagged() bool {
	return slices.ContainsFunc(r.Threats, func(t CategoryScore) bool { return t.Flagged })
}

// Scorer applies the hybrid scoring to inference output. It holds no mutable
// state and is safe for concurrent use.
type Scorer struct {
	tax *Taxonomy
	cfg Config
}

// New returns a Scorer for taxonomy t.
func New(t *Taxonomy, cfg Config) *Scorer {
	if cfg.TopK <= 0 {
		cfg.TopK = conf.DefaultTopK
	}
	return &Scorer{tax: t, cfg: cfg}
}

// Taxonomy returns the taxonomy the scorer was built with.
func (s *Scorer) Taxonomy() *Taxonomy { return s.tax }

// Config returns the active thresholds.
func (s *Scorer) Config() Config { return s.cfg }

// veto applies mimic suppression to a gunshot score.
func (s *Scorer) veto(gun, mimic float64) (adjusted float64, vetoed bool) {
	switch {
	case mimic > s.cfg.StrongVetoFloor && mimic >= gun:
		return 0, true
	case mimic > s.cfg.WeakVetoFloor:
		return gun - s.cfg.WeakVetoPenalty, true
	default:
		return gun, false
	}
}

// Score scores one inference against the prototype snapshot. A nil set or a
// missing embedding leaves the heuristic score alone.
func (s *Scorer) Score(inf *classifier.Inference, set *prototype.Set) Result {
	var scores, embedding []float32
	if inf != nil {
		scores, embedding = inf.Scores, inf.Embedding
	}

	res := Result{
		Mimic:   dsp.MaxAt(scores, s.tax.veto),
		Threats: make([]CategoryScore, 0, len(s.tax.categories)),
	}

	for _, ci := range s.tax.categories {
		cs := CategoryScore{
			Category:  ci.category,
			Label:     ci.display,
			Heuristic: dsp.MaxAt(scores, ci.indices),
			Custom:    prototype.NoMatch,
		}
		if ci.category == prototype.Gunshot {
			cs.Heuristic, cs.Vetoed = s.veto(cs.Heuristic, res.Mimic)
		}
		if len(embedding) > 0 {
			cs.Custom = prototype.BestSimilarity(embedding, set.Vectors(ci.category))
		}
		cs.Final = dsp.Clamp(max(cs.Heuristic, cs.Custom), 0, 1)
		if prototype.Verified(cs.Custom, s.cfg.VerifyThreshold) {
			cs.Verified = true
			cs.Label += VerifiedSuffix
		}
		cs.Flagged = cs.Final >= s.cfg.AlertThreshold
		res.Threats = append(res.Threats, cs)
	}

	res.Ranked = s.rank(scores, res.Threats)
	return res
}

// rank pairs every taxonomy entry with its score and keeps the top K.
// Category members are folded into the category entry.
func (s *Scorer) rank(scores []float32, threats []CategoryScore) []Ranked {
	ranked := make([]Ranked, 0, len(threats)+len(scores))
	for _, t := range threats {
		ranked = append(ranked, Ranked{Label: t.Label, Score: t.Final, Category: t.Category})
	}
	for i, label := range s.tax.labels {
		if i >= len(scores) {
			break
		}
		if s.tax.owner[i] >= 0 {
			continue
		}
		ranked = append(ranked, Ranked{Label: label, Score: float64(scores[i])})
	}

	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(ranked) > s.cfg.TopK {
		ranked = ranked[:s.cfg.TopK]
	}
	return slices.Clip(ranked)
}
