// Package scorer turns classifier output into threat scores. It applies the
// gunshot mimic veto, fuses heuristic scores with prototype similarity and
// builds the ranked result list.
package scorer

import (
	"strings"
	"sync"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the scorer package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("scorer")
	})
	return log
}

// CategoryDef names the model labels that make up one threat category
type CategoryDef struct {
	Category prototype.Category
	Display  string
	Labels   []string
}

type categoryIndex struct {
	category prototype.Category
	display  string
	indices  []int
}

// Taxonomy maps model labels onto threat categories and veto classes. It is
// built once per classifier and is read-only afterwards.
type Taxonomy struct {
	labels     []string
	categories []categoryIndex
	veto       []int
	owner      []int // label index -> position in categories, -1 for plain labels
}

// NewTaxonomy resolves category and veto label names against the model labels.
// Matching ignores case and surrounding space. Names the model does not know
// are logged and ignored.
func NewTaxonomy(labels []string, defs []CategoryDef, veto []string) (*Taxonomy, error) {
	if len(labels) == 0 {
		return nil, errors.Newf("taxonomy requires classifier labels").
			Component("scorer").
			Category(errors.CategoryValidation).
			Build()
	}

	lookup := make(map[string]int, len(labels))
	for i, l := range labels {
		key := normalizeLabel(l)
		if _, dup := lookup[key]; !dup {
			lookup[key] = i
		}
	}

	t := &Taxonomy{
		labels: append([]string(nil), labels...),
		owner:  make([]int, len(labels)),
	}
	for i := range t.owner {
		t.owner[i] = -1
	}

	for _, def := range defs {
		display := def.Display
		if display == "" {
			display = string(def.Category)
		}
		ci := categoryIndex{category: def.Category, display: display}
		for _, name := range def.Labels {
			idx, ok := lookup[normalizeLabel(name)]
			if !ok {
				GetLogger().Warn("category label not found in model",
					logger.String("category", string(def.Category)),
					logger.String("label", name))
				continue
			}
			if t.owner[idx] >= 0 {
				GetLogger().Warn("label already assigned to another category",
					logger.String("category", string(def.Category)),
					logger.String("label", name))
				continue
			}
			t.owner[idx] = len(t.categories)
			ci.indices = append(ci.indices, idx)
		}
		if len(ci.indices) == 0 {
			GetLogger().Warn("category has no model labels, only prototypes can raise it",
				logger.String("category", string(def.Category)))
		}
		t.categories = append(t.categories, ci)
	}

	for _, name := range veto {
		idx, ok := lookup[normalizeLabel(name)]
		if !ok {
			GetLogger().Warn("veto label not found in model", logger.String("label", name))
			continue
		}
		t.veto = append(t.veto, idx)
	}

	return t, nil
}

// TaxonomyFromSettings builds the gunshot and chainsaw taxonomy from config.
func TaxonomyFromSettings(labels []string, d *conf.DetectionSettings) (*Taxonomy, error) {
	defs := []CategoryDef{
		{Category: prototype.Gunshot, Display: d.Gunshot.Display, Labels: d.Gunshot.Labels},
		{Category: prototype.Chainsaw, Display: d.Chainsaw.Display, Labels: d.Chainsaw.Labels},
	}
	return NewTaxonomy(labels, defs, d.Veto)
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Labels returns the classifier labels the taxonomy was built from.
func (t *Taxonomy) Labels() []string { return t.labels }

// Categories returns the threat categories in display order.
func (t *Taxonomy) Categories() []prototype.Category {
	out := make([]prototype.Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = c.category
	}
	return out
}

// Display returns the display label for category c.
func (t *Taxonomy) Display(c prototype.Category) string {
	for _, ci := range t.categories {
		if ci.category == c {
			return ci.display
		}
	}
	return string(c)
}

// Members returns the model labels folded into category c.
func (t *Taxonomy) Members(c prototype.Category) []string {
	for _, ci := range t.categories {
		if ci.category != c {
			continue
		}
		out := make([]string, len(ci.indices))
		for i, idx := range ci.indices {
			out[i] = t.labels[idx]
		}
		return out
	}
	return nil
}

// VetoCount is the number of veto labels resolved against the model.
func (t *Taxonomy) VetoCount() int { return len(t.veto) }
