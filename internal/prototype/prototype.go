// Package prototype holds user-enrolled reference embeddings and the cosine
// similarity used to match live audio against them.
package prototype

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// Category is a threat category that prototypes can be enrolled for
type Category string

const (
	Gunshot  Category = "gunshot"
	Chainsaw Category = "chainsaw"
)

// Categories lists every category in display order.
var Categories = []Category{Gunshot, Chainsaw}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Gunshot, Chainsaw:
		return c, nil
	default:
		return "", errors.Newf("unknown category %q", s).
			Component("prototype").
			Category(errors.CategoryValidation).
			Build()
	}
}

// NoMatch is the similarity reported when there is nothing to compare against.
const NoMatch = -1.0

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the prototype package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("prototype")
	})
	return log
}

// Prototype is one reference embedding, usually built from one enrollment file
type Prototype struct {
	Category Category  `json:"category"`
	Source   string    `json:"source,omitempty"`
	Vector   []float32 `json:"embedding"`
}

// Set is an immutable snapshot of prototypes. All vectors share one dimension
// and are unit length.
type Set struct {
	byCategory map[Category][][]float32
	entries    []Prototype
	dim        int
	created    time.Time
}

// NewSet copies and L2-normalizes the given prototypes. Mixed dimensions and
// empty vectors are rejected.
func NewSet(protos []Prototype) (*Set, error) {
	s := &Set{
		byCategory: make(map[Category][][]float32, len(Categories)),
		entries:    make([]Prototype, 0, len(protos)),
		created:    time.Now(),
	}
	for i, p := range protos {
		if len(p.Vector) == 0 {
			return nil, errors.Newf("prototype %d (%s) has an empty embedding", i, p.Source).
				Component("prototype").
				Category(errors.CategoryValidation).
				Build()
		}
		if s.dim == 0 {
			s.dim = len(p.Vector)
		} else if len(p.Vector) != s.dim {
			return nil, errors.Newf("prototype %d (%s) has dimension %d, expected %d", i, p.Source, len(p.Vector), s.dim).
				Component("prototype").
				Category(errors.CategoryValidation).
				Context("dimension", len(p.Vector)).
				Build()
		}
		if _, err := ParseCategory(string(p.Category)); err != nil {
			return nil, err
		}
		v := dsp.L2Normalize(p.Vector)
		s.byCategory[p.Category] = append(s.byCategory[p.Category], v)
		s.entries = append(s.entries, Prototype{Category: p.Category, Source: p.Source, Vector: v})
	}
	return s, nil
}

// Vectors returns the unit vectors for category c. The slices must not be modified.
func (s *Set) Vectors(c Category) [][]float32 {
	if s == nil {
		return nil
	}
	return s.byCategory[c]
}

// Prototypes returns the normalized entries in insertion order.
func (s *Set) Prototypes() []Prototype {
	if s == nil {
		return nil
	}
	return s.entries
}

// Count returns how many prototypes category c has.
func (s *Set) Count(c Category) int { return len(s.Vectors(c)) }

// Len is the total number of prototypes.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Dim is the embedding dimension, 0 for an empty set.
func (s *Set) Dim() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// CreatedAt is when the set was built.
func (s *Set) CreatedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.created
}

// BestSimilarity returns the largest dot product between live and any of
// protos. With unit vectors this is the cosine similarity. An empty list or
// empty live vector yields NoMatch.
func BestSimilarity(live []float32, protos [][]float32) float64 {
	if len(live) == 0 || len(protos) == 0 {
		return NoMatch
	}
	best := math.Inf(-1)
	for _, p := range protos {
		if len(p) != len(live) {
			continue
		}
		best = max(best, dsp.Dot(live, p))
	}
	if math.IsInf(best, -1) {
		return NoMatch
	}
	return best
}

// Verified reports whether a similarity clears the verification threshold.
func Verified(similarity, threshold float64) bool {
	return similarity > threshold
}

// Store holds the active Set. Readers always see a whole set; writers replace
// it wholesale.
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore returns a store holding set, which may be nil.
func NewStore(set *Set) *Store {
	st := &Store{}
	st.Swap(set)
	return st
}

// Swap installs set and returns the previous one. A nil set installs an empty set.
func (st *Store) Swap(set *Set) *Set {
	if set == nil {
		set = &Set{byCategory: map[Category][][]float32{}, created: time.Now()}
	}
	old := st.current.Swap(set)
	GetLogger().Debug("prototype set swapped",
		logger.Int("prototypes", set.Len()),
		logger.Int("dimension", set.Dim()))
	return old
}

// Snapshot returns the active set. It is never nil.
func (st *Store) Snapshot() *Set {
	if s := st.current.Load(); s != nil {
		return s
	}
	return &Set{byCategory: map[Category][][]float32{}}
}

// String summarizes the set for logs.
func (s *Set) String() string {
	return fmt.Sprintf("prototypes(gunshot=%d, chainsaw=%d, dim=%d)", s.Count(Gunshot), s.Count(Chainsaw), s.Dim())
}
