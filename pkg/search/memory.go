// Package search provides the in-process search index used by index and eval steps.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/kbforge/kbforge/pkg/protocol"
)

var ErrCollectionNotFound = errors.New("collection not found")

// BM25 parameters.
const (
	k1 = 1.2
	b  = 0.75
)

// Hit is one search result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type entry struct {
	text   string
	terms  map[string]int
	length int
	vector []float32
	meta   map[string]any
}

type collection struct {
	entries   map[string]*entry
	postings  map[string]map[string]int
	dimension int
	indexed   int
	rejected  int
}

// Memory keeps lexical postings and vectors per collection.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

// Index adds or replaces docs. Documents without id or text, or whose vector
// length differs from the collection's, are rejected and counted.
func (m *Memory) Index(ctx context.Context, name string, docs []protocol.IndexDocument) (*protocol.IndexStats, error) {
	if name == "" {
		return nil, errors.New("collection name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[name]
	if !ok {
		coll = &collection{entries: make(map[string]*entry), postings: make(map[string]map[string]int)}
		m.collections[name] = coll
	}

	indexed, rejected := 0, 0

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if doc.ID == "" || strings.TrimSpace(doc.Text) == "" {
			rejected++

			continue
		}

		if len(doc.Vector) > 0 {
			if coll.dimension == 0 {
				coll.dimension = len(doc.Vector)
			} else if coll.dimension != len(doc.Vector) {
				rejected++

				continue
			}
		}

		coll.remove(doc.ID)
		coll.add(doc)
		indexed++
	}

	coll.indexed += indexed
	coll.rejected += rejected

	stats := coll.stats(name)
	stats.IndexedCount = indexed
	stats.RejectedCount = rejected

	return stats, nil
}

// Stats reports cumulative counts for a collection.
func (m *Memory) Stats(_ context.Context, name string) (*protocol.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	return coll.stats(name), nil
}

// Search ranks documents of a collection against query with BM25.
func (m *Memory) Search(_ context.Context, name, query string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	if len(coll.entries) == 0 {
		return []Hit{}, nil
	}

	total := 0
	for _, e := range coll.entries {
		total += e.length
	}

	avgLength := float64(total) / float64(len(coll.entries))
	n := float64(len(coll.entries))
	scores := make(map[string]float64)

	for _, term := range Tokenize(query) {
		postings := coll.postings[term]
		if len(postings) == 0 {
			continue
		}

		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for id, tf := range postings {
			length := float64(coll.entries[id].length)
			freq := float64(tf)
			scores[id] += idf * freq * (k1 + 1) / (freq + k1*(1-b+b*length/avgLength))
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score, Text: coll.entries[id].text})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}

		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

func (c *collection) add(doc protocol.IndexDocument) {
	terms := make(map[string]int)
	tokens := Tokenize(doc.Text)

	for _, token := range tokens {
		terms[token]++
	}

	for term, tf := range terms {
		if c.postings[term] == nil {
			c.postings[term] = make(map[string]int)
		}

		c.postings[term][doc.ID] = tf
	}

	c.entries[doc.ID] = &entry{text: doc.Text, terms: terms, length: len(tokens), vector: doc.Vector, meta: doc.Metadata}
}

func (c *collection) remove(id string) {
	old, ok := c.entries[id]
	if !ok {
		return
	}

	for term := range old.terms {
		delete(c.postings[term], id)

		if len(c.postings[term]) == 0 {
			delete(c.postings, term)
		}
	}

	delete(c.entries, id)
}

func (c *collection) stats(name string) *protocol.IndexStats {
	documents := make(map[string]bool)
	vectors := 0

	for id, e := range c.entries {
		if len(e.vector) > 0 {
			vectors++
		}

		path, _ := e.meta["document_path"].(string)
		if path == "" {
			path = id
		}

		documents[path] = true
	}

	health := 1.0
	if attempted := c.indexed + c.rejected; attempted > 0 {
		health = float64(c.indexed) / float64(attempted)
	}

	return &protocol.IndexStats{
		Collection:      name,
		DocumentCount:   len(documents),
		VectorCount:     vectors,
		TermCount:       len(c.postings),
		IndexedCount:    c.indexed,
		RejectedCount:   c.rejected,
		HealthScore:     health,
		VectorDimension: c.dimension,
	}
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
