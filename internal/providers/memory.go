package providers

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/errors"
)

// MemoryProvider is the last-resort store: a small in-process corpus
// that is always available. Relevance is crude token overlap, which is
// fine for an emergency answer.
type MemoryProvider struct {
	mutex     sync.RWMutex
	documents []search.Document
	priority  int
}

// NewMemoryProvider creates an in-memory provider seeded with documents
func NewMemoryProvider(priority int, documents ...search.Document) *MemoryProvider {
	return &MemoryProvider{
		documents: documents,
		priority:  priority,
	}
}

// Name implements resilience.Provider
func (p *MemoryProvider) Name() string {
	return "memory"
}

// Priority implements resilience.Provider
func (p *MemoryProvider) Priority() int {
	return p.priority
}

// IsAvailable implements resilience.Provider. The in-memory store has
// no external dependency and never goes down.
func (p *MemoryProvider) IsAvailable(ctx context.Context) bool {
	return true
}

// HealthCheck always reports healthy
func (p *MemoryProvider) HealthCheck(ctx context.Context) bool {
	return true
}

// FallbackValue implements resilience.StaticFallback: an empty result
// set is a valid degraded answer.
func (p *MemoryProvider) FallbackValue() ([]search.Result, bool) {
	return []search.Result{}, true
}

// Add inserts documents into the corpus
func (p *MemoryProvider) Add(documents ...search.Document) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.documents = append(p.documents, documents...)
}

// Len reports corpus size
func (p *MemoryProvider) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.documents)
}

// Execute implements resilience.Provider
func (p *MemoryProvider) Execute(ctx context.Context, args interface{}) ([]search.Result, error) {
	query, ok := args.(*search.Query)
	if !ok {
		return nil, errors.NewValidationError("memory provider expects a search query")
	}

	terms := tokenize(query.Text)

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	results := make([]search.Result, 0, query.TopK)
	for _, doc := range p.documents {
		score := overlapScore(terms, doc)
		if score <= 0 {
			continue
		}
		results = append(results, search.Result{
			ID:      doc.ID,
			Title:   doc.Title,
			Content: doc.Content,
			Score:   score,
			Source:  "memory",
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > query.TopK {
		results = results[:query.TopK]
	}

	return results, nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// overlapScore is the fraction of query terms found in the document
func overlapScore(terms []string, doc search.Document) float64 {
	if len(terms) == 0 {
		return 0
	}

	haystack := strings.ToLower(doc.Title + " " + doc.Content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}

	return float64(matched) / float64(len(terms))
}
