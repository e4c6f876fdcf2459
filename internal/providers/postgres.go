package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ragrelay/ragrelay/internal/database"
	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/logging"
)

// PostgresProvider searches the documents table directly. It serves as
// the first fallback when the managed search API is unavailable: slower
// and less relevant, but under our control.
type PostgresProvider struct {
	db       *database.DB
	logger   *logging.Logger
	priority int
	timeout  time.Duration
}

// NewPostgresProvider creates the database-backed search provider
func NewPostgresProvider(db *database.DB, priority int, timeout time.Duration) *PostgresProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresProvider{
		db:       db,
		logger:   logging.GetLogger(),
		priority: priority,
		timeout:  timeout,
	}
}

// Name implements resilience.Provider
func (p *PostgresProvider) Name() string {
	return "postgres"
}

// Priority implements resilience.Provider
func (p *PostgresProvider) Priority() int {
	return p.priority
}

// IsAvailable implements resilience.Provider
func (p *PostgresProvider) IsAvailable(ctx context.Context) bool {
	if p.db == nil {
		return false
	}
	return p.db.Health(ctx) == nil
}

// HealthCheck reports database connectivity
func (p *PostgresProvider) HealthCheck(ctx context.Context) bool {
	return p.IsAvailable(ctx)
}

// Execute implements resilience.Provider. When the query carries an
// embedding, ranking uses pgvector cosine distance; otherwise it falls
// back to trigram-friendly ILIKE matching.
func (p *PostgresProvider) Execute(ctx context.Context, args interface{}) ([]search.Result, error) {
	query, ok := args.(*search.Query)
	if !ok {
		return nil, errors.NewValidationError("postgres provider expects a search query")
	}

	if len(query.Embedding) > 0 {
		return p.vectorSearch(ctx, query)
	}
	return p.textSearch(ctx, query)
}

type documentRow struct {
	ID      string  `db:"id"`
	Title   string  `db:"title"`
	Content string  `db:"content"`
	Score   float64 `db:"score"`
}

func (p *PostgresProvider) vectorSearch(ctx context.Context, query *search.Query) ([]search.Result, error) {
	var rows []documentRow
	err := p.db.SelectWithTimeout(ctx, p.timeout, &rows, `
		SELECT id, title, content, 1 - (embedding <=> $1) AS score
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vectorLiteral(query.Embedding), query.TopK,
	)
	if err != nil {
		return nil, errors.NewProviderError("postgres", "vector search failed").WithCause(err)
	}

	return p.collect(rows, query), nil
}

func (p *PostgresProvider) textSearch(ctx context.Context, query *search.Query) ([]search.Result, error) {
	var rows []documentRow
	err := p.db.SelectWithTimeout(ctx, p.timeout, &rows, `
		SELECT id, title, content, 0.5 AS score
		FROM documents
		WHERE content ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		LIMIT $2`,
		query.Text, query.TopK,
	)
	if err != nil {
		return nil, errors.NewProviderError("postgres", "text search failed").WithCause(err)
	}

	return p.collect(rows, query), nil
}

func (p *PostgresProvider) collect(rows []documentRow, query *search.Query) []search.Result {
	results := make([]search.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, search.Result{
			ID:      row.ID,
			Title:   row.Title,
			Content: row.Content,
			Score:   row.Score,
			Source:  "postgres",
		})
	}

	p.logger.Debug("Database search completed",
		"query", query.Text,
		"results", len(results))

	return results
}

// vectorLiteral renders an embedding in pgvector's input format
func vectorLiteral(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
