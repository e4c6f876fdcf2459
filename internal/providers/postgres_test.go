package providers

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/database"
	"github.com/ragrelay/ragrelay/internal/search"
)

func newMockedProvider(t *testing.T, timeout time.Duration) (*PostgresProvider, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := &database.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}
	return NewPostgresProvider(db, 2, timeout), mock
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "content", "score"})
}

func TestPostgresProvider_VectorSearch(t *testing.T) {
	provider, mock := newMockedProvider(t, time.Second)

	query := &search.Query{Text: "hello", Embedding: []float32{0.1, 0.2}, TopK: 3}
	mock.ExpectQuery("ORDER BY embedding").
		WithArgs(vectorLiteral(query.Embedding), query.TopK).
		WillReturnRows(documentRows().
			AddRow("d1", "First", "alpha", 0.9).
			AddRow("d2", "Second", "beta", 0.8).
			AddRow("d3", "Third", "gamma", 0.7))

	results, err := provider.Execute(context.Background(), query)
	require.NoError(t, err)

	// Every row the database served must come back. The old shape handed
	// rows past the timeout cancel and lost everything after the first.
	require.Len(t, results, 3)
	assert.Equal(t, "d1", results[0].ID)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, "postgres", results[0].Source)
	assert.Equal(t, "d3", results[2].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProvider_TextSearch(t *testing.T) {
	provider, mock := newMockedProvider(t, time.Second)

	query := &search.Query{Text: "alpha", TopK: 2}
	mock.ExpectQuery("ILIKE").
		WithArgs(query.Text, query.TopK).
		WillReturnRows(documentRows().
			AddRow("d1", "First", "alpha body", 0.5))

	results, err := provider.Execute(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "First", results[0].Title)
	assert.Equal(t, "postgres", results[0].Source)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProvider_SlowQueryStillScansFully(t *testing.T) {
	provider, mock := newMockedProvider(t, time.Second)

	query := &search.Query{Text: "hello", TopK: 2}
	mock.ExpectQuery("ILIKE").
		WithArgs(query.Text, query.TopK).
		WillDelayFor(50 * time.Millisecond).
		WillReturnRows(documentRows().
			AddRow("d1", "First", "alpha", 0.5).
			AddRow("d2", "Second", "beta", 0.5))

	results, err := provider.Execute(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProvider_QueryTimeout(t *testing.T) {
	provider, mock := newMockedProvider(t, 50*time.Millisecond)

	query := &search.Query{Text: "hello", TopK: 2}
	mock.ExpectQuery("ILIKE").
		WithArgs(query.Text, query.TopK).
		WillDelayFor(500 * time.Millisecond).
		WillReturnRows(documentRows())

	results, err := provider.Execute(context.Background(), query)
	require.Error(t, err)
	assert.Nil(t, results)
}

func TestPostgresProvider_QueryError(t *testing.T) {
	provider, mock := newMockedProvider(t, time.Second)

	query := &search.Query{Text: "boom", TopK: 2}
	mock.ExpectQuery("ILIKE").
		WithArgs(query.Text, query.TopK).
		WillReturnError(assert.AnError)

	results, err := provider.Execute(context.Background(), query)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "text search failed")
}

func TestPostgresProvider_RejectsUnexpectedArgs(t *testing.T) {
	provider, _ := newMockedProvider(t, time.Second)

	results, err := provider.Execute(context.Background(), "not a query")
	require.Error(t, err)
	assert.Nil(t, results)
}

func TestPostgresProvider_VectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.1,0.2,0.5]", vectorLiteral([]float32{0.1, 0.2, 0.5}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
