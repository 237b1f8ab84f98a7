package action

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/lib/pq"
)

// ErrNoQueryRunner is returned by database actions when none is configured.
var ErrNoQueryRunner = errors.New("database actions are not configured")

// QueryRunner runs a query and returns its rows as column maps.
type QueryRunner interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// SQLRunner is a QueryRunner over database/sql.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner wraps db.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

// OpenPostgresRunner connects to a postgres database with lib/pq.
func OpenPostgresRunner(ctx context.Context, databaseURL string) (*SQLRunner, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLRunner(db), nil
}

// Close closes the underlying pool.
func (r *SQLRunner) Close() error {
	return r.db.Close()
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyQueryError(err)
	}

	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []map[string]any{}

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[column] = string(raw)
			} else {
				row[column] = values[i]
			}
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}

	return result, nil
}

// classifyQueryError makes syntax, data and integrity errors permanent.
func classifyQueryError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return protocol.Permanent(err)
		}
	}

	return err
}

func (e *Executor) executeQuery(ctx context.Context, config *models.DatabaseActionConfig) (*protocol.Output, error) {
	if config == nil {
		return nil, protocol.Permanent(errors.New("database action requires a database block"))
	}

	if e.queries == nil {
		return nil, protocol.Permanent(ErrNoQueryRunner)
	}

	args := make([]any, len(config.Args))
	for i, arg := range config.Args {
		args[i] = arg
	}

	rows, err := e.queries.Query(ctx, config.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	asAny := make([]any, len(rows))
	for i, row := range rows {
		asAny[i] = row
	}

	return protocol.NewOutput(map[string]any{
		"rows":      asAny,
		"row_count": len(rows),
	}), nil
}
