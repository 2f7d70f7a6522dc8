// Package graphdb runs read-only Cypher against Neo4j as a ports.QueryExecutor.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// Config holds the connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

type queryFunc func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)

// Executor runs queries in read-routed auto-commit transactions.
type Executor struct {
	driver neo4j.DriverWithContext
	query  queryFunc
	logger *slog.Logger
}

// Open connects to Neo4j and verifies the server is reachable.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Executor, error) {
	if log == nil {
		log = logger.Nop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: connecting to %s: %v", ports.ErrExecutorUnavailable, cfg.URI, err)
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if cfg.Database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(cfg.Database))
	}

	e := &Executor{driver: driver, logger: log}
	e.query = func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
		return neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
	}
	log.Info("connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return e, nil
}

// Run executes query with params and returns each record as a map keyed by
// column. Nodes and relationships are flattened to plain maps.
func (e *Executor) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	res, err := e.query(ctx, query, params)
	if err != nil {
		return nil, classify(ctx, err)
	}

	rows := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		row := make(map[string]any, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = plain(rec.Values[i])
		}
		rows = append(rows, row)
	}
	e.logger.Debug("query returned", "rows", len(rows))
	return rows, nil
}

// Ping checks the server is still reachable.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrExecutorUnavailable, err)
	}
	return nil
}

// Close releases the driver's connections.
func (e *Executor) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

// classify maps driver errors onto the executor error kinds. Context errors
// pass through untouched.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}

	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		switch {
		case strings.Contains(nerr.Code, "SyntaxError"):
			return fmt.Errorf("%w: %s", ports.ErrQuerySyntax, nerr.Msg)
		case strings.HasPrefix(nerr.Code, "Neo.TransientError."),
			strings.HasPrefix(nerr.Code, "Neo.ClientError.Security."):
			return fmt.Errorf("%w: %s: %s", ports.ErrExecutorUnavailable, nerr.Code, nerr.Msg)
		default:
			return fmt.Errorf("%w: %s: %s", ports.ErrQueryExecution, nerr.Code, nerr.Msg)
		}
	}

	var opErr *net.OpError
	if neo4j.IsConnectivityError(err) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ports.ErrExecutorUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ports.ErrQueryExecution, err)
}

func plain(v any) any {
	switch t := v.(type) {
	case dbtype.Node:
		return map[string]any{"labels": t.Labels, "properties": plainMap(t.Props)}
	case dbtype.Relationship:
		return map[string]any{"type": t.Type, "properties": plainMap(t.Props)}
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case map[string]any:
		return plainMap(t)
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

var _ ports.QueryExecutor = (*Executor)(nil)
