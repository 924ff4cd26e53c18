// Package analytics is the write-only request log sink. Rows land in
// Postgres best-effort: the gateway logs and swallows failures here,
// a lost row never fails the request it describes.
package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Sink struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Sink, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Sink{pool: pool}, nil
}

func (s *Sink) Close() {
	s.pool.Close()
}

// RequestLog is one served request.
type RequestLog struct {
	CallerID   string
	Intent     string
	Template   string
	CacheHit   bool
	Allowed    bool
	Reason     string
	TokensUsed int
	LatencyMs  int
	Timestamp  time.Time
}

func (s *Sink) LogRequest(ctx context.Context, row RequestLog) error {
	query := `
        INSERT INTO request_logs (caller_id, intent, template, cache_hit, allowed, reason, tokens_used, latency_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `

	_, err := s.pool.Exec(ctx, query,
		row.CallerID,
		row.Intent,
		row.Template,
		row.CacheHit,
		row.Allowed,
		row.Reason,
		row.TokensUsed,
		row.LatencyMs,
		row.Timestamp,
	)

	return err
}

// CallerStats summarizes one caller's recent traffic.
type CallerStats struct {
	Requests   int64   `json:"requests"`
	CacheHits  int64   `json:"cache_hits"`
	TokensUsed int64   `json:"tokens_used"`
	AvgLatency float64 `json:"avg_latency_ms"`
}

func (s *Sink) GetCallerStats(ctx context.Context, callerID string, since time.Time) (*CallerStats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE cache_hit),
               COALESCE(SUM(tokens_used), 0),
               COALESCE(AVG(latency_ms), 0)
        FROM request_logs
        WHERE caller_id = $1 AND created_at >= $2
    `

	var stats CallerStats
	err := s.pool.QueryRow(ctx, query, callerID, since).Scan(
		&stats.Requests,
		&stats.CacheHits,
		&stats.TokensUsed,
		&stats.AvgLatency,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
