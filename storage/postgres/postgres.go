// Package postgres provides a PostgreSQL implementation of the
// membertrack.EventStore and membertrack.ReportBackend interfaces.
// Event deduplication rides on a primary key over the source event id;
// the metrics report is kept as a single JSONB document.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

// Storage implements membertrack.EventStore and membertrack.ReportBackend
// using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter and ensures the schema.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Storage) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS membership_events (
	source_event_id TEXT PRIMARY KEY,
	subscriber_id   TEXT NOT NULL DEFAULT '',
	display_name    TEXT NOT NULL DEFAULT '',
	product_key     TEXT NOT NULL DEFAULT '',
	license_key     TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	status_label    TEXT NOT NULL DEFAULT '',
	event_type      TEXT NOT NULL,
	channel         TEXT NOT NULL DEFAULT '',
	observed_at     TIMESTAMPTZ NOT NULL,
	ingested_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_membership_events_subscriber
	ON membership_events (subscriber_id, observed_at);

CREATE TABLE IF NOT EXISTS timeline_periods (
	subscriber_id TEXT NOT NULL,
	position      INT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	duration_days INT,
	status        TEXT NOT NULL,
	PRIMARY KEY (subscriber_id, position)
);

CREATE TABLE IF NOT EXISTS report_documents (
	id  INT PRIMARY KEY,
	doc JSONB NOT NULL
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// AppendEvent implements membertrack.EventStore. The insert relies on
// ON CONFLICT DO NOTHING so concurrent appends of the same event race
// safely; the loser sees a duplicate.
func (s *Storage) AppendEvent(ctx context.Context, ev *membertrack.MembershipEvent) (membertrack.AppendResult, error) {
	if err := membertrack.ValidateEvent(ev); err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO membership_events
			(source_event_id, subscriber_id, display_name, product_key, license_key,
			 email, status_label, event_type, channel, observed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_event_id) DO NOTHING`,
		ev.SourceEventID, ev.SubscriberID, ev.DisplayName, ev.ProductKey, ev.LicenseKey,
		ev.Email, ev.StatusLabel, string(ev.Type), ev.Channel, ev.ObservedAt, ev.IngestedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return membertrack.AppendDuplicate, nil
	}
	return membertrack.AppendInserted, nil
}

const eventColumns = `source_event_id, subscriber_id, display_name, product_key, license_key,
	email, status_label, event_type, channel, observed_at, ingested_at`

func scanEvents(rows pgx.Rows) ([]membertrack.MembershipEvent, error) {
	defer rows.Close()

	var out []membertrack.MembershipEvent
	for rows.Next() {
		var ev membertrack.MembershipEvent
		var typ string
		if err := rows.Scan(
			&ev.SourceEventID, &ev.SubscriberID, &ev.DisplayName, &ev.ProductKey, &ev.LicenseKey,
			&ev.Email, &ev.StatusLabel, &typ, &ev.Channel, &ev.ObservedAt, &ev.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = membertrack.EventType(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

// EventsFor implements membertrack.EventStore
func (s *Storage) EventsFor(ctx context.Context, subscriberID string) ([]membertrack.MembershipEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM membership_events
		WHERE subscriber_id = $1
		ORDER BY observed_at, source_event_id`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// AllEvents implements membertrack.EventStore
func (s *Storage) AllEvents(ctx context.Context) ([]membertrack.MembershipEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM membership_events
		ORDER BY observed_at, source_event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// SubscriberIDs implements membertrack.EventStore
func (s *Storage) SubscriberIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT subscriber_id
		FROM membership_events
		WHERE subscriber_id <> ''
		ORDER BY subscriber_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscribers: %w", err)
	}
	return ids, nil
}

// ReplaceTimeline implements membertrack.EventStore. Delete and reinsert
// inside one transaction keeps the replacement atomic.
func (s *Storage) ReplaceTimeline(ctx context.Context, subscriberID string, periods []membertrack.TimelinePeriod) error {
	if subscriberID == "" {
		return fmt.Errorf("missing subscriber id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM timeline_periods WHERE subscriber_id = $1`, subscriberID); err != nil {
		return fmt.Errorf("failed to clear timeline: %w", err)
	}
	for i, p := range periods {
		if _, err := tx.Exec(ctx, `
			INSERT INTO timeline_periods
				(subscriber_id, position, started_at, ended_at, duration_days, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			subscriberID, i, p.StartedAt, p.EndedAt, p.DurationDays, string(p.Status),
		); err != nil {
			return fmt.Errorf("failed to insert period: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit timeline: %w", err)
	}
	return nil
}

// TimelineFor implements membertrack.EventStore
func (s *Storage) TimelineFor(ctx context.Context, subscriberID string) ([]membertrack.TimelinePeriod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT started_at, ended_at, duration_days, status
		FROM timeline_periods
		WHERE subscriber_id = $1
		ORDER BY position`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var out []membertrack.TimelinePeriod
	for rows.Next() {
		p := membertrack.TimelinePeriod{SubscriberID: subscriberID}
		var status string
		if err := rows.Scan(&p.StartedAt, &p.EndedAt, &p.DurationDays, &status); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		p.Status = membertrack.PeriodStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}
	return out, nil
}

// Load implements membertrack.ReportBackend
func (s *Storage) Load(ctx context.Context) (*membertrack.Report, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM report_documents WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var r membertrack.Report
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// Save implements membertrack.ReportBackend
func (s *Storage) Save(ctx context.Context, r *membertrack.Report) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO report_documents (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, doc); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}
