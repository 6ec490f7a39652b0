package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/db"
	"github.com/nutriflow/nutrition-core/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"insert_resolution": `INSERT INTO resolution_log (id, food_query, attempted_sources, successful_source, resolution_time_ms, final_confidence, fallback_applied, crowdsourcing_requested, error_details, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"get_balance_day":   `SELECT user_id, date, consumed_calories, consumed_confidence, active_burned, basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at FROM balance_days WHERE user_id = $1 AND date = $2`,
	"pending_events":    `SELECT id, user_id, kind, payload, occurred_at FROM domain_events WHERE processed_at IS NULL ORDER BY occurred_at LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with a mock pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolution_log (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	food_query              JSONB NOT NULL,
	attempted_sources       JSONB NOT NULL,
	successful_source       TEXT,
	resolution_time_ms      BIGINT NOT NULL,
	final_confidence        DOUBLE PRECISION NOT NULL,
	fallback_applied        BOOLEAN NOT NULL DEFAULT false,
	crowdsourcing_requested BOOLEAN NOT NULL DEFAULT false,
	error_details           TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS balance_days (
	user_id                TEXT NOT NULL,
	date                   TEXT NOT NULL,
	consumed_calories      DOUBLE PRECISION NOT NULL DEFAULT 0,
	consumed_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	active_burned          DOUBLE PRECISION NOT NULL DEFAULT 0,
	basal_burned           DOUBLE PRECISION NOT NULL DEFAULT 0,
	expenditure_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	sync_quality           TEXT NOT NULL DEFAULT 'unknown',
	meal_ids               JSONB,
	updated_at             TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS domain_events (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rate_limit_state (
	api_name            TEXT NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	window_start        TIMESTAMPTZ NOT NULL,
	requests_count      INTEGER NOT NULL,
	window_size_minutes INTEGER NOT NULL,
	max_requests        INTEGER NOT NULL,
	PRIMARY KEY (api_name, user_id)
);

CREATE INDEX IF NOT EXISTS idx_resolution_log_created_at ON resolution_log(created_at);
CREATE INDEX IF NOT EXISTS idx_resolution_log_source ON resolution_log(successful_source);
CREATE INDEX IF NOT EXISTS idx_domain_events_pending ON domain_events(occurred_at) WHERE processed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_balance_days_user ON balance_days(user_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) AppendResolution(ctx context.Context, rec model.ResolutionRecord) error {
	queryJSON, err := json.Marshal(rec.FoodQuery)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal food query")
	}
	sourcesJSON, err := json.Marshal(rec.AttemptedSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attempted sources")
	}

	var successful *string
	if rec.SuccessfulSource != nil {
		v := string(*rec.SuccessfulSource)
		successful = &v
	}
	var details *string
	if rec.ErrorDetails != "" {
		details = &rec.ErrorDetails
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolution_log (id, food_query, attempted_sources, successful_source,
		   resolution_time_ms, final_confidence, fallback_applied, crowdsourcing_requested,
		   error_details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, queryJSON, sourcesJSON, successful, rec.ResolutionTimeMS,
		rec.FinalConfidence, rec.FallbackApplied, rec.CrowdsourcingRequested,
		details, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert resolution")
}

func (s *PostgresStore) ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.ResolutionRecord, error) {
	query := `SELECT id, food_query, attempted_sources, successful_source, resolution_time_ms,
	            final_confidence, fallback_applied, crowdsourcing_requested, error_details, created_at
	          FROM resolution_log WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SuccessfulSource != "" {
		query += fmt.Sprintf(` AND successful_source = $%d`, argIdx)
		args = append(args, string(filter.SuccessfulSource))
		argIdx++
	}
	if filter.FallbackOnly {
		query += ` AND fallback_applied`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var out []model.ResolutionRecord
	for rows.Next() {
		var rec model.ResolutionRecord
		var queryJSON, sourcesJSON []byte
		var successful, details *string

		if err := rows.Scan(&rec.ID, &queryJSON, &sourcesJSON, &successful, &rec.ResolutionTimeMS,
			&rec.FinalConfidence, &rec.FallbackApplied, &rec.CrowdsourcingRequested,
			&details, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		if err := json.Unmarshal(queryJSON, &rec.FoodQuery); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal food query")
		}
		if err := json.Unmarshal(sourcesJSON, &rec.AttemptedSources); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attempted sources")
		}
		if successful != nil {
			src := model.DataSource(*successful)
			rec.SuccessfulSource = &src
		}
		if details != nil {
			rec.ErrorDetails = *details
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list resolutions iterate")
}

func (s *PostgresStore) UserBalanceDays(ctx context.Context, userID string) ([]model.DailyCalorieEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, date, consumed_calories, consumed_confidence, active_burned,
		   basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at
		 FROM balance_days WHERE user_id = $1 ORDER BY date`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list balance days")
	}
	defer rows.Close()

	var out []model.DailyCalorieEntry
	for rows.Next() {
		e, err := scanPGBalanceDay(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list balance days iterate")
}

func (s *PostgresStore) GetBalanceDay(ctx context.Context, userID, date string) (*model.DailyCalorieEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, date, consumed_calories, consumed_confidence, active_burned,
		   basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at
		 FROM balance_days WHERE user_id = $1 AND date = $2`,
		userID, date,
	)
	e, err := scanPGBalanceDay(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) SaveBalance(ctx context.Context, userID string, entries []model.DailyCalorieEntry, events []model.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save balance")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range entries {
		mealsJSON, err := json.Marshal(e.MealIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal meal ids")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO balance_days (user_id, date, consumed_calories, consumed_confidence,
			   active_burned, basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (user_id, date) DO UPDATE SET
			   consumed_calories = $3, consumed_confidence = $4, active_burned = $5,
			   basal_burned = $6, expenditure_confidence = $7, sync_quality = $8,
			   meal_ids = $9, updated_at = $10`,
			e.UserID, e.Date, e.ConsumedCalories, e.ConsumedConfidence,
			e.ActiveBurned, e.BasalBurned, e.ExpenditureConfidence,
			string(e.SyncQuality), mealsJSON, e.UpdatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert balance day %s/%s", userID, e.Date)
		}
	}

	for _, ev := range events {
		_, err = tx.Exec(ctx,
			`INSERT INTO domain_events (id, user_id, kind, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, ev.UserID, string(ev.Kind), []byte(ev.Payload), ev.OccurredAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert event %s", ev.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save balance")
}

func (s *PostgresStore) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, payload, occurred_at FROM domain_events
		 WHERE processed_at IS NULL ORDER BY occurred_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.UserID, &kind, &payload, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Kind = model.EventKind(kind)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: pending events iterate")
}

func (s *PostgresStore) MarkEventsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE domain_events SET processed_at = now() WHERE id = ANY($1) AND processed_at IS NULL`,
		ids,
	)
	return eris.Wrap(err, "postgres: mark events processed")
}

func (s *PostgresStore) SaveRateLimitState(ctx context.Context, states []model.RateLimitState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save rate limits")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, st := range states {
		_, err = tx.Exec(ctx,
			`INSERT INTO rate_limit_state (api_name, user_id, window_start, requests_count,
			   window_size_minutes, max_requests)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (api_name, user_id) DO UPDATE SET
			   window_start = $3, requests_count = $4, window_size_minutes = $5, max_requests = $6`,
			st.APIName, st.UserID, st.WindowStart.UTC(), st.RequestsCount,
			st.WindowSizeMinutes, st.MaxRequests,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert rate limit %s", st.APIName)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save rate limits")
}

func (s *PostgresStore) LoadRateLimitState(ctx context.Context) ([]model.RateLimitState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT api_name, user_id, window_start, requests_count, window_size_minutes, max_requests
		 FROM rate_limit_state`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load rate limits")
	}
	defer rows.Close()

	var out []model.RateLimitState
	for rows.Next() {
		var st model.RateLimitState
		if err := rows.Scan(&st.APIName, &st.UserID, &st.WindowStart, &st.RequestsCount,
			&st.WindowSizeMinutes, &st.MaxRequests); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rate limit")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load rate limits iterate")
}

func scanPGBalanceDay(scan func(dest ...any) error) (*model.DailyCalorieEntry, error) {
	var e model.DailyCalorieEntry
	var quality string
	var mealsJSON []byte

	err := scan(&e.UserID, &e.Date, &e.ConsumedCalories, &e.ConsumedConfidence,
		&e.ActiveBurned, &e.BasalBurned, &e.ExpenditureConfidence, &quality,
		&mealsJSON, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan balance day")
	}

	e.SyncQuality = model.SyncQuality(quality)
	if len(mealsJSON) > 0 {
		if err := json.Unmarshal(mealsJSON, &e.MealIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal meal ids")
		}
	}
	return &e, nil
}
