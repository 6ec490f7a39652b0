package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolution_log (
	id                      TEXT PRIMARY KEY,
	food_query              TEXT NOT NULL,
	attempted_sources       TEXT NOT NULL,
	successful_source       TEXT,
	resolution_time_ms      INTEGER NOT NULL,
	final_confidence        REAL NOT NULL,
	fallback_applied        INTEGER NOT NULL DEFAULT 0,
	crowdsourcing_requested INTEGER NOT NULL DEFAULT 0,
	error_details           TEXT,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS balance_days (
	user_id                TEXT NOT NULL,
	date                   TEXT NOT NULL,
	consumed_calories      REAL NOT NULL DEFAULT 0,
	consumed_confidence    REAL NOT NULL DEFAULT 0,
	active_burned          REAL NOT NULL DEFAULT 0,
	basal_burned           REAL NOT NULL DEFAULT 0,
	expenditure_confidence REAL NOT NULL DEFAULT 0,
	sync_quality           TEXT NOT NULL DEFAULT 'unknown',
	meal_ids               TEXT,
	updated_at             DATETIME NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS domain_events (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	occurred_at  DATETIME NOT NULL,
	processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS rate_limit_state (
	api_name            TEXT NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	window_start        DATETIME NOT NULL,
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendResolution(ctx context.Context, rec model.ResolutionRecord) error {
	queryJSON, err := json.Marshal(rec.FoodQuery)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal food query")
	}
	sourcesJSON, err := json.Marshal(rec.AttemptedSources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attempted sources")
	}

	var successful any
	if rec.SuccessfulSource != nil {
		successful = string(*rec.SuccessfulSource)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolution_log (id, food_query, attempted_sources, successful_source,
		   resolution_time_ms, final_confidence, fallback_applied, crowdsourcing_requested,
		   error_details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(queryJSON), string(sourcesJSON), successful,
		rec.ResolutionTimeMS, rec.FinalConfidence, boolToInt(rec.FallbackApplied),
		boolToInt(rec.CrowdsourcingRequested), nullIfEmpty(rec.ErrorDetails), rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert resolution")
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.ResolutionRecord, error) {
	query := `SELECT id, food_query, attempted_sources, successful_source, resolution_time_ms,
	            final_confidence, fallback_applied, crowdsourcing_requested, error_details, created_at
	          FROM resolution_log WHERE 1=1`
	var args []any

	if filter.SuccessfulSource != "" {
		query += ` AND successful_source = ?`
		args = append(args, string(filter.SuccessfulSource))
	}
	if filter.FallbackOnly {
		query += ` AND fallback_applied = 1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var out []model.ResolutionRecord
	for rows.Next() {
		rec, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resolutions iterate")
}

func (s *SQLiteStore) UserBalanceDays(ctx context.Context, userID string) ([]model.DailyCalorieEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, consumed_calories, consumed_confidence, active_burned,
		   basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at
		 FROM balance_days WHERE user_id = ? ORDER BY date`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list balance days")
	}
	defer rows.Close()

	var out []model.DailyCalorieEntry
	for rows.Next() {
		e, err := scanBalanceDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list balance days iterate")
}

func (s *SQLiteStore) GetBalanceDay(ctx context.Context, userID, date string) (*model.DailyCalorieEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, date, consumed_calories, consumed_confidence, active_burned,
		   basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at
		 FROM balance_days WHERE user_id = ? AND date = ?`,
		userID, date,
	)
	e, err := scanBalanceDay(row)
	if err != nil {
		if errors.Is(err, errNoRow) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) SaveBalance(ctx context.Context, userID string, entries []model.DailyCalorieEntry, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save balance")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		mealsJSON, err := json.Marshal(e.MealIDs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal meal ids")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balance_days (user_id, date, consumed_calories, consumed_confidence,
			   active_burned, basal_burned, expenditure_confidence, sync_quality, meal_ids, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, date) DO UPDATE SET
			   consumed_calories = excluded.consumed_calories,
			   consumed_confidence = excluded.consumed_confidence,
			   active_burned = excluded.active_burned,
			   basal_burned = excluded.basal_burned,
			   expenditure_confidence = excluded.expenditure_confidence,
			   sync_quality = excluded.sync_quality,
			   meal_ids = excluded.meal_ids,
			   updated_at = excluded.updated_at`,
			e.UserID, e.Date, e.ConsumedCalories, e.ConsumedConfidence,
			e.ActiveBurned, e.BasalBurned, e.ExpenditureConfidence,
			string(e.SyncQuality), string(mealsJSON), e.UpdatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert balance day %s/%s", userID, e.Date)
		}
	}

	for _, ev := range events {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO domain_events (id, user_id, kind, payload, occurred_at) VALUES (?, ?, ?, ?, ?)`,
			ev.ID, ev.UserID, string(ev.Kind), string(ev.Payload), ev.OccurredAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert event %s", ev.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save balance")
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, payload, occurred_at FROM domain_events
		 WHERE processed_at IS NULL ORDER BY occurred_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var kind, payload string
		if err := rows.Scan(&ev.ID, &ev.UserID, &kind, &payload, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Kind = model.EventKind(kind)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: pending events iterate")
}

func (s *SQLiteStore) MarkEventsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark processed")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE domain_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
			now, id,
		); err != nil {
			return eris.Wrapf(err, "sqlite: mark event %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mark processed")
}

func (s *SQLiteStore) SaveRateLimitState(ctx context.Context, states []model.RateLimitState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save rate limits")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, st := range states {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rate_limit_state (api_name, user_id, window_start, requests_count,
			   window_size_minutes, max_requests)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(api_name, user_id) DO UPDATE SET
			   window_start = excluded.window_start,
			   requests_count = excluded.requests_count,
			   window_size_minutes = excluded.window_size_minutes,
			   max_requests = excluded.max_requests`,
			st.APIName, st.UserID, st.WindowStart.UTC(), st.RequestsCount,
			st.WindowSizeMinutes, st.MaxRequests,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert rate limit %s", st.APIName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save rate limits")
}

func (s *SQLiteStore) LoadRateLimitState(ctx context.Context) ([]model.RateLimitState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT api_name, user_id, window_start, requests_count, window_size_minutes, max_requests
		 FROM rate_limit_state`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load rate limits")
	}
	defer rows.Close()

	var out []model.RateLimitState
	for rows.Next() {
		var st model.RateLimitState
		if err := rows.Scan(&st.APIName, &st.UserID, &st.WindowStart, &st.RequestsCount,
			&st.WindowSizeMinutes, &st.MaxRequests); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rate limit")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load rate limits iterate")
}

// helpers

var errNoRow = eris.New("no row")

type scannable interface {
	Scan(dest ...any) error
}

func scanResolution(row scannable) (*model.ResolutionRecord, error) {
	var rec model.ResolutionRecord
	var queryJSON, sourcesJSON string
	var successful, errorDetails sql.NullString

	err := row.Scan(&rec.ID, &queryJSON, &sourcesJSON, &successful, &rec.ResolutionTimeMS,
		&rec.FinalConfidence, &rec.FallbackApplied, &rec.CrowdsourcingRequested,
		&errorDetails, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRow
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan resolution")
	}

	if err := json.Unmarshal([]byte(queryJSON), &rec.FoodQuery); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal food query")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &rec.AttemptedSources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attempted sources")
	}
	if successful.Valid {
		src := model.DataSource(successful.String)
		rec.SuccessfulSource = &src
	}
	if errorDetails.Valid {
		rec.ErrorDetails = errorDetails.String
	}
	return &rec, nil
}

func scanBalanceDay(row scannable) (*model.DailyCalorieEntry, error) {
	var e model.DailyCalorieEntry
	var quality string
	var mealsJSON sql.NullString

	err := row.Scan(&e.UserID, &e.Date, &e.ConsumedCalories, &e.ConsumedConfidence,
		&e.ActiveBurned, &e.BasalBurned, &e.ExpenditureConfidence, &quality,
		&mealsJSON, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRow
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan balance day")
	}

	e.SyncQuality = model.SyncQuality(quality)
	if mealsJSON.Valid && mealsJSON.String != "" {
		if err := json.Unmarshal([]byte(mealsJSON.String), &e.MealIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal meal ids")
		}
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
