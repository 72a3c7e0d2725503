package gateway

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a Gateway and Feed over a local SQLite database. It stands in
// for the hosted backend during development and tests: same row shapes,
// same upsert conflict targets, and an in-process change feed that fans
// out a notification after every successful write.
type SQLite struct {
	db   *sql.DB
	feed *fanout
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The connection is configured with WAL mode, NORMAL synchronous, a 5s
// busy timeout and foreign keys on, and is limited to a single writer
// connection to avoid SQLITE_BUSY under concurrent pulls and writes.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, feed: newFanout()}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database and terminates all feed subscriptions.
func (s *SQLite) Close() error {
	s.feed.closeAll()
	return s.db.Close()
}

// Subscribe implements Feed. Notifications are filtered to the given user
// id for every table, including the date-keyed ones.
func (s *SQLite) Subscribe(ctx context.Context, userID string) (<-chan Change, context.CancelFunc, error) {
	return s.feed.subscribe(ctx, userID)
}

func (s *SQLite) ListGoals(ctx context.Context, userID string) ([]GoalRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, color, icon, default_duration, description, deadline, created_at
		FROM goals WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	out := make([]GoalRow, 0)
	for rows.Next() {
		row, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("list goals: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) GetGoal(ctx context.Context, userID, id string) (GoalRow, error) {
	row, err := scanGoal(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, color, icon, default_duration, description, deadline, created_at
		FROM goals WHERE user_id = ? AND id = ?`, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GoalRow{}, ErrNotFound
		}
		return GoalRow{}, fmt.Errorf("get goal %s: %w", id, err)
	}
	return row, nil
}

func (s *SQLite) UpsertGoal(ctx context.Context, row GoalRow) error {
	kind, err := s.upsertKind(ctx, `SELECT 1 FROM goals WHERE id = ?`, row.ID)
	if err != nil {
		return fmt.Errorf("upsert goal %s: %w", row.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, color, icon, default_duration, description, deadline, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			color = excluded.color,
			icon = excluded.icon,
			default_duration = excluded.default_duration,
			description = excluded.description,
			deadline = excluded.deadline`,
		row.ID, row.UserID, row.Title, row.Color, row.Icon,
		nullInt(row.DefaultDuration), row.Description, row.Deadline, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert goal %s: %w", row.ID, err)
	}
	r := row
	s.feed.emit(row.UserID, Change{Table: TableGoals, Kind: kind, Goal: &r})
	return nil
}

func (s *SQLite) DeleteGoal(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete goal %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.feed.emit(userID, Change{Table: TableGoals, Kind: ChangeDelete, OldID: id})
	}
	return nil
}

func (s *SQLite) ListEvents(ctx context.Context, userID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, start_time, end_time, goal_id, completed_duration
		FROM events WHERE user_id = ? ORDER BY start_time, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]EventRow, 0)
	for rows.Next() {
		row, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertEvent(ctx context.Context, row EventRow) error {
	kind, err := s.upsertKind(ctx, `SELECT 1 FROM events WHERE id = ?`, row.ID)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", row.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, title, start_time, end_time, goal_id, completed_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			goal_id = excluded.goal_id,
			completed_duration = excluded.completed_duration`,
		row.ID, row.UserID, row.Title, row.StartTime, row.EndTime,
		nullString(row.GoalID), row.CompletedDuration,
	)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", row.ID, err)
	}
	r := row
	s.feed.emit(row.UserID, Change{Table: TableEvents, Kind: kind, Event: &r})
	return nil
}

func (s *SQLite) DeleteEvent(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.feed.emit(userID, Change{Table: TableEvents, Kind: ChangeDelete, OldID: id})
	}
	return nil
}

func (s *SQLite) GetSettings(ctx context.Context, userID string) (SettingsRow, error) {
	var row SettingsRow
	var deadline, startDate sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, main_goal, main_goal_deadline, main_goal_start_date
		FROM user_settings WHERE user_id = ?`, userID).
		Scan(&row.UserID, &row.MainGoal, &deadline, &startDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SettingsRow{}, ErrNotFound
		}
		return SettingsRow{}, fmt.Errorf("get settings: %w", err)
	}
	if deadline.Valid {
		row.MainGoalDeadline = &deadline.String
	}
	if startDate.Valid {
		row.MainGoalStartDate = &startDate.String
	}
	return row, nil
}

func (s *SQLite) UpsertSettings(ctx context.Context, row SettingsRow) error {
	kind, err := s.upsertKind(ctx, `SELECT 1 FROM user_settings WHERE user_id = ?`, row.UserID)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, main_goal, main_goal_deadline, main_goal_start_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			main_goal = excluded.main_goal,
			main_goal_deadline = excluded.main_goal_deadline,
			main_goal_start_date = excluded.main_goal_start_date`,
		row.UserID, row.MainGoal, nullString(row.MainGoalDeadline), nullString(row.MainGoalStartDate),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	r := row
	s.feed.emit(row.UserID, Change{Table: TableSettings, Kind: kind, Settings: &r})
	return nil
}

func (s *SQLite) ListEntries(ctx context.Context, table, userID string) ([]EntryRow, error) {
	if err := validEntryTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, content FROM `+table+` WHERE user_id = ? ORDER BY date`, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]EntryRow, 0)
	for rows.Next() {
		var row EntryRow
		if err := rows.Scan(&row.UserID, &row.Date, &row.Content); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertEntry(ctx context.Context, table string, row EntryRow) error {
	if err := validEntryTable(table); err != nil {
		return err
	}
	kind, err := s.upsertKind(ctx,
		`SELECT 1 FROM `+table+` WHERE user_id = ? AND date = ?`, row.UserID, row.Date)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, row.Date, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (user_id, date, content)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET content = excluded.content`,
		row.UserID, row.Date, row.Content,
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, row.Date, err)
	}
	r := row
	s.feed.emit(row.UserID, Change{Table: table, Kind: kind, Entry: &r})
	return nil
}

func (s *SQLite) DeleteEntry(ctx context.Context, table, userID, date string) error {
	if err := validEntryTable(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE user_id = ? AND date = ?`, userID, date)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, date, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.feed.emit(userID, Change{Table: table, Kind: ChangeDelete, OldID: date})
	}
	return nil
}

func (s *SQLite) ListScores(ctx context.Context, userID string) ([]ScoreRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, score FROM daily_scores WHERE user_id = ? ORDER BY date`, userID)
	if err != nil {
		return nil, fmt.Errorf("list daily_scores: %w", err)
	}
	defer rows.Close()

	out := make([]ScoreRow, 0)
	for rows.Next() {
		var row ScoreRow
		if err := rows.Scan(&row.UserID, &row.Date, &row.Score); err != nil {
			return nil, fmt.Errorf("list daily_scores: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertScore(ctx context.Context, row ScoreRow) error {
	kind, err := s.upsertKind(ctx,
		`SELECT 1 FROM daily_scores WHERE user_id = ? AND date = ?`, row.UserID, row.Date)
	if err != nil {
		return fmt.Errorf("upsert daily_scores %s: %w", row.Date, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_scores (user_id, date, score)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET score = excluded.score`,
		row.UserID, row.Date, row.Score,
	)
	if err != nil {
		return fmt.Errorf("upsert daily_scores %s: %w", row.Date, err)
	}
	r := row
	s.feed.emit(row.UserID, Change{Table: TableScores, Kind: kind, Score: &r})
	return nil
}

func (s *SQLite) DeleteScore(ctx context.Context, userID, date string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM daily_scores WHERE user_id = ? AND date = ?`, userID, date)
	if err != nil {
		return fmt.Errorf("delete daily_scores %s: %w", date, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.feed.emit(userID, Change{Table: TableScores, Kind: ChangeDelete, OldID: date})
	}
	return nil
}

// upsertKind reports whether the upcoming upsert will insert or update, so
// the feed can tag the notification the way a backend change feed would.
func (s *SQLite) upsertKind(ctx context.Context, existsQuery string, args ...any) (ChangeKind, error) {
	var one int
	err := s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ChangeInsert, nil
	case err != nil:
		return "", err
	default:
		return ChangeUpdate, nil
	}
}

func validEntryTable(table string) error {
	if table != TableJournal && table != TableMemos {
		return fmt.Errorf("gateway: not an entry table: %q", table)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (GoalRow, error) {
	var out GoalRow
	var duration sql.NullInt64
	if err := row.Scan(&out.ID, &out.UserID, &out.Title, &out.Color, &out.Icon,
		&duration, &out.Description, &out.Deadline, &out.CreatedAt); err != nil {
		return GoalRow{}, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		out.DefaultDuration = &d
	}
	return out, nil
}

func scanEvent(row rowScanner) (EventRow, error) {
	var out EventRow
	var goalID sql.NullString
	if err := row.Scan(&out.ID, &out.UserID, &out.Title, &out.StartTime, &out.EndTime,
		&goalID, &out.CompletedDuration); err != nil {
		return EventRow{}, err
	}
	if goalID.Valid {
		out.GoalID = &goalID.String
	}
	return out, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
