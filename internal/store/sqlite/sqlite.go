/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

TABLES:

	leaves:         one row per leave request, request_id unique
	notes:          append-only admin notes
	status_history: append-only transition log
	settings:       key/value (lock flag, language, request counter, panel post)
	role_mappings:  duration -> external role id

CONCURRENCY:

	The pool is limited to a single connection and request creation runs under
	a mutex inside one transaction, so the counter increment and the insert can
	never interleave with another creation.

USAGE:

	st, err := sqlite.New("./data/leaves.db", sqlite.WithRequestPrefix("PL"))
	if err != nil {
		return err
	}
	defer st.Close()

Use ":memory:" for an in-memory database.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"leave-bot/internal/leave"
	"leave-bot/internal/model"
)

// timeLayout is fixed-width so TEXT comparison orders timestamps correctly.
const timeLayout = "2006-01-02 15:04:05.000000"

const leaveColumns = `request_id, user_id, username, reason, duration, start_date, end_date, status,
	role_id, message_id, channel_id, created_at, updated_at, processed_by, processed_at, rejection_reason`

// Store implements leave.Store on SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	prefix string
	now    func() time.Time
}

type Option func(*Store)

// WithRequestPrefix sets the prefix of generated request ids (default "PL").
func WithRequestPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (creating if needed) the database at dbPath and migrates the schema.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, prefix: "PL", now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leaves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT UNIQUE NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		reason TEXT NOT NULL,
		duration INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		role_id TEXT,
		message_id TEXT,
		channel_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		processed_by TEXT,
		processed_at TEXT,
		rejection_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_leaves_user_created ON leaves(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leaves_user_status ON leaves(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_leaves_message ON leaves(message_id);
	CREATE INDEX IF NOT EXISTS idx_leaves_status_end ON leaves(status, end_date);

	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL REFERENCES leaves(request_id),
		admin_id TEXT NOT NULL,
		admin_name TEXT NOT NULL,
		note TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_request ON notes(request_id);

	CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL REFERENCES leaves(request_id),
		old_status TEXT,
		new_status TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_history_request ON status_history(request_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	INSERT OR IGNORE INTO settings (key, value) VALUES ('system_locked', 'false');
	INSERT OR IGNORE INTO settings (key, value) VALUES ('request_counter', '0');

	CREATE TABLE IF NOT EXISTS role_mappings (
		duration INTEGER PRIMARY KEY,
		role_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// --- role mappings ---

func (s *Store) RoleMapping(ctx context.Context, duration int) (*model.RoleMapping, error) {
	var (
		m       model.RoleMapping
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT duration, role_id, created_at FROM role_mappings WHERE duration = ?`, duration,
	).Scan(&m.Duration, &m.RoleID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get role mapping: %w", err)
	}
	m.CreatedAt = parseTime(created)
	return &m, nil
}

func (s *Store) SaveRoleMapping(ctx context.Context, m *model.RoleMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_mappings (duration, role_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(duration) DO UPDATE SET role_id = excluded.role_id`,
		m.Duration, m.RoleID, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save role mapping: %w", err)
	}
	return nil
}

// --- leave requests ---

func (s *Store) CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var counter string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1
		RETURNING value`, model.SettingRequestCounter).Scan(&counter)
	if err != nil {
		return fmt.Errorf("increment request counter: %w", err)
	}
	n, err := strconv.ParseInt(counter, 10, 64)
	if err != nil {
		return fmt.Errorf("parse request counter %q: %w", counter, err)
	}

	now := s.now().UTC()
	req.RequestID = leave.FormatRequestID(s.prefix, n)
	req.Status = model.LeaveStatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leaves (request_id, user_id, username, reason, duration, start_date, end_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.UserID, req.Username, req.Reason, req.Duration,
		req.StartDate, req.EndDate, string(req.Status), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert leave request: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetLeaveRequest(ctx context.Context, requestID string) (*model.LeaveRequest, error) {
	return s.getOne(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE request_id = ?`, requestID)
}

func (s *Store) GetLeaveRequestByMessage(ctx context.Context, messageID string) (*model.LeaveRequest, error) {
	if messageID == "" {
		return nil, nil
	}
	return s.getOne(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE message_id = ?`, messageID)
}

func (s *Store) UpdateLeaveMessage(ctx context.Context, requestID, messageID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leaves SET message_id = ?, channel_id = ?, updated_at = ? WHERE request_id = ?`,
		messageID, channelID, formatTime(s.now().UTC()), requestID)
	if err != nil {
		return fmt.Errorf("update leave message: %w", err)
	}
	return nil
}

func (s *Store) UpdateLeaveStatus(ctx context.Context, c model.StatusChange) (*model.LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at := formatTime(c.At)
	res, err := tx.ExecContext(ctx, `
		UPDATE leaves
		SET status = ?, processed_by = ?, processed_at = ?, updated_at = ?, rejection_reason = NULLIF(?, ''),
			role_id = COALESCE(NULLIF(?, ''), role_id)
		WHERE request_id = ? AND status = ?`,
		string(c.To), c.ChangedBy, at, at, c.RejectionReason, c.RoleID, c.RequestID, string(c.From))
	if err != nil {
		return nil, fmt.Errorf("update leave status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_history (request_id, old_status, new_status, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.RequestID, string(c.From), string(c.To), c.ChangedBy, at)
	if err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	req, err := scanLeave(tx.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE request_id = ?`, c.RequestID))
	if err != nil {
		return nil, fmt.Errorf("reload leave request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

func (s *Store) FindOverlappingApproved(ctx context.Context, userID string, r leave.DateRange) (*model.LeaveRequest, error) {
	return s.getOne(ctx, `
		SELECT `+leaveColumns+` FROM leaves
		WHERE user_id = ? AND status = 'approved'
		AND (
			(start_date <= ? AND end_date >= ?)
			OR (start_date <= ? AND end_date >= ?)
			OR (start_date >= ? AND start_date <= ?)
		)
		ORDER BY start_date LIMIT 1`,
		userID, r.Start, r.Start, r.End, r.End, r.Start, r.End)
}

func (s *Store) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leaves WHERE user_id = ? AND created_at >= ?`,
		userID, formatTime(since.UTC())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return n, nil
}

func (s *Store) UserLeaves(ctx context.Context, userID string, page, perPage int) (*model.LeavePage, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaves WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count user leaves: %w", err)
	}
	leaves, err := s.getMany(ctx, `
		SELECT `+leaveColumns+` FROM leaves WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	return &model.LeavePage{
		Leaves:      leaves,
		Total:       total,
		Pages:       (total + perPage - 1) / perPage,
		CurrentPage: page,
	}, nil
}

func (s *Store) PendingLeaves(ctx context.Context) ([]*model.LeaveRequest, error) {
	return s.getMany(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
}

func (s *Store) ApprovedEndingBetween(ctx context.Context, from, to string) ([]*model.LeaveRequest, error) {
	return s.getMany(ctx, `
		SELECT `+leaveColumns+` FROM leaves
		WHERE status = 'approved' AND end_date >= ? AND end_date <= ?
		ORDER BY end_date ASC`, from, to)
}

// --- notes and history ---

func (s *Store) AddNote(ctx context.Context, note *model.Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (request_id, admin_id, admin_name, note, created_at) VALUES (?, ?, ?, ?, ?)`,
		note.RequestID, note.AdminID, note.AdminName, note.Text, formatTime(note.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *Store) Notes(ctx context.Context, requestID string) ([]*model.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, admin_id, admin_name, note, created_at FROM notes
		WHERE request_id = ? ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []*model.Note
	for rows.Next() {
		var (
			n       model.Note
			created string
		)
		if err := rows.Scan(&n.RequestID, &n.AdminID, &n.AdminName, &n.Text, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = parseTime(created)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

func (s *Store) StatusHistory(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, COALESCE(old_status, ''), new_status, changed_by, changed_at FROM status_history
		WHERE request_id = ? ORDER BY changed_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var entries []*model.StatusHistoryEntry
	for rows.Next() {
		var (
			e              model.StatusHistoryEntry
			oldS, newS, at string
		)
		if err := rows.Scan(&e.RequestID, &oldS, &newS, &e.ChangedBy, &at); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		e.OldStatus = model.LeaveStatus(oldS)
		e.NewStatus = model.LeaveStatus(newS)
		e.ChangedAt = parseTime(at)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- queries ---

func (s *Store) Search(ctx context.Context, f model.SearchFilter) ([]*model.LeaveRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DateFrom != "" {
		where = append(where, "start_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "start_date <= ?")
		args = append(args, f.DateTo)
	}

	q := `SELECT ` + leaveColumns + ` FROM leaves`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit == 0 {
			limit = -1 // no upper bound in SQLite
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}
	return s.getMany(ctx, q, args...)
}

func (s *Store) ListLeaves(ctx context.Context, from, to *time.Time) ([]*model.LeaveRequest, error) {
	cond, args := createdRange(from, to)
	return s.getMany(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE 1=1`+cond+` ORDER BY created_at DESC, id DESC`, args...)
}

func (s *Store) Statistics(ctx context.Context, from, to *time.Time) (*model.Statistics, error) {
	cond, args := createdRange(from, to)
	st := &model.Statistics{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leaves WHERE 1=1`+cond+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		st.Total += n
		switch model.LeaveStatus(status) {
		case model.LeaveStatusApproved:
			st.Approved = n
		case model.LeaveStatusRejected:
			st.Rejected = n
		case model.LeaveStatusPending:
			st.Pending = n
		case model.LeaveStatusCancelled:
			st.Cancelled = n
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(duration) FROM leaves WHERE status = 'approved'`+cond, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		st.AverageDuration = avg.Float64
	}

	top, err := s.db.QueryContext(ctx, `
		SELECT user_id, MAX(username), COUNT(*) AS c FROM leaves
		WHERE status = 'approved'`+cond+`
		GROUP BY user_id ORDER BY c DESC LIMIT 5`, args...)
	if err != nil {
		return nil, fmt.Errorf("top requesters: %w", err)
	}
	defer top.Close()
	for top.Next() {
		var rc model.RequesterCount
		if err := top.Scan(&rc.UserID, &rc.Username, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan top requester: %w", err)
		}
		st.TopRequesters = append(st.TopRequesters, rc)
	}
	return st, top.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeave(row rowScanner) (*model.LeaveRequest, error) {
	var (
		l                                   model.LeaveRequest
		status, created, updated            string
		roleID, messageID, channelID        sql.NullString
		processedBy, processedAt, rejection sql.NullString
	)
	err := row.Scan(&l.RequestID, &l.UserID, &l.Username, &l.Reason, &l.Duration, &l.StartDate, &l.EndDate,
		&status, &roleID, &messageID, &channelID, &created, &updated, &processedBy, &processedAt, &rejection)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeaveStatus(status)
	l.RoleID = roleID.String
	l.MessageID = messageID.String
	l.ChannelID = channelID.String
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	l.ProcessedBy = processedBy.String
	l.RejectionReason = rejection.String
	if processedAt.Valid && processedAt.String != "" {
		t := parseTime(processedAt.String)
		l.ProcessedAt = &t
	}
	return &l, nil
}

func (s *Store) getOne(ctx context.Context, query string, args ...any) (*model.LeaveRequest, error) {
	l, err := scanLeave(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find leave request: %w", err)
	}
	return l, nil
}

func (s *Store) getMany(ctx context.Context, query string, args ...any) ([]*model.LeaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find leave requests: %w", err)
	}
	defer rows.Close()

	var results []*model.LeaveRequest
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, fmt.Errorf("decode leave request: %w", err)
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

func createdRange(from, to *time.Time) (string, []any) {
	var (
		cond string
		args []any
	)
	if from != nil {
		cond += ` AND created_at >= ?`
		args = append(args, formatTime(from.UTC()))
	}
	if to != nil {
		cond += ` AND created_at <= ?`
		args = append(args, formatTime(to.UTC()))
	}
	return cond, args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
