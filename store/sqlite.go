package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"pshare/models"
)

// SQLite is the durable store. User and FriendRequest records are
// owned here; sessions are mirrored here so token resume survives a
// process restart.
type SQLite struct {
	conn *sql.DB
}

var (
	_ UserStore          = (*SQLite)(nil)
	_ SessionStore       = (*SQLite)(nil)
	_ FriendRequestStore = (*SQLite)(nil)
	_ TransferStore      = (*SQLite)(nil)
)

func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &SQLite{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			credential_hash TEXT NOT NULL,
			salt TEXT NOT NULL,
			public_key TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			UNIQUE(user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT UNIQUE NOT NULL,
			token TEXT UNIQUE NOT NULL,
			address TEXT NOT NULL,
			control_port INTEGER NOT NULL,
			transfer_port INTEGER NOT NULL,
			nat_status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS offline_transfers (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user ON friends(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_transfers_to ON offline_transfers(to_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_endpoint ON sessions(address, control_port)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// User methods

func (db *SQLite) CreateUser(u *models.User) error {
	_, err := db.conn.Exec(
		"INSERT INTO users (id, username, credential_hash, salt, public_key, last_seen) VALUES (?, ?, ?, ?, ?, ?)",
		u.ID, u.Username, u.CredentialHash, u.Salt, u.PublicKey, u.LastSeen.UTC().Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (db *SQLite) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var lastSeen string
	err := row.Scan(&u.ID, &u.Username, &u.CredentialHash, &u.Salt, &u.PublicKey, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	return &u, nil
}

func (db *SQLite) UserByID(id string) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, credential_hash, salt, public_key, last_seen FROM users WHERE id = ?", id)
	return db.scanUser(row)
}

func (db *SQLite) UserByUsername(username string) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, credential_hash, salt, public_key, last_seen FROM users WHERE username = ?", username)
	return db.scanUser(row)
}

func (db *SQLite) UpdateCredentials(id, credentialHash, salt string) error {
	return db.execOne("UPDATE users SET credential_hash = ?, salt = ? WHERE id = ?", credentialHash, salt, id)
}

func (db *SQLite) UpdatePublicKey(id, publicKey string) error {
	return db.execOne("UPDATE users SET public_key = ? WHERE id = ?", publicKey, id)
}

func (db *SQLite) UpdateLastSeen(id string, t time.Time) error {
	return db.execOne("UPDATE users SET last_seen = ? WHERE id = ?", t.UTC().Format(time.RFC3339), id)
}

func (db *SQLite) Friends(id string) ([]string, error) {
	rows, err := db.conn.Query("SELECT friend_id FROM friends WHERE user_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var friendID string
		if err := rows.Scan(&friendID); err != nil {
			return nil, err
		}
		friends = append(friends, friendID)
	}

	return friends, rows.Err()
}

func (db *SQLite) IsFriend(ownerID, friendID string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM friends WHERE user_id = ? AND friend_id = ?", ownerID, friendID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddFriendship inserts both directions in one transaction so a crash
// cannot leave a one-directional friendship.
func (db *SQLite) AddFriendship(a, b string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)", a, b); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)", b, a); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *SQLite) RemoveFriend(ownerID, friendID string) error {
	_, err := db.conn.Exec("DELETE FROM friends WHERE user_id = ? AND friend_id = ?", ownerID, friendID)
	return err
}

// Session methods

func (db *SQLite) CreateSession(s *models.Session) error {
	_, err := db.conn.Exec(
		`INSERT INTO sessions (id, user_id, token, address, control_port, transfer_port, nat_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Token, s.Address, s.ControlPort, s.TransferPort, string(s.NATStatus),
		s.CreatedAt.UTC().Format(time.RFC3339), s.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const sessionColumns = "id, user_id, token, address, control_port, transfer_port, nat_status, created_at, updated_at"

func scanSession(scan func(dest ...interface{}) error) (*models.Session, error) {
	var s models.Session
	var natStatus, createdAt, updatedAt string
	err := scan(&s.ID, &s.UserID, &s.Token, &s.Address, &s.ControlPort, &s.TransferPort, &natStatus, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.NATStatus = models.NATStatus(natStatus)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (db *SQLite) SessionByToken(token string) (*models.Session, error) {
	row := db.conn.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE token = ?", token)
	return scanSession(row.Scan)
}

func (db *SQLite) SessionByEndpoint(address string, controlPort int) (*models.Session, error) {
	row := db.conn.QueryRow(
		"SELECT "+sessionColumns+" FROM sessions WHERE address = ? AND control_port = ?", address, controlPort)
	return scanSession(row.Scan)
}

func (db *SQLite) SessionByUser(userID string) (*models.Session, error) {
	row := db.conn.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE user_id = ?", userID)
	return scanSession(row.Scan)
}

func (db *SQLite) UpdateEndpoint(id, address string, controlPort, transferPort int) error {
	return db.execOne(
		"UPDATE sessions SET address = ?, control_port = ?, transfer_port = ?, updated_at = ? WHERE id = ?",
		address, controlPort, transferPort, time.Now().UTC().Format(time.RFC3339), id,
	)
}

func (db *SQLite) UpdateTransferPort(id string, port int) error {
	return db.execOne(
		"UPDATE sessions SET transfer_port = ?, updated_at = ? WHERE id = ?",
		port, time.Now().UTC().Format(time.RFC3339), id,
	)
}

func (db *SQLite) UpdateNATStatus(id string, status models.NATStatus) error {
	return db.execOne("UPDATE sessions SET nat_status = ? WHERE id = ?", string(status), id)
}

func (db *SQLite) DeleteSession(id string) error {
	return db.execOne("DELETE FROM sessions WHERE id = ?", id)
}

func (db *SQLite) DeleteSessionByUser(userID string) error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE user_id = ?", userID)
	return err
}

func (db *SQLite) IdleSessions(cutoff time.Time) ([]models.Session, error) {
	rows, err := db.conn.Query(
		"SELECT "+sessionColumns+" FROM sessions WHERE updated_at < ?", cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

// FriendRequest methods

func (db *SQLite) CreateFriendRequest(fr *models.FriendRequest) error {
	_, err := db.conn.Exec(
		"INSERT INTO friend_requests (id, from_user_id, to_user_id, created_at) VALUES (?, ?, ?, ?)",
		fr.ID, fr.FromUserID, fr.ToUserID, fr.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (db *SQLite) FriendRequestByID(id string) (*models.FriendRequest, error) {
	var fr models.FriendRequest
	var createdAt string
	err := db.conn.QueryRow(
		"SELECT id, from_user_id, to_user_id, created_at FROM friend_requests WHERE id = ?", id,
	).Scan(&fr.ID, &fr.FromUserID, &fr.ToUserID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fr.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &fr, nil
}

func (db *SQLite) FriendRequestsTo(userID string) ([]models.FriendRequest, error) {
	rows, err := db.conn.Query(
		"SELECT id, from_user_id, to_user_id, created_at FROM friend_requests WHERE to_user_id = ? ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		var fr models.FriendRequest
		var createdAt string
		if err := rows.Scan(&fr.ID, &fr.FromUserID, &fr.ToUserID, &createdAt); err != nil {
			return nil, err
		}
		fr.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		requests = append(requests, fr)
	}

	return requests, rows.Err()
}

func (db *SQLite) DeleteFriendRequest(id string) error {
	return db.execOne("DELETE FROM friend_requests WHERE id = ?", id)
}

// OfflineTransfer methods

func (db *SQLite) CreateTransfer(t *models.OfflineTransfer) error {
	_, err := db.conn.Exec(
		"INSERT INTO offline_transfers (id, from_user_id, to_user_id, filename, size, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.FromUserID, t.ToUserID, t.Filename, t.Size, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (db *SQLite) TransfersTo(userID string) ([]models.OfflineTransfer, error) {
	rows, err := db.conn.Query(
		"SELECT id, from_user_id, to_user_id, filename, size, created_at FROM offline_transfers WHERE to_user_id = ? ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []models.OfflineTransfer
	for rows.Next() {
		var t models.OfflineTransfer
		var createdAt string
		if err := rows.Scan(&t.ID, &t.FromUserID, &t.ToUserID, &t.Filename, &t.Size, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		transfers = append(transfers, t)
	}

	return transfers, rows.Err()
}

func (db *SQLite) DeleteTransfer(id string) error {
	return db.execOne("DELETE FROM offline_transfers WHERE id = ?", id)
}

// execOne runs a statement that must affect exactly one row, mapping
// zero affected rows to ErrNotFound.
func (db *SQLite) execOne(query string, args ...interface{}) error {
	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
