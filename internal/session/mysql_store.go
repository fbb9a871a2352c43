package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-sync/internal/model"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// MySQLStore persists holds in a session_holds table.  All expiry
// comparisons run against UTC_TIMESTAMP() so the database clock is the
// single reference, regardless of the session time zone.
//
// Expected schema:
//
//	CREATE TABLE session_holds (
//	    show_id       VARCHAR(64)  NOT NULL,
//	    user_id       VARCHAR(64)  NOT NULL,
//	    seat_id       VARCHAR(64)  NOT NULL,
//	    session_id    VARCHAR(64)  NOT NULL,
//	    acquired_at   DATETIME     NOT NULL,
//	    expires_at    DATETIME     NOT NULL,
//	    renewal_count INT          NOT NULL DEFAULT 0,
//	    PRIMARY KEY (show_id, user_id, seat_id)
//	);
type MySQLStore struct {
	db     *sql.DB
	userID string
}

// NewMySQLStore returns a MySQLStore bound to a single user.  A store
// never reads or writes rows belonging to anyone else.
func NewMySQLStore(db *sql.DB, userID string) *MySQLStore {
	return &MySQLStore{db: db, userID: userID}
}

const mysqlTimeLayout = "2006-01-02 15:04:05"

// Save implements Store.  Re-saving an existing hold (a renewal)
// updates its deadline and renewal count in place.
func (s *MySQLStore) Save(ctx context.Context, hold model.Hold) error {
	const q = `INSERT INTO session_holds
	             (show_id, user_id, seat_id, session_id, acquired_at, expires_at, renewal_count)
	           VALUES (?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             session_id = VALUES(session_id),
	             expires_at = VALUES(expires_at),
	             renewal_count = VALUES(renewal_count)`
	_, err := s.db.ExecContext(ctx, q,
		hold.ShowID, hold.UserID, hold.SeatID, hold.SessionID,
		hold.AcquiredAt.UTC().Format(mysqlTimeLayout),
		hold.ExpiresAt.UTC().Format(mysqlTimeLayout),
		hold.RenewalCount,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Remove implements Store.  Removing an absent hold is a no-op.
func (s *MySQLStore) Remove(ctx context.Context, showID, seatID string) error {
	const q = `DELETE FROM session_holds WHERE show_id = ? AND user_id = ? AND seat_id = ?`
	if _, err := s.db.ExecContext(ctx, q, showID, s.userID, seatID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// List implements Store.  Expired rows are deleted before reading, so
// a stale record never resurfaces after a restart.
func (s *MySQLStore) List(ctx context.Context, showID, userID string) ([]model.Hold, error) {
	if userID != s.userID {
		return nil, nil
	}
	const purge = `DELETE FROM session_holds
	               WHERE show_id = ? AND user_id = ? AND expires_at <= UTC_TIMESTAMP()`
	if _, err := s.db.ExecContext(ctx, purge, showID, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	const q = `SELECT seat_id, session_id, acquired_at, expires_at, renewal_count
	           FROM session_holds
	           WHERE show_id = ? AND user_id = ?
	           ORDER BY seat_id`
	rows, err := s.db.QueryContext(ctx, q, showID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var holds []model.Hold
	for rows.Next() {
		h := model.Hold{ShowID: showID, UserID: userID}
		if err := rows.Scan(&h.SeatID, &h.SessionID, &h.AcquiredAt, &h.ExpiresAt, &h.RenewalCount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return holds, nil
}

// Clear implements Store.
func (s *MySQLStore) Clear(ctx context.Context, showID, userID string) error {
	if userID != s.userID {
		return nil
	}
	const q = `DELETE FROM session_holds WHERE show_id = ? AND user_id = ?`
	if _, err := s.db.ExecContext(ctx, q, showID, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
