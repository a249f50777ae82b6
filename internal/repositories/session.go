package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/shared"
)

// SessionRepository persists [models.Session] documents through a sqlx
// database handle.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new [SessionRepository] with the given database connection.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// lockSuffix returns the row-locking clause for the active driver. SQLite
// has no row locks; its database-level write lock inside a transaction
// provides the same serialization for a single-process deployment.
func (r *SessionRepository) lockSuffix() string {
	if r.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func decodeSession(document []byte) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(document, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	return &sess, nil
}

func (r *SessionRepository) get(ctx context.Context, q sqlx.QueryerContext, passcode, suffix string) (*models.Session, error) {
	query := r.db.Rebind("SELECT document FROM sessions WHERE passcode = ?" + suffix)

	var document []byte
	err := sqlx.GetContext(ctx, q, &document, query, passcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, passcode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", passcode, err)
	}

	return decodeSession(document)
}

// Load retrieves a session by passcode without locking.
// Returns [shared.ErrSessionNotFound] if no session matches.
func (r *SessionRepository) Load(ctx context.Context, passcode string) (*models.Session, error) {
	return r.get(ctx, r.db, passcode, "")
}

// FindByAccount retrieves the session owned by the given external account
// id, or (nil, nil) when the account has no session yet. Used only during
// authentication to detect re-logins.
func (r *SessionRepository) FindByAccount(ctx context.Context, accountID string) (*models.Session, error) {
	query := r.db.Rebind("SELECT document FROM sessions WHERE owner_account = ?")

	var document []byte
	err := sqlx.GetContext(ctx, r.db, &document, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session for account %s: %w", accountID, err)
	}

	return decodeSession(document)
}

// Exists reports whether a session document exists for the passcode.
func (r *SessionRepository) Exists(ctx context.Context, passcode string) (bool, error) {
	query := r.db.Rebind("SELECT COUNT(1) FROM sessions WHERE passcode = ?")

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, passcode); err != nil {
		return false, fmt.Errorf("failed to check passcode %s: %w", passcode, err)
	}
	return count > 0, nil
}

// Create inserts a new session document.
func (r *SessionRepository) Create(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()
	document, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO sessions (passcode, owner_account, document, is_playing, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.ExecContext(ctx, query,
		sess.Passcode, sess.OwnerAccount, document, sess.IsPlaying, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.Passcode, err)
	}

	return nil
}

func (r *SessionRepository) save(ctx context.Context, e sqlx.ExecerContext, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()
	document, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	query := r.db.Rebind(`
		UPDATE sessions
		SET owner_account = ?, document = ?, is_playing = ?, updated_at = ?
		WHERE passcode = ?
	`)

	result, err := e.ExecContext(ctx, query,
		sess.OwnerAccount, document, sess.IsPlaying, sess.UpdatedAt, sess.Passcode)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sess.Passcode, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, sess.Passcode)
	}

	return nil
}

// Save overwrites the full session document. Locking, not per-field
// merging, is what prevents lost updates; callers mutating state should
// prefer [SessionRepository.WithSession].
func (r *SessionRepository) Save(ctx context.Context, sess *models.Session) error {
	return r.save(ctx, r.db, sess)
}

// ListPlaying returns every session whose persisted playing flag is set.
// Used on process start to recover scheduler timers that did not survive a
// restart.
func (r *SessionRepository) ListPlaying(ctx context.Context) ([]*models.Session, error) {
	query := r.db.Rebind("SELECT document FROM sessions WHERE is_playing = ?")

	var documents [][]byte
	if err := sqlx.SelectContext(ctx, r.db, &documents, query, true); err != nil {
		return nil, fmt.Errorf("failed to list playing sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(documents))
	for _, document := range documents {
		sess, err := decodeSession(document)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Mutation is the handle passed to a [SessionRepository.WithSession]
// callback. It exposes the locked session and allows intermediate flushes
// within the open transaction (used to persist refreshed credentials before
// a playback command is issued with them).
type Mutation struct {
	repo *SessionRepository
	tx   *sqlx.Tx
	sess *models.Session
}

// Session returns the locked session document.
func (m *Mutation) Session() *models.Session {
	return m.sess
}

// Flush writes the session's current state within the open transaction.
func (m *Mutation) Flush(ctx context.Context) error {
	return m.repo.save(ctx, m.tx, m.sess)
}

// WithSession runs fn against the session identified by passcode while
// holding its exclusive lock, then persists and commits. A non-nil error
// from fn rolls the transaction back, leaving the document untouched.
//
// The lock is held across everything fn does, including remote calls, so an
// expiring timer and a manual skip cannot both advance past the same track.
func (r *SessionRepository) WithSession(ctx context.Context, passcode string, fn func(m *Mutation) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sess, err := r.get(ctx, tx, passcode, r.lockSuffix())
	if err != nil {
		return err
	}

	m := &Mutation{repo: r, tx: tx, sess: sess}
	if err := fn(m); err != nil {
		return err
	}

	if err := m.Flush(ctx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", passcode, err)
	}

	return nil
}
