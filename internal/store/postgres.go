package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, account.ID, account.Email, account.DisplayName, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var account Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&account.ID, &account.Email, &account.DisplayName, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("lookup account by email: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	var account Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&account.ID, &account.Email, &account.DisplayName, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

// SaveSnapshot stores the account's state and returns the server-assigned
// lastModified. The value is strictly monotonic per account: never below the
// previous value plus one, even for writes inside the same millisecond.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, accountID string, state []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_modified FROM snapshots WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read previous snapshot: %w", err)
	}

	lastModified := time.Now().UnixMilli()
	if lastModified <= previous {
		lastModified = previous + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (account_id, state, last_modified, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET state = EXCLUDED.state, last_modified = EXCLUDED.last_modified, updated_at = NOW()
	`, accountID, state, lastModified)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return lastModified, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, accountID string) (Snapshot, error) {
	var snapshot Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, state, last_modified, updated_at
		FROM snapshots WHERE account_id = $1
	`, accountID).Scan(&snapshot.AccountID, &snapshot.State, &snapshot.LastModified, &snapshot.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, accountID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, account_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET account_id=EXCLUDED.account_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, accountID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	const query = `
		SELECT account_id FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`
	var accountID string
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return accountID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check access token: %w", err)
	}
	return revoked, nil
}

// ReplaceHistoryEntries rewrites the search projection for one account from
// its latest snapshot. Full replace keeps the projection converged with the
// last-write-wins document without diffing.
func (s *PostgresStore) ReplaceHistoryEntries(ctx context.Context, accountID string, entries []HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE account_id=$1`, accountID); err != nil {
		return fmt.Errorf("clear history entries: %w", err)
	}
	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history_entries (id, account_id, kind, feeling, note, started_at, ended_at, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				kind=EXCLUDED.kind, feeling=EXCLUDED.feeling, note=EXCLUDED.note,
				started_at=EXCLUDED.started_at, ended_at=EXCLUDED.ended_at, duration_ms=EXCLUDED.duration_ms
		`, entry.ID, accountID, entry.Kind, entry.Feeling, entry.Note, entry.StartedAt, entry.EndedAt, entry.DurationMs)
		if err != nil {
			return fmt.Errorf("insert history entry %s: %w", entry.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history entries: %w", err)
	}
	return nil
}

// SearchHistoryEntries is the Postgres full-text fallback used when the
// search service is unavailable.
func (s *PostgresStore) SearchHistoryEntries(ctx context.Context, accountID, query string, limit int) ([]HistoryEntry, error) {
	const search = `
		SELECT id, account_id, kind, feeling, note, started_at, ended_at, duration_ms
		FROM history_entries
		WHERE account_id = $1
			AND search_vector @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $2)) DESC, ended_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, search, accountID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search history entries: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Kind, &entry.Feeling, &entry.Note, &entry.StartedAt, &entry.EndedAt, &entry.DurationMs); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
