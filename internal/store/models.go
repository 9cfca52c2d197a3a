package store

import "time"

type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot is one account's authoritative state document. State holds the
// serialized document; LastModified is server-assigned epoch milliseconds,
// strictly increasing per account.
type Snapshot struct {
	AccountID    string
	State        []byte
	LastModified int64
	UpdatedAt    time.Time
}

// HistoryEntry is the flattened search projection of a completed session.
type HistoryEntry struct {
	ID         string
	AccountID  string
	Kind       string
	Feeling    string
	Note       string
	StartedAt  int64
	EndedAt    int64
	DurationMs int64
}
