package search

import (
	"context"

	"github.com/lurioneli/Sleep-Suivour/internal/store"
)

// EntryStore is the slice of the Postgres store the fallback needs.
type EntryStore interface {
	SearchHistoryEntries(ctx context.Context, accountID, query string, limit int) ([]store.HistoryEntry, error)
}

// PgFTS implements Searcher on the Postgres full-text projection. It is the
// always-available fallback when Meilisearch is down or not configured.
type PgFTS struct {
	store EntryStore
}

func NewPgFTS(store EntryStore) *PgFTS {
	return &PgFTS{store: store}
}

func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	entries, err := p.store.SearchHistoryEntries(context.Background(), q.AccountID, q.Text, limit)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		results = append(results, Result{
			ID:      entry.ID,
			Kind:    entry.Kind,
			Feeling: entry.Feeling,
			Note:    entry.Note,
			EndTime: entry.EndedAt,
		})
	}
	return results, len(results), nil
}
