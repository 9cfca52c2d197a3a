// Package fanout delivers accepted snapshot writes to every live subscriber
// of an account, across however many syncd replicas are running.
package fanout

import (
	"context"
	"encoding/json"
)

// Update is one accepted snapshot write, broadcast verbatim. Subscribers
// always receive the full value, never a diff.
type Update struct {
	State        json.RawMessage `json:"state"`
	LastModified int64           `json:"lastModified"`
}

// Hub is the delivery contract. Subscribe returns a channel of updates for
// one account and a cancel function that must be called when the subscriber
// goes away; the channel is closed on cancel.
type Hub interface {
	Publish(ctx context.Context, accountID string, update Update) error
	Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error)
	Close() error
}
