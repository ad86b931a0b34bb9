// Package approvals holds alerts waiting for a human decision. A queue is
// owned by one service instance; the memory queue is lost on restart, the
// Redis queue is not.
package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("approval queue full")

// Status of a queued item.
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
)

// Request is what a caller hands to Enqueue.
type Request struct {
	Alert     json.RawMessage `json:"alert"`
	ChannelID *string         `json:"channel_id"`
	ThreadTS  *string         `json:"thread_ts"`
}

// Item is a queued approval.
type Item struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Status    Status          `json:"status"`
	Alert     json.RawMessage `json:"alert"`
	ChannelID *string         `json:"channel_id"`
	ThreadTS  *string         `json:"thread_ts"`
}

// Queue is a bounded FIFO of pending approvals. TakeNext hands each item to
// exactly one caller and reports false when nothing is pending.
type Queue interface {
	Enqueue(ctx context.Context, req Request) (Item, error)
	TakeNext(ctx context.Context) (Item, bool, error)
	Len(ctx context.Context) (int, error)
}

func newItem(req Request, now time.Time) Item {
	a := req.Alert
	if len(a) == 0 || string(a) == "null" {
		a = json.RawMessage(`{}`)
	}
	return Item{
		ID:        uuid.NewString(),
		CreatedAt: now.Unix(),
		Status:    StatusPending,
		Alert:     a,
		ChannelID: req.ChannelID,
		ThreadTS:  req.ThreadTS,
	}
}
