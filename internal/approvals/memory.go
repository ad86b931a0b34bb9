package approvals

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// Memory is an in-process Queue backed by a buffered channel.
type Memory struct {
	ch  chan Item
	now func() time.Time
}

// NewMemory returns a queue holding at most capacity pending items.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		panic(xerrors.Newf("approvals: invalid capacity %d", capacity))
	}
	return &Memory{ch: make(chan Item, capacity), now: time.Now}
}

// Enqueue adds req as a pending item, or returns ErrQueueFull when the
// queue is at capacity.
func (m *Memory) Enqueue(ctx context.Context, req Request) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	it := newItem(req, m.now())
	select {
	case m.ch <- it:
		return it, nil
	default:
		return Item{}, ErrQueueFull
	}
}

// TakeNext removes the oldest pending item and marks it taken. It reports
// false when the queue is empty.
func (m *Memory) TakeNext(ctx context.Context) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	select {
	case it := <-m.ch:
		it.Status = StatusTaken
		return it, true, nil
	default:
		return Item{}, false, nil
	}
}

// Len returns the number of pending items.
func (m *Memory) Len(context.Context) (int, error) { return len(m.ch), nil }
