// Package ingest delivers chat lines to the speech pipeline.
//
// Sources (the websocket endpoint and stdin) submit [Message] values to a
// [Queue]. The queue is bounded and drained by a single worker, so lines are
// spoken one at a time in arrival order. A full queue drops the new line
// instead of blocking the source, and message ids seen recently are ignored.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/chatvoice/internal/observe"
)

// Sentinel errors returned by [Queue.Submit].
var (
	ErrQueueFull = errors.New("ingest: queue full")
	ErrDuplicate = errors.New("ingest: duplicate message id")
	ErrClosed    = errors.New("ingest: queue closed")
	ErrEmpty     = errors.New("ingest: empty message")
)

// Message is one chat line.
type Message struct {
	// ID is the source's message id, used for de-duplication. Empty ids are
	// never treated as duplicates.
	ID string `json:"id"`

	// Name is the author's display name.
	Name string `json:"name"`

	// Text is the raw chat text.
	Text string `json:"text"`

	// Self marks lines authored by the operator.
	Self bool `json:"self"`
}

// Speaker consumes chat lines. *speech.Pipeline satisfies it.
type Speaker interface {
	Speak(ctx context.Context, name, text string, self bool) error
}

// Defaults for [Queue].
const (
	DefaultSize      = 64
	DefaultDedupSize = 1024
)

// Option configures a [Queue].
type Option func(*Queue)

// WithSize bounds the number of pending lines.
func WithSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.size = n
		}
	}
}

// WithDedupSize bounds the number of remembered message ids.
func WithDedupSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.dedupSize = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

type item struct {
	msg    Message
	source string
}

// Queue is a bounded single-consumer queue of chat lines.
type Queue struct {
	speaker   Speaker
	size      int
	dedupSize int
	metrics   *observe.Metrics

	ch chan item

	mu     sync.Mutex
	seen   *recentSet
	closed bool
}

// NewQueue creates a Queue that feeds speaker. Call [Queue.Run] to start
// the worker.
func NewQueue(speaker Speaker, opts ...Option) *Queue {
	q := &Queue{
		speaker:   speaker,
		size:      DefaultSize,
		dedupSize: DefaultDedupSize,
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	q.ch = make(chan item, q.size)
	q.seen = newRecentSet(q.dedupSize)
	return q
}

// Submit enqueues msg without blocking. source labels the origin for logs
// and metrics ("websocket", "stdin", "startup").
func (q *Queue) Submit(ctx context.Context, source string, msg Message) error {
	if msg.Text == "" {
		return ErrEmpty
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if msg.ID != "" && q.seen.Contains(msg.ID) {
		return ErrDuplicate
	}

	select {
	case q.ch <- item{msg: msg, source: source}:
	default:
		slog.Warn("ingest queue full, dropping chat line",
			"source", source,
			"id", msg.ID,
			"speaker", msg.Name,
			"queue_size", q.size,
		)
		q.metrics.RecordDrop(ctx, "queue_full")
		return ErrQueueFull
	}
	if msg.ID != "" {
		q.seen.Add(msg.ID)
	}
	q.metrics.RecordIngest(ctx, source)
	return nil
}

// Len returns the number of pending lines.
func (q *Queue) Len() int { return len(q.ch) }

// Run speaks queued lines one at a time until ctx is cancelled or
// [Queue.Close] has been called and the queue is drained. Speak errors are
// already logged by the speaker and do not stop the worker.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := q.speaker.Speak(ctx, it.msg.Name, it.msg.Text, it.msg.Self); err != nil {
				slog.Debug("chat line not spoken", "source", it.source, "id", it.msg.ID, "err", err)
			}
		}
	}
}

// Close stops accepting new lines. Lines already queued are still spoken by
// a running worker.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
