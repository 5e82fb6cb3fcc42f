package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/store"
)

// Queue collects stream records for committed store changes.
// It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []events.DynamoDBEventRecord
	total   int
	err     error
}

// Capture returns a context whose store writes are recorded into a new Queue.
func Capture(ctx context.Context) (context.Context, *Queue) {
	q := &Queue{}
	return store.WithRecorder(ctx, q), q
}

// Record implements store.Recorder.
func (q *Queue) Record(c store.Change) {
	rec, err := NewRecord(c)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.err = errors.Join(q.err, err)
		return
	}
	q.pending = append(q.pending, rec)
	q.total++
}

// Next pops the oldest pending record.
func (q *Queue) Next() (events.DynamoDBEventRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return events.DynamoDBEventRecord{}, false
	}
	rec := q.pending[0]
	q.pending = q.pending[1:]
	return rec, true
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Total returns the number of records ever recorded.
func (q *Queue) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Err returns conversion errors hit while recording.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
