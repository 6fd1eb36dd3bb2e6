package authdelay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	// Threshold is the number of Rejects a MAC gets before throttling starts
	Threshold = 6
	// FlushInterval is the period of the release ticker
	FlushInterval = 2700 * time.Millisecond
	MaxDelay      = 9

	counterSize = 65536
	counterTTL  = 10 * time.Minute
)

type pending struct {
	seq     uint64
	created time.Time
	key     string
	send    func()
}

func lessPending(a, b *pending) bool {
	if a.created.Equal(b.created) {
		return a.seq < b.seq
	}
	return a.created.Before(b.created)
}

// Queue throttles repeated Access-Rejects per MAC. Once a MAC was rejected
// more than Threshold times, further Rejects are held until they are older
// than the configured delay.
type Queue struct {
	mu       sync.Mutex
	counters *expirable.LRU[string, int]
	tree     *btree.BTreeG[*pending]
	seq      uint64
	delay    atomic.Int64
	now      func() time.Time
}

// New creates a queue with the reject delay in seconds
func New(delay int) *Queue {
	q := &Queue{
		counters: expirable.NewLRU[string, int](counterSize, nil, counterTTL),
		tree:     btree.NewG[*pending](8, lessPending),
		now:      time.Now,
	}
	q.SetDelay(delay)
	return q
}

// SetDelay updates the reject delay, clamped to 0..MaxDelay seconds
func (q *Queue) SetDelay(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	if seconds > MaxDelay {
		seconds = MaxDelay
	}
	q.delay.Store(int64(seconds))
}

func (q *Queue) Delay() int {
	return int(q.delay.Load())
}

// Reject counts a Reject for key and either calls send right away or queues
// it. It reports whether the reply was queued.
func (q *Queue) Reject(key string, send func()) bool {
	q.mu.Lock()
	count, _ := q.counters.Get(key)
	count++
	q.counters.Add(key, count)
	if count <= Threshold || q.Delay() == 0 {
		q.mu.Unlock()
		send()
		return false
	}
	q.seq++
	q.tree.ReplaceOrInsert(&pending{seq: q.seq, created: q.now(), key: key, send: send})
	q.mu.Unlock()

	zap.L().Debug("reject delayed",
		zap.String("namespace", "radius"),
		zap.String("key", key),
		zap.Int("count", count))
	return true
}

// Accept clears the reject counter of key
func (q *Queue) Accept(key string) {
	q.counters.Remove(key)
}

// Len returns the number of queued Rejects
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Release sends the oldest queued Reject if it has aged past the delay. It
// returns the number of Rejects sent, 0 or 1.
func (q *Queue) Release(now time.Time) int {
	delay := time.Duration(q.Delay()) * time.Second
	q.mu.Lock()
	item, ok := q.tree.Min()
	if !ok || now.Sub(item.created) < delay {
		q.mu.Unlock()
		return 0
	}
	q.tree.DeleteMin()
	q.mu.Unlock()

	item.send()
	return 1
}

// Run releases one aged Reject every FlushInterval until ctx is done
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Release(q.now())
		}
	}
}
