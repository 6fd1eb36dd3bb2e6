package trace

import (
	"container/ring"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
)

// TopicPacket prefixes the per subscriber topics recorded entries are
// published on
const TopicPacket = "radius:trace"

const DefaultSize = 200

// Entry one traced packet
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"` // in | out
	NasAddr   string    `json:"nas_addr"`
	Username  string    `json:"username"`
	Code      string    `json:"code"`
	Attrs     []string  `json:"attrs"`
}

// Tracer keeps the last packets in a global ring and in one ring per
// watched username.
type Tracer struct {
	mu      sync.Mutex
	size    int
	enabled atomic.Bool
	global  *ring.Ring
	users   map[string]*ring.Ring
	bus     EventBus.Bus
	topics  map[string]struct{}
}

func New(size int) *Tracer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Tracer{
		size:   size,
		global: ring.New(size),
		users:  make(map[string]*ring.Ring),
		bus:    EventBus.New(),
		topics: make(map[string]struct{}),
	}
}

// SetEnabled toggles the global trace
func (t *Tracer) SetEnabled(v bool) {
	t.enabled.Store(v)
}

func (t *Tracer) Enabled() bool {
	return t.enabled.Load()
}

// Watch starts tracing username
func (t *Tracer) Watch(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[username]; !ok {
		t.users[username] = ring.New(t.size)
	}
}

// Unwatch stops tracing username and drops its entries
func (t *Tracer) Unwatch(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, username)
}

// Watched lists the traced usernames
func (t *Tracer) Watched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.users))
	for name := range t.users {
		names = append(names, name)
	}
	return names
}

// Active reports whether a packet of username would be recorded
func (t *Tracer) Active(username string) bool {
	if t.Enabled() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[username]
	return ok
}

// Record stores e when tracing applies to it
func (t *Tracer) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	recorded := false
	var topics []string
	t.mu.Lock()
	if t.Enabled() {
		t.global.Value = e
		t.global = t.global.Next()
		recorded = true
	}
	if r, ok := t.users[e.Username]; ok {
		r.Value = e
		t.users[e.Username] = r.Next()
		recorded = true
	}
	if recorded {
		for topic := range t.topics {
			topics = append(topics, topic)
		}
	}
	t.mu.Unlock()
	for _, topic := range topics {
		t.bus.Publish(topic, e)
	}
}

// Global returns the global entries, oldest first
func (t *Tracer) Global() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return collect(t.global)
}

// User returns the entries of username, oldest first
func (t *Tracer) User(username string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.users[username]
	if !ok {
		return nil
	}
	return collect(r)
}

// Subscribe calls fn asynchronously for each recorded entry until the
// returned cancel func is called. Every subscriber gets its own topic since
// the bus tells handlers apart by code pointer only.
func (t *Tracer) Subscribe(fn func(Entry)) (cancel func(), err error) {
	topic := TopicPacket + ":" + uuid.NewString()
	if err := t.bus.SubscribeAsync(topic, fn, false); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.topics, topic)
			t.mu.Unlock()
			_ = t.bus.Unsubscribe(topic, fn)
		})
	}, nil
}

// Subscribers returns the number of live subscriptions
func (t *Tracer) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics)
}

// Wait blocks until the asynchronous subscribers are done
func (t *Tracer) Wait() {
	t.bus.WaitAsync()
}

// collect walks from the oldest slot, r being the next write position
func collect(r *ring.Ring) []Entry {
	var out []Entry
	r.Do(func(v interface{}) {
		if e, ok := v.(Entry); ok {
			out = append(out, e)
		}
	})
	return out
}
