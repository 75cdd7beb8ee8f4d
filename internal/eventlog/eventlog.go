package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Kind string

const (
	KindExec   Kind = "EXEC"
	KindPlan   Kind = "PLAN"
	KindIntel  Kind = "INTEL"
	KindSystem Kind = "SYSTEM"
)

type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
}

// Log is a capped append-only ring of diagnostic entries. Repeated writes of
// the same message class go through AppendThrottled, which admits at most one
// entry per class per throttle window so sustained failure states cannot
// flood the ring.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int

	throttle time.Duration
	limiters map[string]*rate.Limiter

	now func() time.Time
}

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func New(capacity int, throttle time.Duration, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = 500
	}
	l := &Log{
		capacity: capacity,
		throttle: throttle,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append always records the entry, evicting the oldest once the ring is full.
func (l *Log) Append(kind Kind, message string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Message:   message,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	return entry
}

// AppendThrottled records the entry only if the class has not been seen
// within the throttle window. Returns true if the entry was admitted.
func (l *Log) AppendThrottled(kind Kind, class, message string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[class]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.throttle), 1)
		l.limiters[class] = lim
	}
	l.mu.Unlock()

	if !lim.AllowN(l.now(), 1) {
		return false
	}
	l.Append(kind, message)
	return true
}

// Recent returns up to n entries, newest last. The returned slice is a copy.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
