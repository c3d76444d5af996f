package store

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by [MemoryStore.Subscribe].
//
// It must be passed to Unsubscribe when the subscriber is torn down; the
// store otherwise keeps the callback alive for its whole lifetime.
type Subscription struct {
	fn     func(Environment, UpdateRecord)
	active atomic.Bool
}

// notification is one accepted mutation waiting to be delivered.
type notification struct {
	env    Environment
	record UpdateRecord
}

// MemoryStore is an in-memory implementation of [Store].
//
// Callbacks are invoked without any store lock held, so a subscriber may
// call Update from inside its callback. Such nested updates are queued and
// delivered after the current one, which keeps every subscriber seeing
// mutations in the order they were applied.
type MemoryStore struct {
	mu      sync.RWMutex
	env     Environment
	last    UpdateRecord
	hasLast bool

	subMu       sync.RWMutex
	subscribers []*Subscription

	dispatchMu  sync.Mutex
	pending     []notification
	dispatching bool
}

// NewMemoryStore creates a new in-memory [Store] holding a copy of seed.
//
// Seeding does not produce update records. A nil seed starts empty.
func NewMemoryStore(seed Environment) *MemoryStore {
	env := make(Environment, len(seed))
	for k, v := range seed {
		env[k] = v
	}
	return &MemoryStore{env: env}
}

// Current returns a snapshot of the environment.
//
// The returned map is a copy; modifications do not affect the store.
func (m *MemoryStore) Current() Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env.Clone()
}

// Update sets key to value and notifies all subscribers.
//
// If the current value at key is deep-equal to value nothing happens and
// Update returns false. A missing key compares equal to nil.
func (m *MemoryStore) Update(key string, value any, origin Origin) bool {
	m.mu.Lock()
	if reflect.DeepEqual(m.env[key], value) {
		m.mu.Unlock()
		return false
	}
	m.env[key] = value
	record := UpdateRecord{Key: key, Value: value, Origin: origin}
	m.last = record
	m.hasLast = true
	snapshot := m.env.Clone()
	m.mu.Unlock()

	m.dispatch(notification{env: snapshot, record: record})
	return true
}

// LastUpdate returns the most recent accepted mutation.
func (m *MemoryStore) LastUpdate() (UpdateRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// Subscribe registers fn for every subsequent accepted mutation.
//
// Callers must call [MemoryStore.Unsubscribe] when done to prevent leaks.
func (m *MemoryStore) Subscribe(fn func(Environment, UpdateRecord)) *Subscription {
	sub := &Subscription{fn: fn}
	sub.active.Store(true)

	m.subMu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.subMu.Unlock()

	return sub
}

// Unsubscribe removes a subscription.
//
// Pending deliveries to sub are dropped, including ones already queued by
// the current dispatch. Safe to call multiple times or with nil.
func (m *MemoryStore) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.active.Swap(false) {
		return
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for i, s := range m.subscribers {
		if s == sub {
			m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
			break
		}
	}
}

// dispatch delivers n, or queues it if a delivery is already in progress.
func (m *MemoryStore) dispatch(n notification) {
	m.dispatchMu.Lock()
	m.pending = append(m.pending, n)
	if m.dispatching {
		m.dispatchMu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.dispatchMu.Unlock()

		m.notifySubscribers(next)

		m.dispatchMu.Lock()
	}
	m.dispatching = false
	m.dispatchMu.Unlock()
}

// notifySubscribers calls every active subscriber in registration order.
func (m *MemoryStore) notifySubscribers(n notification) {
	m.subMu.RLock()
	subs := make([]*Subscription, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		sub.fn(n.env, n.record)
	}
}
