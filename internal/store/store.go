package store

// Environment maps keys to the live values visible to a running program.
//
// Values are untyped at this layer. Values received over the wire are
// JSON-shaped (map[string]any, []any, float64, string, bool, nil).
type Environment map[string]any

// Clone returns a shallow copy of the environment.
func (e Environment) Clone() Environment {
	cp := make(Environment, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// Origin records where a mutation came from.
type Origin int

const (
	// Local marks a mutation made by this process.
	Local Origin = iota

	// Remote marks a mutation received from the peer.
	Remote
)

// String returns "local" or "remote".
func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UpdateRecord describes one accepted mutation of the environment.
type UpdateRecord struct {
	// Key is the environment key that changed.
	Key string `json:"key"`

	// Value is the new value stored at Key.
	Value any `json:"value"`

	// Origin tells whether the change was made locally or received from the peer.
	Origin Origin `json:"origin"`
}

// Store defines the interface for the shared environment.
//
// Store implementations must be safe for concurrent access. The environment
// is only ever mutated through [Store.Update].
type Store interface {
	// Current returns a snapshot of the environment reflecting the most
	// recent accepted mutation.
	Current() Environment

	// Update sets key to value unless the current value is deep-equal.
	// It reports whether the mutation was accepted. Accepted mutations
	// notify every subscriber before Update returns.
	Update(key string, value any, origin Origin) bool

	// LastUpdate returns the most recent accepted mutation, if any.
	LastUpdate() (UpdateRecord, bool)

	// Subscribe registers fn to be called on every accepted mutation.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe(fn func(Environment, UpdateRecord)) *Subscription

	// Unsubscribe stops delivery to a subscription.
	// Safe to call multiple times or with nil.
	Unsubscribe(sub *Subscription)
}
