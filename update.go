package translucent

import (
	"time"

	"github.com/jpalmerr/translucent/internal/server"
	"github.com/jpalmerr/translucent/internal/store"
)

// Environment is the shared key/value state seen by programs and expressions.
type Environment = store.Environment

// Origin tells which side of the channel produced an update.
type Origin = store.Origin

const (
	// OriginLocal marks updates made by the side observing them.
	OriginLocal = store.Local

	// OriginRemote marks updates received from the other side.
	OriginRemote = store.Remote
)

// Update is one accepted change in one session's environment.
//
// From the server's point of view, values it pushed (seeds, feeds and
// expressions) are local and values set by the client are remote.
type Update struct {
	// Session is the unique id of the session the update happened in.
	Session string

	Key   string
	Value any

	Origin Origin

	// At is when the update was accepted.
	At time.Time
}

// Scope is the read-only view of a session's environment passed to an
// [Expression]. It records the keys the expression reads.
type Scope = server.Scope

// Expression derives a value from a session's environment.
//
// Expressions run on the server once when a session opens. After that an
// expression runs again only when a key it read through env in its last
// run changes. Their results are sent to the client. An error leaves the
// previous value in place.
type Expression func(env *Scope) (any, error)
