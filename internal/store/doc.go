// Package store provides the shared environment and its change notification.
//
// This package is internal to translucent. It holds the key/value
// [Environment] that the running program reads, and publishes an
// [UpdateRecord] to every subscriber whenever a key changes.
//
// The main components are:
//
//   - [Store]: Interface defining read, update and subscription operations
//   - [MemoryStore]: In-memory implementation of Store
//   - [UpdateRecord]: The key, value and origin of an accepted mutation
//
// Updates whose value is deep-equal to the current value are dropped without
// notification. Combined with [Origin] tagging this keeps two synchronized
// stores from echoing each other's changes forever.
//
// Notification is synchronous: a subscriber's callback runs inside the
// Update call that triggered it, in registration order.
package store
