// Package cache stores rendered projections tagged with the repository
// revision they were computed at.
package cache

// Entry is a serialized view and the revision it reflects.
type Entry struct {
	Revision int64
	Payload  []byte
}
