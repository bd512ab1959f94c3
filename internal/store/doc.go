// Package store persists each user's reminder set and provides the
// optimistic read-modify-write transaction the scheduling engine relies on.
//
// The durable shape mirrors the upstream data model: one row per user
// holding the whole reminder array, plus a version counter. A transaction
// reads the current set, lets the caller compute the next set, and commits
// only if the version is unchanged; otherwise it retries with a small
// jittered backoff and eventually fails with ErrConflict.
package store
