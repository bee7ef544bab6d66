// Package session houses concrete implementations of core.SessionStore.
// The interface and the Transcript type live in the core package so the
// pipeline depends only on the contract. Select a backend at wiring time:
//
//   - InMemoryStore: process-local map, optionally bounded with
//     least-recently-used eviction
//   - TTLStore: sliding expiry backed by github.com/patrickmn/go-cache
//
// Both create transcripts lazily with first-writer-wins semantics and return
// the same *core.Transcript for an id until it is deleted or evicted.
package session

import "errors"

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("session store is closed")
