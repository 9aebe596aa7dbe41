// Package pkg holds the libraries behind panelsync.
//
// # Overview
//
// Panelsync keeps the layout of construction panels on a site consistent
// between one viewer's local edits, the authoritative layout store and the
// live updates published by other viewers. The packages split into three
// areas:
//
//  1. Domain: [panel] (records, shapes, pixel transform), [reconcile]
//     (the merge of fetched, cached and pushed positions) and [lifecycle]
//     (the state machine that drives a layout from fetch to persist).
//  2. Infrastructure: [cache] (key/value backends), [positions] (the
//     per-project position cache on top of it), [store] (layout stores) and
//     [push] (real-time rooms).
//  3. Transport and support: [remote] (the gateway interface and its HTTP
//     client), [httputil], [errors], [observability] and [buildinfo].
//
// # Data flow
//
//	layout store ──fetch──▶ reconcile ◀── position cache
//	                            │
//	push room ──event──▶ lifecycle ──view──▶ rendering surface
//	                            │
//	layout store ◀──persist─────┘
//
// The cmd/panelsync binary wires these packages into a CLI, a terminal
// viewer and a layout server.
package pkg
