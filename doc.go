// Package kato provides the core observation -> matching -> prediction
// pipeline of a multi-tenant pattern-matching and prediction engine.
//
// KATO ingests streams of multi-modal observations (discrete symbols and
// continuous vectors) into a per-session short-term memory (STM), learns
// compact patterns from that memory, and on demand produces ranked
// predictions explaining the current STM in terms of previously learned
// patterns.
//
// # Key Features
//
//   - Stateless Processor - observe/learn/predict are pure functions over an
//     explicit SessionState; no per-session mutable fields, so concurrent
//     callers never leak state across sessions.
//   - Content-addressable patterns - every learned pattern is named by the
//     SHA-1 hash of its canonical event sequence; re-learning the same
//     sequence increments frequency instead of duplicating storage.
//   - Vector symbolization - each continuous vector becomes its own
//     content-addressed symbol plus the nearest existing symbols found in a
//     per-tenant HNSW index, before ever reaching the pattern store.
//   - Tenant isolation - every pattern store keyspace and vector collection
//     is namespaced by node_id; an LRU cache evicts idle tenants.
//
// # Quick Start
//
//	cfg := kato.DefaultConfig()
//	state := kato.NewSessionState("session-1", "tenant-a", cfg)
//
//	state, _, _ = proc.Observe(ctx, state, cfg, kato.Input{Strings: []string{"a", "b"}})
//	state, _, _ = proc.Observe(ctx, state, cfg, kato.Input{Strings: []string{"c", "d"}})
//	name, state, _, _ := proc.Learn(ctx, state, cfg)
//
// See pkg/sessionstore, pkg/vectorindexer, pkg/patternstore, pkg/recall and
// pkg/prediction for the concrete subsystems the Processor is wired against.
package kato
