package kato

import "context"

// TenantCache tracks which node_ids are active and evicts idle ones (spec
// §5). Concrete implementation: pkg/tenant.
type TenantCache interface {
	Touch(nodeID string)
	Evict(nodeID string)
}

// Engine is the assembled, ready-to-use entry point: a Processor plus the
// durable SessionStore and TenantCache that give it somewhere to persist
// state across calls and a way to bound resident tenant count. Processor
// itself stays usable standalone (e.g. in tests, against an in-memory
// SessionState caller manages directly) — Engine is the batteries-included
// wiring for a long-running host process.
type Engine struct {
	Processor *Processor
	Sessions  SessionStore
	Tenants   TenantCache
}

// NewEngine assembles an Engine from its collaborators. tenants may be nil
// if the caller does not want eviction (e.g. a single-tenant embed).
func NewEngine(proc *Processor, sessions SessionStore, tenants TenantCache) *Engine {
	return &Engine{Processor: proc, Sessions: sessions, Tenants: tenants}
}

// StartSession creates a new session for nodeID and marks the tenant active.
func (e *Engine) StartSession(ctx context.Context, nodeID string, cfg Config) (string, error) {
	sessionID, err := e.Sessions.Create(ctx, nodeID, cfg)
	if err != nil {
		return "", err
	}
	if e.Tenants != nil {
		e.Tenants.Touch(nodeID)
	}
	return sessionID, nil
}

// Observe loads sessionID, applies in, persists the result, and returns the
// updated state. Atomic per spec §7: a failed Observe leaves the persisted
// session untouched.
func (e *Engine) Observe(ctx context.Context, sessionID string, in Input) (SessionState, []Warning, error) {
	state, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		return SessionState{}, nil, err
	}
	next, warnings, err := e.Processor.Observe(ctx, state, state.Config, in)
	if err != nil {
		return SessionState{}, warnings, err
	}
	if err := e.Sessions.Save(ctx, next); err != nil {
		return SessionState{}, warnings, err
	}
	if e.Tenants != nil {
		e.Tenants.Touch(state.NodeID)
	}
	return next, warnings, nil
}

// Learn loads sessionID, learns the current STM, and persists the result.
func (e *Engine) Learn(ctx context.Context, sessionID string) (*string, SessionState, []Warning, error) {
	state, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, SessionState{}, nil, err
	}
	name, next, warnings, err := e.Processor.Learn(ctx, state, state.Config)
	if err != nil {
		return nil, SessionState{}, warnings, err
	}
	if err := e.Sessions.Save(ctx, next); err != nil {
		return nil, SessionState{}, warnings, err
	}
	if e.Tenants != nil {
		e.Tenants.Touch(state.NodeID)
	}
	return name, next, warnings, nil
}

// Predict loads sessionID and returns ranked predictions without mutating
// the persisted session.
func (e *Engine) Predict(ctx context.Context, sessionID string) ([]Prediction, []Warning, error) {
	state, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if e.Tenants != nil {
		e.Tenants.Touch(state.NodeID)
	}
	return e.Processor.Predict(ctx, state, state.Config)
}

// ClearSTM loads sessionID, clears STM/emotives/metadata without learning,
// and persists the result.
func (e *Engine) ClearSTM(ctx context.Context, sessionID string) (SessionState, error) {
	state, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		return SessionState{}, err
	}
	next := e.Processor.ClearSTM(state)
	if err := e.Sessions.Save(ctx, next); err != nil {
		return SessionState{}, err
	}
	return next, nil
}

// ClearAll drops every learned pattern and vector belonging to nodeID and
// evicts it from the tenant cache.
func (e *Engine) ClearAll(ctx context.Context, nodeID string) error {
	if err := e.Processor.ClearAll(ctx, nodeID); err != nil {
		return err
	}
	if e.Tenants != nil {
		e.Tenants.Evict(nodeID)
	}
	return nil
}
