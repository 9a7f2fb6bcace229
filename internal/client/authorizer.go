package client

import "context"

// Authorizer is the external authorization oracle consumed by the workflow
// engine. The engine only needs yes/no answers; permission internals live in
// the platform identity service.
type Authorizer interface {
	// CanOverride reports whether the user holds override authority, i.e.
	// may skip approval steps and escalate stalled workflows.
	CanOverride(ctx context.Context, userID string) (bool, error)
}

// StaticAuthorizer answers from a fixed allowlist. The service binary wires
// it from OVERRIDE_USER_IDS; tests construct it directly.
type StaticAuthorizer struct {
	override map[string]struct{}
}

// NewStaticAuthorizer builds an allowlist-backed authorizer.
func NewStaticAuthorizer(overrideUserIDs []string) *StaticAuthorizer {
	m := make(map[string]struct{}, len(overrideUserIDs))
	for _, id := range overrideUserIDs {
		m[id] = struct{}{}
	}
	return &StaticAuthorizer{override: m}
}

// CanOverride implements Authorizer.
func (a *StaticAuthorizer) CanOverride(_ context.Context, userID string) (bool, error) {
	_, ok := a.override[userID]
	return ok, nil
}
