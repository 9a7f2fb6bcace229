package client

import "context"

// EntityKind enumerates the business entity kinds the engine can approve.
type EntityKind string

const (
	EntityStoreOrder           EntityKind = "store_order"
	EntityMassOrder            EntityKind = "mass_order"
	EntityWastage              EntityKind = "wastage"
	EntityIntercompanyTransfer EntityKind = "intercompany_transfer"
)

// DisplayInfo is the presentation metadata for an entity kind, resolved once
// at the service boundary and never inside the engine.
type DisplayInfo struct {
	Name     string
	URLPath  string
	Category string
}

// DisplayInfo returns presentation metadata for the kind.
func (k EntityKind) DisplayInfo() DisplayInfo {
	switch k {
	case EntityStoreOrder:
		return DisplayInfo{Name: "Store Order", URLPath: "/store-orders", Category: "ordering"}
	case EntityMassOrder:
		return DisplayInfo{Name: "Mass Order", URLPath: "/mass-orders", Category: "ordering"}
	case EntityWastage:
		return DisplayInfo{Name: "Wastage Record", URLPath: "/wastages", Category: "inventory"}
	case EntityIntercompanyTransfer:
		return DisplayInfo{Name: "Inter-Company Transfer", URLPath: "/ic-transfers", Category: "transfers"}
	}
	return DisplayInfo{Name: string(k), URLPath: "/", Category: "other"}
}

// Valid reports whether the kind is one the engine knows about.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityStoreOrder, EntityMassOrder, EntityWastage, EntityIntercompanyTransfer:
		return true
	}
	return false
}

// SnapshotProvider maps a domain entity reference to the flat/nested
// attribute map that rule conditions read. The domain CRUD services own the
// entities; the engine only ever sees the snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, kind EntityKind, entityID string) (map[string]any, error)
}
