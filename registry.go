package server

import "sort"

// EyeEntity is the authoritative record of an eye avatar. Instances are
// complete: once created an eye always has both a position and a gaze
// target.
type EyeEntity struct {
	ID        string
	Name      string
	Pos       Vec3
	Look      Vec3
	UpdatedAt int64 // milliseconds since epoch, server-stamped
}

// BoxEntity is the authoritative record of a box. Color is assigned once at
// seeding time and never changes.
type BoxEntity struct {
	ID        string
	Pos       Vec3
	Orient    Vec3
	Color     string
	UpdatedAt int64
}

func (e *EyeEntity) wire() EyeState {
	return EyeState{Type: EventTypeEyeUpdate, ID: e.ID, Name: e.Name, P: e.Pos, L: e.Look, T: e.UpdatedAt}
}

func (b *BoxEntity) wire() BoxState {
	return BoxState{Type: EventTypeBoxState, ID: b.ID, P: b.Pos, O: b.Orient, C: b.Color, T: b.UpdatedAt}
}

// Registry is a dumb keyed store, one map per entity kind. It performs no
// merging and no locking of its own: every call happens under the owning
// hub's mutex, which is the single-writer discipline that substitutes for
// the original host's run-to-completion event loop.
type Registry struct {
	eyes  map[string]*EyeEntity
	boxes map[string]*BoxEntity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		eyes:  make(map[string]*EyeEntity),
		boxes: make(map[string]*BoxEntity),
	}
}

func (r *Registry) eye(id string) *EyeEntity { return r.eyes[id] }

func (r *Registry) box(id string) *BoxEntity { return r.boxes[id] }

func (r *Registry) upsertEye(e *EyeEntity) { r.eyes[e.ID] = e }

func (r *Registry) upsertBox(b *BoxEntity) { r.boxes[b.ID] = b }

func (r *Registry) evictEye(id string) { delete(r.eyes, id) }

// allEyes returns the full eye set ordered by id so snapshots are
// deterministic.
func (r *Registry) allEyes() []*EyeEntity {
	ids := make([]string, 0, len(r.eyes))
	for id := range r.eyes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	eyes := make([]*EyeEntity, 0, len(ids))
	for _, id := range ids {
		eyes = append(eyes, r.eyes[id])
	}
	return eyes
}

// allBoxes returns the full box set ordered by id.
func (r *Registry) allBoxes() []*BoxEntity {
	ids := make([]string, 0, len(r.boxes))
	for id := range r.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	boxes := make([]*BoxEntity, 0, len(ids))
	for _, id := range ids {
		boxes = append(boxes, r.boxes[id])
	}
	return boxes
}
