package server

// dropReason explains why a schema-valid update was discarded before it
// reached the registry. Drops are not errors: the submitter still gets an
// acknowledgment, the registry is simply left untouched.
type dropReason string

const (
	dropNone          dropReason = ""
	dropEyeNoPosition dropReason = "eye has no recorded position"
	dropBoxUnknown    dropReason = "box was never seeded with a color"
)

// reconcileEye merges a validated partial update into the prior record.
// Fields absent from the update carry over unchanged; the timestamp is
// always the server's, never the client's. An eye that has never reported a
// position cannot be created from a lookAt-only update.
func reconcileEye(prior *EyeEntity, up *EyeUpdate, nowMillis int64) (*EyeEntity, dropReason) {
	if prior == nil {
		if up.P == nil {
			return nil, dropEyeNoPosition
		}
		next := &EyeEntity{ID: up.ID, Name: up.Name, Pos: *up.P, UpdatedAt: nowMillis}
		if up.L != nil {
			next.Look = *up.L
		} else {
			// Default gaze: straight ahead along -Z from the spawn position.
			next.Look = Vec3{next.Pos[0], next.Pos[1], next.Pos[2] - defaultLookAhead}
		}
		return next, dropNone
	}

	next := *prior
	if up.P != nil {
		next.Pos = *up.P
	}
	if up.L != nil {
		next.Look = *up.L
	}
	if up.Name != "" {
		next.Name = up.Name
	}
	next.UpdatedAt = nowMillis
	return &next, dropNone
}

// reconcileBox merges a validated partial update into the prior record.
// Boxes only come into existence through seeding, which is the sole place a
// color is ever assigned; an update referencing an unseeded id has no color
// context and is dropped.
func reconcileBox(prior *BoxEntity, up *BoxUpdate, nowMillis int64) (*BoxEntity, dropReason) {
	if prior == nil {
		return nil, dropBoxUnknown
	}

	next := *prior
	if up.P != nil {
		next.Pos = *up.P
	}
	if up.O != nil {
		next.Orient = *up.O
	}
	next.UpdatedAt = nowMillis
	return &next, dropNone
}

// newSeededBox builds a box record at creation time. The palette index is
// the box's creation order, so colors are deterministic and cyclic.
func newSeededBox(id string, pos, orient Vec3, creationIndex int, nowMillis int64) *BoxEntity {
	return &BoxEntity{
		ID:        id,
		Pos:       pos,
		Orient:    orient,
		Color:     boxPalette[creationIndex%len(boxPalette)],
		UpdatedAt: nowMillis,
	}
}
