package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func vec(x, y, z float64) *Vec3 {
	v := Vec3{x, y, z}
	return &v
}

func TestReconcileEyeCreation(t *testing.T) {
	next, reason := reconcileEye(nil, &EyeUpdate{ID: "eye-1", Name: "Ada", P: vec(1, 2, 3)}, 1000)
	require.Equal(t, dropNone, reason)
	require.Equal(t, Vec3{1, 2, 3}, next.Pos)
	require.Equal(t, Vec3{1, 2, 3 - defaultLookAhead}, next.Look, "default gaze projects ahead along -Z")
	require.EqualValues(t, 1000, next.UpdatedAt)
}

func TestReconcileEyeCreationRequiresPosition(t *testing.T) {
	next, reason := reconcileEye(nil, &EyeUpdate{ID: "eye-1", L: vec(0, 0, -1)}, 1000)
	require.Equal(t, dropEyeNoPosition, reason)
	require.Nil(t, next)
}

func TestReconcileEyeMergeCarriesAbsentFields(t *testing.T) {
	prior := &EyeEntity{ID: "eye-1", Name: "Ada", Pos: Vec3{1, 2, 3}, Look: Vec3{4, 5, 6}, UpdatedAt: 1000}

	next, reason := reconcileEye(prior, &EyeUpdate{ID: "eye-1", L: vec(7, 8, 9)}, 2000)
	require.Equal(t, dropNone, reason)
	require.Equal(t, Vec3{1, 2, 3}, next.Pos, "position must survive a lookAt-only update")
	require.Equal(t, Vec3{7, 8, 9}, next.Look)
	require.Equal(t, "Ada", next.Name)
	require.EqualValues(t, 2000, next.UpdatedAt)

	// The prior record is never mutated in place.
	require.Equal(t, Vec3{4, 5, 6}, prior.Look)
	require.EqualValues(t, 1000, prior.UpdatedAt)
}

func TestReconcileEyeIgnoresClientTimestamp(t *testing.T) {
	next, _ := reconcileEye(nil, &EyeUpdate{ID: "eye-1", P: vec(0, 0, 0), T: 99999999}, 5000)
	require.EqualValues(t, 5000, next.UpdatedAt)
}

func TestReconcileBoxMerge(t *testing.T) {
	prior := newSeededBox("box_1", Vec3{0, 5, -20}, Vec3{}, 0, 1000)

	next, reason := reconcileBox(prior, &BoxUpdate{ID: "box_1", O: vec(0, 0.5, 0)}, 2000)
	require.Equal(t, dropNone, reason)
	require.Equal(t, Vec3{0, 5, -20}, next.Pos)
	require.Equal(t, Vec3{0, 0.5, 0}, next.Orient)
	require.Equal(t, prior.Color, next.Color, "color is fixed at seeding and never changes")
}

func TestReconcileBoxUnknownIDDropped(t *testing.T) {
	next, reason := reconcileBox(nil, &BoxUpdate{ID: "box_9", P: vec(0, 0, 0)}, 1000)
	require.Equal(t, dropBoxUnknown, reason)
	require.Nil(t, next)
}

func TestSeededBoxPaletteCycles(t *testing.T) {
	first := newSeededBox("a", Vec3{}, Vec3{}, 0, 0)
	wrapped := newSeededBox("b", Vec3{}, Vec3{}, len(boxPalette), 0)
	require.Equal(t, first.Color, wrapped.Color)

	second := newSeededBox("c", Vec3{}, Vec3{}, 1, 0)
	require.NotEqual(t, first.Color, second.Color)
}
