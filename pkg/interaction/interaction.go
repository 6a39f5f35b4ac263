// Package interaction implements the pointer-driven crop gestures as a pure
// state machine: each event takes the current state and crop selection and
// returns the next ones. Nothing here depends on a UI framework.
package interaction

import (
	"math"

	"github.com/menta2k/cover-studio/pkg/geometry"
)

// Mode identifies the active gesture.
type Mode int

const (
	// Idle means no gesture is in progress.
	Idle Mode = iota
	// Dragging translates the selection.
	Dragging
	// Resizing grows or shrinks the selection from its bottom-right corner.
	Resizing
)

func (m Mode) String() string {
	switch m {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// Target is what a pointer-down landed on.
type Target int

const (
	TargetNone Target = iota
	TargetSelection
	TargetHandle
)

// State is the tagged gesture state. Anchor is only meaningful while
// Dragging; StartSize and StartPointer only while Resizing.
type State struct {
	Mode         Mode
	Anchor       geometry.Point
	StartSize    float64
	StartPointer geometry.Point
}

// Limits bound the selection size during gestures.
type Limits struct {
	MinSize    float64
	HandleSize float64
}

// DefaultLimits mirrors the editor defaults.
func DefaultLimits() Limits {
	return Limits{MinSize: 100, HandleSize: 16}
}

// HitTest reports whether p is on the resize handle, inside the selection,
// or outside it. The handle is the bottom-right square of handleSize.
func HitTest(area geometry.CropArea, p geometry.Point, handleSize float64) Target {
	if handleSize > 0 {
		hx := area.X + area.Size - handleSize
		hy := area.Y + area.Size - handleSize
		if p.X >= hx && p.X <= area.X+area.Size+handleSize/2 &&
			p.Y >= hy && p.Y <= area.Y+area.Size+handleSize/2 {
			return TargetHandle
		}
	}
	if area.Contains(p) {
		return TargetSelection
	}
	return TargetNone
}

// PointerDown starts a gesture. It is a no-op outside crop mode, when a
// gesture is already active, or when target is TargetNone.
func PointerDown(state State, area geometry.CropArea, p geometry.Point, target Target, cropMode bool) State {
	if !cropMode || state.Mode != Idle {
		return state
	}
	switch target {
	case TargetSelection:
		return State{Mode: Dragging, Anchor: p.Sub(area.Origin())}
	case TargetHandle:
		return State{Mode: Resizing, StartSize: area.Size, StartPointer: p}
	default:
		return state
	}
}

// PointerMove advances the active gesture and returns the new selection.
// Outside crop mode or while idle the selection is returned unchanged.
func PointerMove(state State, area geometry.CropArea, fit geometry.Fit, p geometry.Point, limits Limits, cropMode bool) (State, geometry.CropArea) {
	if !cropMode {
		return state, area
	}
	switch state.Mode {
	case Dragging:
		origin := p.Sub(state.Anchor)
		next := geometry.CropArea{X: origin.X, Y: origin.Y, Size: area.Size}
		return state, geometry.ClampOrigin(next, fit)
	case Resizing:
		delta := math.Max(p.X-state.StartPointer.X, p.Y-state.StartPointer.Y)
		next := geometry.CropArea{X: area.X, Y: area.Y, Size: state.StartSize + delta}
		return state, geometry.Constrain(next, limits.MinSize, fit)
	default:
		return state, area
	}
}

// PointerUp ends any gesture.
func PointerUp(State) State {
	return State{Mode: Idle}
}

// PointerLeave ends any gesture when the pointer leaves the crop surface.
func PointerLeave(state State) State {
	return PointerUp(state)
}

// Resize applies a discrete size change (the +/- buttons) with the same
// clamping as the resize gesture.
func Resize(area geometry.CropArea, fit geometry.Fit, delta float64, limits Limits) geometry.CropArea {
	area.Size += delta
	return geometry.Constrain(area, limits.MinSize, fit)
}
