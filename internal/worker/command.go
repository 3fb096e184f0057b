package worker

import (
	"github.com/GriffinCanCode/greenscreen/internal/compositor"
)

// Action names as they appear on the wire.
const (
	ActionRemoveBackgroundImage  = "removeBackgroundImage"
	ActionSetBackgroundImage     = "setBackgroundImage"
	ActionUpdateBackground       = "updateBackground"
	ActionApplyGreenscreenEffect = "applyGreenscreenEffect"
)

// Command is a message handled by a worker. The set of variants is closed;
// anything the caller cannot map arrives as Unknown.
type Command interface {
	Action() string
	isCommand()
}

// RemoveBackgroundImage clears the background.
type RemoveBackgroundImage struct{}

// SetBackgroundImage replaces the background. Pixels ownership passes to the worker.
type SetBackgroundImage struct {
	Pixels []byte
	Width  int
	Height int
}

// UpdateBackground applies a partial configuration. UnknownKeys lists payload
// keys that matched no field; each is reported and skipped.
type UpdateBackground struct {
	Patch       compositor.Patch
	UnknownKeys []string
}

// ApplyGreenscreenEffect composites one frame. Pixels ownership passes to the
// worker; the result is a separate buffer.
type ApplyGreenscreenEffect struct {
	Pixels []byte
	Width  int
	Height int
}

// Unknown carries an unrecognised action name.
type Unknown struct {
	Name string
}

func (RemoveBackgroundImage) Action() string  { return ActionRemoveBackgroundImage }
func (SetBackgroundImage) Action() string     { return ActionSetBackgroundImage }
func (UpdateBackground) Action() string       { return ActionUpdateBackground }
func (ApplyGreenscreenEffect) Action() string { return ActionApplyGreenscreenEffect }
func (u Unknown) Action() string              { return u.Name }

func (RemoveBackgroundImage) isCommand()  {}
func (SetBackgroundImage) isCommand()     {}
func (UpdateBackground) isCommand()       {}
func (ApplyGreenscreenEffect) isCommand() {}
func (Unknown) isCommand()                {}

// Internal commands used by Pool to drive replicas.

type installBackground struct {
	bg *compositor.Background
}

type applyBand struct {
	frame  []byte
	width  int
	height int
	rows   compositor.Rows
}

type snapshotQuery struct{}

func (installBackground) Action() string { return ActionSetBackgroundImage }
func (applyBand) Action() string         { return ActionApplyGreenscreenEffect }
func (snapshotQuery) Action() string     { return "snapshot" }

func (installBackground) isCommand() {}
func (applyBand) isCommand()         {}
func (snapshotQuery) isCommand()     {}

// Frame is an RGBA pixel buffer with its dimensions.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// Result is the outcome of one command.
type Result struct {
	Action   string
	Frame    *Frame              // composited output, ApplyGreenscreenEffect only
	Stats    compositor.Stats    // composite statistics
	Snapshot compositor.Snapshot // configuration after the command
	Warnings []error             // reported, non-fatal conditions
	Err      error               // command rejected, state unchanged
}
