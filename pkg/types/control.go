package types

// ControlMode selects how the Manager discovers and (re)loads models
// (spec.md §6 "model_control_mode").
type ControlMode string

const (
	// ControlNone loads every model found at startup and never polls or
	// accepts explicit load/unload calls again.
	ControlNone ControlMode = "NONE"
	// ControlPoll re-scans the repository roots on an interval (or on
	// demand via PollModelRepository) and reconciles loaded state with
	// what it finds.
	ControlPoll ControlMode = "POLL"
	// ControlExplicit loads nothing at startup beyond StartupModels; all
	// other loads/unloads happen only via explicit LoadModel/UnloadModel
	// calls.
	ControlExplicit ControlMode = "EXPLICIT"
)
