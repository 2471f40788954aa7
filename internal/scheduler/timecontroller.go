package scheduler

// TimeController decides the simulation delta-seconds for a frame given the
// observed wall-clock delta. It is the only piece of the frame pipeline
// allowed to diverge between a standalone host (free-running) and a
// lockstep participant (paced by a master's FrameOrder) — see package
// lockstep for the networked variants. Which kind to use is chosen once,
// when the controller is passed to NewHost; Host has no method to replace it.
type TimeController interface {
	NextDelta(wallDelta float32) float32
}

// VariableStepController passes the observed wall-clock delta straight
// through — the simplest controller, suitable for non-networked hosts that
// don't need determinism across runs.
type VariableStepController struct{}

func (VariableStepController) NextDelta(wallDelta float32) float32 { return wallDelta }

// FixedStepController always reports the same delta regardless of the
// observed wall-clock delta, for deterministic replay/recording.
type FixedStepController struct {
	Step float32
}

func NewFixedStepController(step float32) FixedStepController {
	return FixedStepController{Step: step}
}

func (c FixedStepController) NextDelta(float32) float32 { return c.Step }
