// Package config loads the declarative settings a host needs before it can
// call scheduler.Host.Initialize: chunk sizing, per-module execution
// policies, and which TimeController variant to drive the frame loop with.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/lockstep"
	"simcore/internal/scheduler"
)

// TimeControllerKind names which scheduler.TimeController constructor a
// HostConfig selects. The concrete controllers (wall-clock, fixed-step,
// lockstep master/slave) live in internal/scheduler and internal/lockstep;
// this package only records the choice.
type TimeControllerKind string

const (
	WallClock        TimeControllerKind = "wall_clock"
	FixedStep        TimeControllerKind = "fixed_step"
	LockstepMaster   TimeControllerKind = "lockstep_master"
	LockstepSlave    TimeControllerKind = "lockstep_slave"
	ContinuousMaster TimeControllerKind = "continuous_master"
	ContinuousSlave  TimeControllerKind = "continuous_slave"
)

// ModulePolicyConfig is the YAML-facing mirror of scheduler.ExecutionPolicy:
// the same fields, but with string mode/strategy names so the file format
// doesn't depend on the numeric Mode/Strategy encoding.
type ModulePolicyConfig struct {
	Mode                  string  `yaml:"mode"`
	Strategy              string  `yaml:"strategy"`
	TargetFrequencyHz     float64 `yaml:"target_frequency_hz"`
	MaxExpectedRuntimeMS  int64   `yaml:"max_expected_runtime_ms"`
	FailureThreshold      int     `yaml:"failure_threshold"`
	CircuitResetTimeoutMS int64   `yaml:"circuit_reset_timeout_ms"`
}

// ToExecutionPolicy decodes the string mode/strategy into their numeric
// scheduler.ExecutionPolicy counterparts. An unrecognized name is an
// InvalidState error, not a zero-value fallback — a typo in a config file
// should fail loudly, not silently become Synchronous/Direct.
func (c ModulePolicyConfig) ToExecutionPolicy() (scheduler.ExecutionPolicy, error) {
	mode, err := parseMode(c.Mode)
	if err != nil {
		return scheduler.ExecutionPolicy{}, err
	}
	strategy, err := parseStrategy(c.Strategy)
	if err != nil {
		return scheduler.ExecutionPolicy{}, err
	}
	return scheduler.ExecutionPolicy{
		Mode:                  mode,
		Strategy:              strategy,
		TargetFrequencyHz:     c.TargetFrequencyHz,
		MaxExpectedRuntimeMS:  c.MaxExpectedRuntimeMS,
		FailureThreshold:      c.FailureThreshold,
		CircuitResetTimeoutMS: c.CircuitResetTimeoutMS,
	}, nil
}

func parseMode(s string) (scheduler.Mode, error) {
	switch s {
	case "synchronous":
		return scheduler.Synchronous, nil
	case "frame_synced":
		return scheduler.FrameSynced, nil
	case "asynchronous":
		return scheduler.Asynchronous, nil
	default:
		return 0, &kernel.Error{Kind: kernel.InvalidState, Message: "config: unknown execution mode " + s}
	}
}

func parseStrategy(s string) (scheduler.Strategy, error) {
	switch s {
	case "direct":
		return scheduler.Direct, nil
	case "gdb":
		return scheduler.GDB, nil
	case "sod":
		return scheduler.SoD, nil
	default:
		return 0, &kernel.Error{Kind: kernel.InvalidState, Message: "config: unknown provider strategy " + s}
	}
}

// HostConfig is the top-level declarative file format: chunk size, every
// module's policy keyed by module name, and the time-controller choice.
// Analogous in spirit to the teacher's WorldConfig/DefaultWorldConfig, but
// loaded from a file rather than constructed as a Go literal, since §6
// requires execution policy to be "selectable via declarative configuration
// before initialization".
type HostConfig struct {
	ChunkSize         int                           `yaml:"chunk_size"`
	TimeController    TimeControllerKind            `yaml:"time_controller"`
	FixedDeltaSeconds float32                       `yaml:"fixed_delta_seconds"`
	MaxHistoryFrames  int                           `yaml:"max_history_frames"`
	Modules           map[string]ModulePolicyConfig `yaml:"modules"`

	locked bool
}

// DefaultHostConfig mirrors DefaultWorldConfig's role: sane defaults for a
// host that hasn't loaded a file at all.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		ChunkSize:         1024,
		TimeController:    WallClock,
		FixedDeltaSeconds: 1.0 / 60.0,
		MaxHistoryFrames:  120,
		Modules:           make(map[string]ModulePolicyConfig),
	}
}

// Load reads and parses a HostConfig from a YAML file at path.
func Load(path string) (HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HostConfig{}, &kernel.Error{Kind: kernel.InvalidState, Message: "config: cannot read " + path + ": " + err.Error()}
	}
	return Parse(data)
}

// Parse decodes a HostConfig from raw YAML bytes.
func Parse(data []byte) (HostConfig, error) {
	cfg := DefaultHostConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HostConfig{}, &kernel.Error{Kind: kernel.InvalidState, Message: "config: malformed yaml: " + err.Error()}
	}
	if cfg.Modules == nil {
		cfg.Modules = make(map[string]ModulePolicyConfig)
	}
	return cfg, nil
}

// Lock freezes the config against further mutation through SetModulePolicy.
// A host calls this once it has passed the config to Initialize — mirrors
// the teacher's validate-once-at-construction pattern for DefaultWorldConfig,
// generalized into an explicit state transition since this config is loaded
// from a file rather than built as a literal.
func (c *HostConfig) Lock() {
	c.locked = true
}

// SetModulePolicy adds or replaces a module's policy. Returns InvalidState
// once the config has been Locked — configuration is a before-Initialize-only
// operation.
func (c *HostConfig) SetModulePolicy(name string, policy ModulePolicyConfig) error {
	if c.locked {
		return &kernel.Error{Kind: kernel.InvalidState, Message: "config: cannot modify a locked HostConfig"}
	}
	if c.Modules == nil {
		c.Modules = make(map[string]ModulePolicyConfig)
	}
	c.Modules[name] = policy
	return nil
}

// NetworkNode names this host's role when the config selects one of the
// networked TimeController variants; unused under WallClock/FixedStep.
type NetworkNode struct {
	NodeID uint32
	Peers  []uint32
}

// BuildTimeController constructs the scheduler.TimeController the config's
// TimeController field names. The networked variants are wired against bus
// and node, since they communicate over the live event bus — see package
// lockstep.
func (c HostConfig) BuildTimeController(bus *events.Bus, node NetworkNode) (scheduler.TimeController, error) {
	switch c.TimeController {
	case WallClock, "":
		return scheduler.VariableStepController{}, nil
	case FixedStep:
		return scheduler.NewFixedStepController(c.FixedDeltaSeconds), nil
	case LockstepMaster:
		return lockstep.NewMasterLockstepController(bus, c.FixedDeltaSeconds, node.Peers), nil
	case LockstepSlave:
		return lockstep.NewSlaveLockstepController(bus, node.NodeID), nil
	case ContinuousMaster:
		return lockstep.NewMasterContinuousController(bus), nil
	case ContinuousSlave:
		return lockstep.NewSlaveContinuousController(bus), nil
	default:
		return nil, &kernel.Error{Kind: kernel.InvalidState, Message: "config: unknown time_controller " + string(c.TimeController)}
	}
}

// PolicyFor resolves name's ExecutionPolicy, decoded from the config file.
func (c HostConfig) PolicyFor(name string) (scheduler.ExecutionPolicy, bool, error) {
	mc, ok := c.Modules[name]
	if !ok {
		return scheduler.ExecutionPolicy{}, false, nil
	}
	policy, err := mc.ToExecutionPolicy()
	if err != nil {
		return scheduler.ExecutionPolicy{}, true, err
	}
	return policy, true, nil
}
