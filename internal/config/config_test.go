package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcore/internal/events"
	"simcore/internal/lockstep"
	"simcore/internal/scheduler"
)

func Test_DefaultHostConfig_HasSaneDefaults(t *testing.T) {
	// Arrange & Act
	cfg := DefaultHostConfig()

	// Assert
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, WallClock, cfg.TimeController)
	assert.NotNil(t, cfg.Modules)
}

func Test_Parse_DecodesModulePolicies(t *testing.T) {
	// Arrange
	yaml := []byte(`
chunk_size: 512
time_controller: fixed_step
fixed_delta_seconds: 0.016
modules:
  physics:
    mode: frame_synced
    strategy: gdb
    target_frequency_hz: 60
    max_expected_runtime_ms: 8
    failure_threshold: 5
    circuit_reset_timeout_ms: 2000
`)

	// Act
	cfg, err := Parse(yaml)
	require.NoError(t, err)
	policy, found, err := cfg.PolicyFor("physics")

	// Assert
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, scheduler.FrameSynced, policy.Mode)
	assert.Equal(t, scheduler.GDB, policy.Strategy)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, FixedStep, cfg.TimeController)
}

func Test_PolicyFor_UnknownModuleNotFound(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()

	// Act
	_, found, err := cfg.PolicyFor("ghost")

	// Assert
	assert.NoError(t, err)
	assert.False(t, found)
}

func Test_ModulePolicyConfig_UnknownModeIsRejected(t *testing.T) {
	// Arrange
	yaml := []byte(`
modules:
  bogus:
    mode: not_a_real_mode
    strategy: direct
    target_frequency_hz: 60
    failure_threshold: 1
`)
	cfg, err := Parse(yaml)
	require.NoError(t, err)

	// Act
	_, found, err := cfg.PolicyFor("bogus")

	// Assert
	assert.True(t, found)
	assert.Error(t, err)
}

func Test_HostConfig_SetModulePolicyFailsAfterLock(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()
	cfg.Lock()

	// Act
	err := cfg.SetModulePolicy("new_module", ModulePolicyConfig{
		Mode: "synchronous", Strategy: "direct", TargetFrequencyHz: 60, FailureThreshold: 1,
	})

	// Assert
	assert.Error(t, err)
}

func Test_HostConfig_SetModulePolicySucceedsBeforeLock(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()

	// Act
	err := cfg.SetModulePolicy("render", ModulePolicyConfig{
		Mode: "synchronous", Strategy: "direct", TargetFrequencyHz: 30, FailureThreshold: 2,
	})

	// Assert
	require.NoError(t, err)
	policy, found, err := cfg.PolicyFor("render")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, scheduler.Synchronous, policy.Mode)
}

func Test_BuildTimeController_SelectsWallClockByDefault(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()
	bus := events.NewBus()

	// Act
	ctrl, err := cfg.BuildTimeController(bus, NetworkNode{})

	// Assert
	require.NoError(t, err)
	assert.IsType(t, scheduler.VariableStepController{}, ctrl)
}

func Test_BuildTimeController_SelectsLockstepMaster(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()
	cfg.TimeController = LockstepMaster
	bus := events.NewBus()

	// Act
	ctrl, err := cfg.BuildTimeController(bus, NetworkNode{NodeID: 1, Peers: []uint32{2, 3}})

	// Assert
	require.NoError(t, err)
	_, ok := ctrl.(*lockstep.MasterLockstepController)
	assert.True(t, ok)
}

func Test_BuildTimeController_UnknownKindErrors(t *testing.T) {
	// Arrange
	cfg := DefaultHostConfig()
	cfg.TimeController = TimeControllerKind("nonsense")
	bus := events.NewBus()

	// Act
	_, err := cfg.BuildTimeController(bus, NetworkNode{})

	// Assert
	assert.Error(t, err)
}
