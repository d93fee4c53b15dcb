package vehicle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeReplacesWholeSection(t *testing.T) {
	base := Default()
	thrusters := []ThrusterConfig{
		{Location: LocationBackRight, Enabled: true, Reversed: true},
		{Location: LocationTop, Enabled: false},
	}

	merged := base.Merge(Update{Thrusters: &thrusters})

	assert.Equal(t, thrusters, merged.Thrusters)
	assert.Equal(t, base.Grippers, merged.Grippers)
	assert.Equal(t, base.Sensors, merged.Sensors)
	assert.Equal(t, base.Sensitivity, merged.Sensitivity)
	// The base value is untouched.
	assert.Len(t, base.Thrusters, 5)
}

func TestMergeDoesNotAliasInput(t *testing.T) {
	thrusters := []ThrusterConfig{{Location: LocationTop, Enabled: true}}
	merged := Default().Merge(Update{Thrusters: &thrusters})

	thrusters[0].Enabled = false
	assert.True(t, merged.Thrusters[0].Enabled)
}

func TestMergeEmptyArrayClearsSection(t *testing.T) {
	var u Update
	require.NoError(t, json.Unmarshal([]byte(`{"grippers": []}`), &u))

	merged := Default().Merge(u)
	assert.NotNil(t, merged.Grippers)
	assert.Empty(t, merged.Grippers)
	assert.Len(t, merged.Thrusters, 5)
}

func TestUpdateFromJSON(t *testing.T) {
	var u Update
	require.NoError(t, json.Unmarshal([]byte(`{"sensitivity": {"joystick": "Low", "yaw": "Normal"}}`), &u))

	assert.False(t, u.Empty())
	assert.Nil(t, u.Thrusters)
	merged := Default().Merge(u)
	assert.Equal(t, Sensitivity{Joystick: LevelLow, Yaw: LevelNormal}, merged.Sensitivity)
	assert.Equal(t, Default().Thrusters, merged.Thrusters)
}

func TestGripperSlot(t *testing.T) {
	cfg := Default()
	g, ok := cfg.Gripper(1)
	assert.True(t, ok)
	assert.Equal(t, LocationBack, g.Location)

	_, ok = cfg.Gripper(2)
	assert.False(t, ok)
}
