package vehicle

// Location identifies where an actuator is mounted. Unknown values are
// allowed; the mixer maps them to zero power.
type Location string

// Thruster mount points understood by the mixer.
const (
	LocationTop        Location = "top"
	LocationFrontLeft  Location = "frontLeft"
	LocationFrontRight Location = "frontRight"
	LocationBackLeft   Location = "backLeft"
	LocationBackRight  Location = "backRight"
)

// Gripper mount points.
const (
	LocationFront Location = "front"
	LocationBack  Location = "back"
)

// SensorType names a telemetry channel shown on the control surface.
type SensorType string

const (
	SensorDepth        SensorType = "depth"
	SensorTemperature  SensorType = "temperature"
	SensorAcceleration SensorType = "acceleration"
	SensorRotation     SensorType = "rotation"
)

// Level is a sensitivity step.
type Level string

const (
	LevelLow    Level = "Low"
	LevelNormal Level = "Normal"
	LevelHigh   Level = "High"
)

// ThrusterConfig describes one ESC channel. Its position in
// Configuration.Thrusters is the physical channel index.
type ThrusterConfig struct {
	Location Location `yaml:"location" json:"location"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Reversed bool     `yaml:"reversed" json:"reversed"`
}

// GripperConfig describes one gripper slot; each slot drives two servo channels.
type GripperConfig struct {
	Location Location `yaml:"location" json:"location"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
}

// SensorConfig only filters what is displayed; it never gates hardware reads.
type SensorConfig struct {
	Type    SensorType `yaml:"type" json:"type"`
	Enabled bool       `yaml:"enabled" json:"enabled"`
}

// Sensitivity selects the joystick and yaw gain levels.
type Sensitivity struct {
	Joystick Level `yaml:"joystick" json:"joystick"`
	Yaw      Level `yaml:"yaw" json:"yaw"`
}

// Configuration is the complete vehicle layout used for mixing.
// Values are treated as immutable once published; use Merge to derive a new one.
type Configuration struct {
	Thrusters   []ThrusterConfig `yaml:"thrusters" json:"thrusters"`
	Grippers    []GripperConfig  `yaml:"grippers" json:"grippers"`
	Sensors     []SensorConfig   `yaml:"sensors" json:"sensors"`
	Sensitivity Sensitivity      `yaml:"sensitivity" json:"sensitivity"`
}

// Update is a partial configuration. A nil section is left untouched; a
// non-nil section replaces the whole section, array elements are not merged.
type Update struct {
	Thrusters   *[]ThrusterConfig `json:"thrusters,omitempty"`
	Grippers    *[]GripperConfig  `json:"grippers,omitempty"`
	Sensors     *[]SensorConfig   `json:"sensors,omitempty"`
	Sensitivity *Sensitivity      `json:"sensitivity,omitempty"`
}

// Empty reports whether the update names no section.
func (u Update) Empty() bool {
	return u.Thrusters == nil && u.Grippers == nil && u.Sensors == nil && u.Sensitivity == nil
}

// Default returns the stock five-thruster layout with both grippers and all
// sensors enabled at High sensitivity.
func Default() Configuration {
	return Configuration{
		Thrusters: []ThrusterConfig{
			{Location: LocationTop, Enabled: true},
			{Location: LocationFrontLeft, Enabled: true},
			{Location: LocationBackLeft, Enabled: true},
			{Location: LocationFrontRight, Enabled: true},
			{Location: LocationBackRight, Enabled: true},
		},
		Grippers: []GripperConfig{
			{Location: LocationFront, Enabled: true},
			{Location: LocationBack, Enabled: true},
		},
		Sensors: []SensorConfig{
			{Type: SensorDepth, Enabled: true},
			{Type: SensorTemperature, Enabled: true},
			{Type: SensorAcceleration, Enabled: true},
			{Type: SensorRotation, Enabled: true},
		},
		Sensitivity: Sensitivity{Joystick: LevelHigh, Yaw: LevelHigh},
	}
}

// Clone returns a deep copy so callers can never alias a published snapshot.
func (c Configuration) Clone() Configuration {
	out := c
	out.Thrusters = cloneSlice(c.Thrusters)
	out.Grippers = cloneSlice(c.Grippers)
	out.Sensors = cloneSlice(c.Sensors)
	return out
}

// Merge applies u on top of c and returns the result. c is not modified.
func (c Configuration) Merge(u Update) Configuration {
	out := c.Clone()
	if u.Thrusters != nil {
		out.Thrusters = cloneSlice(*u.Thrusters)
	}
	if u.Grippers != nil {
		out.Grippers = cloneSlice(*u.Grippers)
	}
	if u.Sensors != nil {
		out.Sensors = cloneSlice(*u.Sensors)
	}
	if u.Sensitivity != nil {
		out.Sensitivity = *u.Sensitivity
	}
	return out
}

// Gripper returns the gripper in slot i (zero based) and whether it exists.
func (c Configuration) Gripper(i int) (GripperConfig, bool) {
	if i < 0 || i >= len(c.Grippers) {
		return GripperConfig{}, false
	}
	return c.Grippers[i], true
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
