// Package mixer turns pilot input and the vehicle layout into the actuator
// frame sent to the embedded controller. Everything here is pure.
package mixer

import (
	"math"

	"github.com/open-rov/rovbridge/pkg/vehicle"
)

// Servo and light channel counts of the hardware frame.
const (
	ServoChannels = 4
	LightChannels = 2
)

// Command is the hardware frame: one ESC power per configured thruster,
// servo positions in {-1, 0, 1} and light states in {0, 1}.
type Command struct {
	ESC    []float64          `json:"esc"`
	Servo  [ServoChannels]int `json:"servo"`
	Lights [LightChannels]int `json:"lights"`
}

// Gains are the multipliers applied to stick and trigger input.
type Gains struct {
	Joystick float64
	Yaw      float64
}

var gainTable = map[vehicle.Level]Gains{
	vehicle.LevelHigh:   {Joystick: 1.0, Yaw: 1.0},
	vehicle.LevelNormal: {Joystick: 0.75, Yaw: 0.7},
	vehicle.LevelLow:    {Joystick: 0.5, Yaw: 0.4},
}

// GainsFor resolves both levels; an unrecognised level falls back to Normal.
func GainsFor(s vehicle.Sensitivity) Gains {
	joy, ok := gainTable[s.Joystick]
	if !ok {
		joy = gainTable[vehicle.LevelNormal]
	}
	yaw, ok := gainTable[s.Yaw]
	if !ok {
		yaw = gainTable[vehicle.LevelNormal]
	}
	return Gains{Joystick: joy.Joystick, Yaw: yaw.Yaw}
}

// Intents are the abstract movement demands, nominally in [-1, 1].
type Intents struct {
	Surge float64 // forward/backward, negative is forward
	Sway  float64 // strafe, positive is right
	Yaw   float64 // turn, positive is clockwise
	Heave float64 // up/down
}

// ComputeIntents scales the raw frame by the configured sensitivity.
func ComputeIntents(f PilotFrame, s vehicle.Sensitivity) Intents {
	g := GainsFor(s)
	return Intents{
		Surge: finite(f.Left.Y) * g.Joystick,
		Sway:  finite(f.Left.X) * g.Joystick,
		Yaw:   (finite(f.RightTrigger) - finite(f.LeftTrigger)) * g.Yaw,
		Heave: finite(f.Right.Y) * g.Joystick,
	}
}

// RawPower applies the vectored-thrust rule for one mount point. The
// asymmetric terms match the firmware's wiring convention and must stay as is.
func RawPower(loc vehicle.Location, in Intents) float64 {
	switch loc {
	case vehicle.LocationTop:
		return in.Heave
	case vehicle.LocationFrontLeft:
		var p float64
		if in.Surge < 0 && in.Sway >= 0 {
			p = -in.Surge + in.Sway + in.Yaw
		} else if in.Sway >= 0 {
			p = -in.Sway + in.Yaw
		} else {
			p = in.Yaw
		}
		if in.Yaw < 0 {
			p -= in.Yaw
		}
		return p
	case vehicle.LocationFrontRight:
		if in.Surge < 0 {
			return in.Surge + in.Sway + in.Yaw
		}
		return in.Sway + in.Yaw
	case vehicle.LocationBackLeft:
		p := -in.Surge - in.Sway + in.Yaw
		if in.Sway < 0 {
			p += in.Sway
		}
		return p
	case vehicle.LocationBackRight:
		return in.Surge - in.Sway + in.Yaw
	default:
		return 0
	}
}

// ThrusterPower finishes a raw power for one configured thruster:
// disabled forces zero, reversed negates, -0 becomes +0, then clamp.
func ThrusterPower(t vehicle.ThrusterConfig, in Intents) float64 {
	p := RawPower(t.Location, in)
	if !t.Enabled {
		p = 0
	}
	if t.Reversed {
		p = -p
	}
	if p == 0 {
		p = 0 // drops the sign bit of -0
	}
	return math.Max(-1, math.Min(1, p))
}

// Mix builds the hardware frame for one pilot frame. It never fails.
func Mix(f PilotFrame, cfg vehicle.Configuration) Command {
	in := ComputeIntents(f, cfg.Sensitivity)

	cmd := Command{ESC: make([]float64, len(cfg.Thrusters))}
	for i, t := range cfg.Thrusters {
		cmd.ESC[i] = ThrusterPower(t, in)
	}

	if g, ok := cfg.Gripper(0); ok && g.Enabled {
		if f.Pressed(ButtonY) {
			cmd.Servo[0] = 1
		}
		if f.Pressed(ButtonA) {
			cmd.Servo[0] = -1
		}
		if f.Pressed(ButtonB) {
			cmd.Servo[1] = 1
		}
		if f.Pressed(ButtonX) {
			cmd.Servo[1] = -1
		}
	}

	if g, ok := cfg.Gripper(1); ok && g.Enabled {
		if f.Pressed(ButtonUp) {
			cmd.Servo[2] = 1
		}
		if f.Pressed(ButtonDown) {
			cmd.Servo[2] = -1
		}
		if f.Pressed(ButtonLeft) {
			cmd.Servo[3] = 1
		}
		if f.Pressed(ButtonRight) {
			cmd.Servo[3] = -1
		}
	}

	// One button drives both light channels; the firmware decides which is which.
	if f.Pressed(ButtonR1) {
		cmd.Lights[0] = 1
		cmd.Lights[1] = 1
	}

	return cmd
}

// Neutral is an all-stop frame for n thrusters.
func Neutral(n int) Command {
	if n < 0 {
		n = 0
	}
	return Command{ESC: make([]float64, n)}
}
