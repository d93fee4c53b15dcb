package mixer

import (
	"encoding/json"
	"math"
)

// Gamepad button names as sent by the control surface.
const (
	ButtonA     = "A"
	ButtonB     = "B"
	ButtonX     = "X"
	ButtonY     = "Y"
	ButtonL1    = "L1"
	ButtonR1    = "R1"
	ButtonUp    = "up"
	ButtonDown  = "down"
	ButtonLeft  = "left"
	ButtonRight = "right"
)

// Stick is one two-axis stick reading, each axis in [-1, 1].
// Gamepads report "up" as negative Y.
type Stick struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PilotFrame is one sampled snapshot of the gamepad.
type PilotFrame struct {
	Left         Stick
	Right        Stick
	Buttons      map[string]bool
	LeftTrigger  float64 // L2, in [0, 1]
	RightTrigger float64 // R2, in [0, 1]
}

// Pressed reports whether the named button is held.
func (f PilotFrame) Pressed(name string) bool {
	return f.Buttons[name]
}

// wireFrame is the browser Gamepad API shape:
//
//	{"axes": {"L": [x, y], "R": [x, y]},
//	 "buttons": {"A": false, ..., "L2": 0.0, "R2": 0.0, "up": false, ...}}
//
// Older clients nest the d-pad under "DPad". Every level is kept raw so a bad
// value only zeroes itself.
type wireFrame struct {
	Axes    json.RawMessage `json:"axes"`
	Buttons json.RawMessage `json:"buttons"`
}

// UnmarshalJSON decodes the browser shape. Fields of the wrong type are
// ignored rather than rejected so a partially garbled frame still mixes.
// Only a value that is not a JSON object is an error.
func (f *PilotFrame) UnmarshalJSON(data []byte) error {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var axes map[string]json.RawMessage
	_ = json.Unmarshal(w.Axes, &axes)
	var buttons map[string]json.RawMessage
	_ = json.Unmarshal(w.Buttons, &buttons)

	*f = PilotFrame{
		Left:    stickFrom(axes["L"]),
		Right:   stickFrom(axes["R"]),
		Buttons: make(map[string]bool, len(buttons)),
	}

	for name, raw := range buttons {
		var pressed bool
		if err := json.Unmarshal(raw, &pressed); err == nil {
			f.Buttons[name] = pressed
			continue
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err == nil {
			switch name {
			case "L2":
				f.LeftTrigger = value
			case "R2":
				f.RightTrigger = value
			default:
				f.Buttons[name] = value > 0
			}
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			for k, v := range nested {
				var b bool
				if json.Unmarshal(v, &b) == nil {
					f.Buttons[k] = b
				}
			}
		}
	}
	return nil
}

// stickFrom reads [x, y]; anything that is not a number reads as 0.
func stickFrom(raw json.RawMessage) Stick {
	var axes []json.RawMessage
	if err := json.Unmarshal(raw, &axes); err != nil {
		return Stick{}
	}
	var s Stick
	if len(axes) > 0 {
		s.X = number(axes[0])
	}
	if len(axes) > 1 {
		s.Y = number(axes[1])
	}
	return s
}

func number(raw json.RawMessage) float64 {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

// finite maps NaN and ±Inf to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
