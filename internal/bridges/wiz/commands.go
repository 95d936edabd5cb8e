package wiz

// Documented value ranges for SetState fields.
const (
	MinBrightness  = 1
	MaxBrightness  = 100
	MinTemperature = 1000
	MaxTemperature = 10000
	MinChannel     = 0
	MaxChannel     = 255
	MinSceneID     = 1
	MaxSceneID     = 32
	MinSpeed       = 1
	MaxSpeed       = 100
)

// Bool returns a pointer to v, for building SetState values.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for building SetState values.
func Int(v int) *int { return &v }

func checkRange(field string, v *int, minV, maxV int) error {
	if v == nil || (*v >= minV && *v <= maxV) {
		return nil
	}
	return &RangeError{Field: field, Value: *v, Min: minV, Max: maxV}
}

// Validate checks every set field against its documented range.
//
// Returns:
//   - error: *RangeError for the first offending field, nil otherwise
func (s SetState) Validate() error {
	checks := []struct {
		field    string
		v        *int
		min, max int
	}{
		{"dimming", s.Dimming, MinBrightness, MaxBrightness},
		{"temp", s.Temp, MinTemperature, MaxTemperature},
		{"r", s.R, MinChannel, MaxChannel},
		{"g", s.G, MinChannel, MaxChannel},
		{"b", s.B, MinChannel, MaxChannel},
		{"c", s.C, MinChannel, MaxChannel},
		{"w", s.W, MinChannel, MaxChannel},
		{"sceneId", s.SceneID, MinSceneID, MaxSceneID},
		{"speed", s.Speed, MinSpeed, MaxSpeed},
	}
	for _, c := range checks {
		if err := checkRange(c.field, c.v, c.min, c.max); err != nil {
			return err
		}
	}
	return nil
}

// TurnOnCommand switches a fixture on.
func TurnOnCommand() SetState { return SetState{State: Bool(true)} }

// TurnOffCommand switches a fixture off.
func TurnOffCommand() SetState { return SetState{State: Bool(false)} }

// BrightnessCommand sets brightness in percent (1-100).
func BrightnessCommand(percent int) (SetState, error) {
	s := SetState{Dimming: Int(percent)}
	return s, s.Validate()
}

// RGBCommand sets an RGB colour, each channel 0-255.
func RGBCommand(r, g, b int) (SetState, error) {
	s := SetState{R: Int(r), G: Int(g), B: Int(b)}
	return s, s.Validate()
}

// ColorCommand sets an RGB colour from a hex string such as "#ff8800".
func ColorCommand(hex string) (SetState, error) {
	r, g, b, err := HexToRGB(hex)
	if err != nil {
		return SetState{}, err
	}
	return RGBCommand(r, g, b)
}

// SceneCommand selects a built-in scene (1-32).
func SceneCommand(id int) (SetState, error) {
	s := SetState{SceneID: Int(id)}
	return s, s.Validate()
}

// SceneSpeedCommand sets the animation speed (1-100) of dynamic scenes.
func SceneSpeedCommand(speed int) (SetState, error) {
	s := SetState{Speed: Int(speed)}
	return s, s.Validate()
}

// TemperatureCommand sets white colour temperature in Kelvin (1000-10000).
func TemperatureCommand(kelvin int) (SetState, error) {
	s := SetState{Temp: Int(kelvin)}
	return s, s.Validate()
}

// ColdWhiteCommand sets the cool white channel (0-255).
func ColdWhiteCommand(v int) (SetState, error) {
	s := SetState{C: Int(v)}
	return s, s.Validate()
}

// WarmWhiteCommand sets the warm white channel (0-255).
func WarmWhiteCommand(v int) (SetState, error) {
	s := SetState{W: Int(v)}
	return s, s.Validate()
}
