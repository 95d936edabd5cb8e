package wiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Bridge command names.
const (
	CommandOn          = "on"
	CommandOff         = "off"
	CommandToggle      = "toggle"
	CommandDim         = "dim"
	CommandRGB         = "rgb"
	CommandColor       = "color"
	CommandScene       = "scene"
	CommandSpeed       = "speed"
	CommandTemperature = "temperature"
	CommandColdWhite   = "cold_white"
	CommandWarmWhite   = "warm_white"
	CommandSet         = "set"
)

// action is a translated bridge command, ready to run against a device.
type action func(ctx context.Context, d *Device) error

// translateCommand maps a bridge command and its parameters onto a Device
// operation. Parameter types are checked here; value ranges are checked by
// the Device before any I/O.
func translateCommand(command string, params map[string]any) (action, error) {
	switch command {
	case CommandOn:
		return func(ctx context.Context, d *Device) error { return d.TurnOn(ctx) }, nil
	case CommandOff:
		return func(ctx context.Context, d *Device) error { return d.TurnOff(ctx) }, nil
	case CommandToggle:
		return func(ctx context.Context, d *Device) error {
			_, err := d.Toggle(ctx)
			return err
		}, nil
	case CommandDim, CommandColdWhite, CommandWarmWhite:
		level, err := intParam(params, "level")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d *Device) error {
			switch command {
			case CommandColdWhite:
				return d.SetColdWhite(ctx, level)
			case CommandWarmWhite:
				return d.SetWarmWhite(ctx, level)
			default:
				return d.SetBrightness(ctx, level)
			}
		}, nil
	case CommandRGB:
		var rgb [3]int
		for i, key := range []string{"r", "g", "b"} {
			v, err := intParam(params, key)
			if err != nil {
				return nil, err
			}
			rgb[i] = v
		}
		return func(ctx context.Context, d *Device) error {
			return d.SetRGB(ctx, rgb[0], rgb[1], rgb[2])
		}, nil
	case CommandColor:
		hex, ok := params["hex"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: hex is required", ErrInvalidParameters)
		}
		return func(ctx context.Context, d *Device) error {
			return d.SetColor(ctx, hex)
		}, nil
	case CommandScene:
		id, err := sceneParam(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d *Device) error {
			return d.SetScene(ctx, id)
		}, nil
	case CommandSpeed:
		speed, err := intParam(params, "speed")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d *Device) error {
			return d.SetSceneSpeed(ctx, speed)
		}, nil
	case CommandTemperature:
		kelvin, err := intParam(params, "kelvin")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d *Device) error {
			return d.SetTemperature(ctx, kelvin)
		}, nil
	case CommandSet:
		return translateSet(params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// translateSet builds a raw setPilot from the parameters. "wait": false
// sends it without waiting for the fixture's reply.
func translateSet(params map[string]any) (action, error) {
	wait := true
	fields := make(map[string]any, len(params))
	for k, v := range params {
		if k == "wait" {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: wait must be a boolean", ErrInvalidParameters)
			}
			wait = b
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: set needs at least one property", ErrInvalidParameters)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s SetState
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	if !wait {
		return func(ctx context.Context, d *Device) error {
			return d.SetStateNoWait(ctx, s)
		}, nil
	}
	return func(ctx context.Context, d *Device) error {
		return d.SetState(ctx, s)
	}, nil
}

// waitsForReply reports whether the command holds the shared socket until
// the fixture answers. Only set with "wait": false does not.
func waitsForReply(command string, params map[string]any) bool {
	if command != CommandSet {
		return true
	}
	wait, ok := params["wait"].(bool)
	return !ok || wait
}

// sceneParam accepts {"scene": "<name>"} or {"scene_id": n}.
func sceneParam(params map[string]any) (int, error) {
	if name, ok := params["scene"].(string); ok {
		scene, found := SceneByName(name)
		if !found {
			return 0, fmt.Errorf("%w: unknown scene %q", ErrInvalidParameters, name)
		}
		return scene.ID, nil
	}
	return intParam(params, "scene_id")
}

// intParam reads an integral number. JSON numbers arrive as float64.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameters, key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameters, key)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
	}
}
