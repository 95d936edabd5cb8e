package wiz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestTranslateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
		want    string
	}{
		{"on", CommandOn, nil, `{"state":true}`},
		{"off", CommandOff, nil, `{"state":false}`},
		{"dim", CommandDim, map[string]any{"level": float64(25)}, `{"dimming":25}`},
		{"rgb", CommandRGB, map[string]any{"r": 1, "g": 2, "b": float64(3)}, `{"r":1,"g":2,"b":3}`},
		{"color", CommandColor, map[string]any{"hex": "#ff8800"}, `{"r":255,"g":136,"b":0}`},
		{"scene by name", CommandScene, map[string]any{"scene": "Ocean"}, `{"sceneId":1}`},
		{"scene by id", CommandScene, map[string]any{"scene_id": json.Number("12")}, `{"sceneId":12}`},
		{"speed", CommandSpeed, map[string]any{"speed": 70}, `{"speed":70}`},
		{"temperature", CommandTemperature, map[string]any{"kelvin": 3000}, `{"temp":3000}`},
		{"cold white", CommandColdWhite, map[string]any{"level": 10}, `{"c":10}`},
		{"warm white", CommandWarmWhite, map[string]any{"level": 20}, `{"w":20}`},
		{"set", CommandSet, map[string]any{"state": true, "dimming": float64(60)}, `{"state":true,"dimming":60}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock, conn, _ := testSocket(t)
			conn.setOnWrite(fixtureResponder(conn, pilotReply))
			dev, _ := NewDevice(sock, "10.0.0.5")

			run, err := translateCommand(tt.command, tt.params)
			if err != nil {
				t.Fatalf("translateCommand() error = %v", err)
			}
			if err := run(context.Background(), dev); err != nil {
				t.Fatalf("action error = %v", err)
			}

			writes := conn.written()
			want := `{"method":"setPilot","params":` + tt.want + `}`
			if len(writes) != 1 || string(writes[0].data) != want {
				t.Errorf("writes = %v, want %s", writes, want)
			}
		})
	}
}

func TestTranslateCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
		want    error
	}{
		{"unknown", "blink", nil, ErrUnknownCommand},
		{"missing level", CommandDim, nil, ErrInvalidParameters},
		{"fractional level", CommandDim, map[string]any{"level": 10.5}, ErrInvalidParameters},
		{"string level", CommandDim, map[string]any{"level": "10"}, ErrInvalidParameters},
		{"missing channel", CommandRGB, map[string]any{"r": 1, "g": 2}, ErrInvalidParameters},
		{"missing hex", CommandColor, map[string]any{}, ErrInvalidParameters},
		{"unknown scene", CommandScene, map[string]any{"scene": "disco"}, ErrInvalidParameters},
		{"empty set", CommandSet, map[string]any{"wait": false}, ErrInvalidParameters},
		{"unknown set field", CommandSet, map[string]any{"brightness": 10}, ErrInvalidParameters},
		{"bad wait", CommandSet, map[string]any{"state": true, "wait": "no"}, ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := translateCommand(tt.command, tt.params)
			if !errors.Is(err, tt.want) {
				t.Errorf("translateCommand() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranslateSetNoWait(t *testing.T) {
	sock, conn := boundSocket(t)
	dev, _ := NewDevice(sock, "10.0.0.5")

	run, err := translateCommand(CommandSet, map[string]any{"state": false, "wait": false})
	if err != nil {
		t.Fatalf("translateCommand() error = %v", err)
	}
	// No responder: a waiting set would time out.
	if err := run(context.Background(), dev); err != nil {
		t.Fatalf("action error = %v", err)
	}
	writes := conn.written()
	if len(writes) != 1 || string(writes[0].data) != `{"method":"setPilot","params":{"state":false}}` {
		t.Errorf("writes = %v", writes)
	}
}

func TestTranslateCommandRangeCheckedBeforeSend(t *testing.T) {
	sock, conn, _ := testSocket(t)
	dev, _ := NewDevice(sock, "10.0.0.5")

	run, err := translateCommand(CommandTemperature, map[string]any{"kelvin": 500})
	if err != nil {
		t.Fatalf("translateCommand() error = %v", err)
	}
	if err := run(context.Background(), dev); !errors.Is(err, ErrArgumentOutOfRange) {
		t.Errorf("action error = %v, want ErrArgumentOutOfRange", err)
	}
	if n := len(conn.written()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}
