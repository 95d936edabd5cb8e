package wiz

import (
	"testing"
)

func TestSetStateAckRoundTrip(t *testing.T) {
	cmd := SetState{State: Bool(true), Dimming: Int(40)}
	raw, err := cmd.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	sent, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode(command) error = %v", err)
	}
	if methodOf(sent) != MethodSetPilot {
		t.Fatalf("method = %q, want setPilot", methodOf(sent))
	}

	v := NewSchemaValidator()

	ack, err := Decode([]byte(`{"method":"setPilot","env":"pro","result":{"success":true}}`))
	if err != nil {
		t.Fatalf("Decode(ack) error = %v", err)
	}
	if !v.Validate(AckShape, ack) {
		t.Error("conformant ack failed validation")
	}

	missing, err := Decode([]byte(`{"method":"setPilot","env":"pro","result":{}}`))
	if err != nil {
		t.Fatalf("Decode(missing) error = %v", err)
	}
	if v.Validate(AckShape, missing) {
		t.Error("ack without success passed validation")
	}
}

func TestResponseShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		raw   string
		want  bool
	}{
		{"state report", StateReportShape, pilotReply, true},
		{"state report wrong method", StateReportShape, `{"method":"setPilot","result":{"mac":"x","state":true}}`, false},
		{"state report missing mac", StateReportShape, `{"method":"getPilot","result":{"state":true}}`, false},
		{"state report wrong kind", StateReportShape, `{"method":"getPilot","result":{"mac":"x","state":"on"}}`, false},
		{"state report rssi string", StateReportShape, `{"method":"getPilot","result":{"mac":"x","state":true,"rssi":"-60"}}`, false},
		{"ack registration", AckShape, `{"method":"registration","env":"pro","result":{"mac":"a8bb50aabbcc","success":true}}`, true},
		{"ack success wrong kind", AckShape, `{"method":"setPilot","result":{"success":1}}`, false},
		{"notification", NotificationShape, `{"method":"syncPilot","env":"pro","id":3,"params":{"mac":"x","rssi":-50,"src":"udp","state":false}}`, true},
		{"notification without id", NotificationShape, `{"method":"syncPilot","params":{"mac":"x","state":true}}`, true},
		{"notification result form", NotificationShape, `{"method":"syncPilot","result":{"mac":"x"}}`, false},
		{"notification wrong method", NotificationShape, `{"method":"getPilot","params":{"mac":"x","state":true}}`, false},
		{"extra fields allowed", AckShape, `{"method":"setPilot","result":{"success":true},"extra":[1,2]}`, true},
	}

	v := NewSchemaValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := v.Validate(tt.shape, payload); got != tt.want {
				t.Errorf("Validate(%s) = %v, want %v", tt.shape.Name, got, tt.want)
			}
		})
	}
}

func TestShapeSchema(t *testing.T) {
	shape := Shape{
		Name: "test",
		Fields: map[string]Field{
			"b": {Kind: KindString, Required: true},
			"a": {Kind: KindNumber, Required: true},
			"c": {Kind: KindAny, Const: "x"},
		},
	}

	doc := shape.Schema()
	required, ok := doc["required"].([]string)
	if !ok || len(required) != 2 || required[0] != "a" || required[1] != "b" {
		t.Errorf("required = %v, want [a b]", doc["required"])
	}
	props := doc["properties"].(map[string]any)
	c := props["c"].(map[string]any)
	if _, hasType := c["type"]; hasType {
		t.Errorf("KindAny field has type: %v", c)
	}
	if c["const"] != "x" {
		t.Errorf("const = %v, want x", c["const"])
	}
}

func TestSchemaValidatorRejectsUnnamedShape(t *testing.T) {
	v := NewSchemaValidator()
	if _, err := v.Compile(Shape{}); err == nil {
		t.Error("Compile() of unnamed shape succeeded")
	}
	if v.Validate(Shape{}, map[string]any{}) {
		t.Error("unnamed shape validated")
	}
}

func TestSchemaValidatorCaches(t *testing.T) {
	v := NewSchemaValidator()
	first, err := v.Compile(AckShape)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	second, err := v.Compile(AckShape)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if first != second {
		t.Error("Compile() did not reuse cached schema")
	}
}
