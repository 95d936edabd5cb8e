package wiz

// pilotFields are the optional state members shared by state reports and
// notifications.
func pilotFields(required ...string) map[string]Field {
	fields := map[string]Field{
		"mac":     {Kind: KindString},
		"rssi":    {Kind: KindNumber},
		"src":     {Kind: KindString},
		"state":   {Kind: KindBool},
		"sceneId": {Kind: KindNumber},
		"speed":   {Kind: KindNumber},
		"temp":    {Kind: KindNumber},
		"dimming": {Kind: KindNumber},
		"r":       {Kind: KindNumber},
		"g":       {Kind: KindNumber},
		"b":       {Kind: KindNumber},
		"c":       {Kind: KindNumber},
		"w":       {Kind: KindNumber},
		"mqttCd":  {Kind: KindNumber},
		"ts":      {Kind: KindNumber},
	}
	for _, name := range required {
		f := fields[name]
		f.Required = true
		fields[name] = f
	}
	return fields
}

// Response shapes.
var (
	// StateReportShape matches a getPilot reply.
	StateReportShape = Shape{
		Name: "state_report",
		Fields: map[string]Field{
			"method": {Kind: KindString, Required: true, Const: MethodGetPilot},
			"env":    {Kind: KindString},
			"result": {Kind: KindObject, Required: true, Shape: &Shape{
				Name:   "state_report_result",
				Fields: pilotFields("mac", "state"),
			}},
		},
	}

	// AckShape matches a setPilot or registration reply.
	AckShape = Shape{
		Name: "ack",
		Fields: map[string]Field{
			"method": {Kind: KindString, Required: true},
			"env":    {Kind: KindString},
			"result": {Kind: KindObject, Required: true, Shape: &Shape{
				Name: "ack_result",
				Fields: map[string]Field{
					"success": {Kind: KindBool, Required: true},
					"mac":     {Kind: KindString},
				},
			}},
		},
	}

	// NotificationShape matches an unsolicited syncPilot push.
	NotificationShape = Shape{
		Name: "notification",
		Fields: map[string]Field{
			"method": {Kind: KindString, Required: true, Const: MethodSyncPilot},
			"env":    {Kind: KindString},
			"id":     {Kind: KindNumber},
			"params": {Kind: KindObject, Required: true, Shape: &Shape{
				Name:   "notification_params",
				Fields: pilotFields("mac", "state"),
			}},
		},
	}
)

// defaultValidator is used by components built without an explicit Validator.
var defaultValidator Validator = NewSchemaValidator()
