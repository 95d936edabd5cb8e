// Package influxdb writes WiZ fixture telemetry to InfluxDB v2.
//
// Every state report the bridge receives (poll response or syncPilot push)
// becomes one point in the wiz_fixture_state measurement, tagged by fixture
// address and MAC. Writes are batched per the batch_size and
// flush_interval settings.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteFixtureState("192.168.1.40", "a8bb5006033d", map[string]any{"on": true, "dimming": 40})
//
// *Client satisfies wiz.TelemetryWriter.
package influxdb
