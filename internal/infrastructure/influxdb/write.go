package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementFixtureState holds one point per fixture state report.
const MeasurementFixtureState = "wiz_fixture_state"

// WriteFixtureState queues a point tagged with the fixture's address and,
// when known, its MAC. Empty field sets are dropped. Never blocks.
func (c *Client) WriteFixtureState(address, mac string, fields map[string]any) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(fixturePoint(address, mac, fields, time.Now()))
}

func fixturePoint(address, mac string, fields map[string]any, ts time.Time) *write.Point {
	tags := map[string]string{"address": address}
	if mac != "" {
		tags["mac"] = mac
	}
	return write.NewPoint(MeasurementFixtureState, tags, fields, ts)
}
