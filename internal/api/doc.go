// Package api serves the bridge's HTTP API and live state stream.
//
// Routes:
//
//	GET    /metrics                                 Prometheus exposition
//	GET    /api/v1/health                           bridge + dependency health
//	GET    /api/v1/fixtures                         managed fixtures
//	POST   /api/v1/fixtures/discover                run a discovery scan
//	GET    /api/v1/fixtures/{address}               one fixture
//	GET    /api/v1/fixtures/{address}/state         poll state (getPilot)
//	PUT    /api/v1/fixtures/{address}/state         run a command (setPilot)
//	POST   /api/v1/fixtures/{address}/subscription  start push notifications
//	DELETE /api/v1/fixtures/{address}/subscription  stop them
//	GET    /api/v1/ws                               websocket stream
//
// Websocket clients subscribe to "fixture.state" or
// "fixture.state:<address>" and receive every state message the bridge
// publishes to MQTT.
package api
