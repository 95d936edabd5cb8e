// Package mqtt is the bridge's link to the Gray Logic broker.
//
// Connect wraps paho with a bounded first connect, auto-reconnect and a
// last will, normally the bridge's retained "offline" health message:
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
//	    Topic: wiz.HealthTopic(), Payload: lwt, QoS: 1, Retained: true,
//	}))
//
// Subscriptions survive reconnects. Handlers run on paho goroutines and
// a panicking handler is logged, not fatal. Enable TLS when the broker is
// off the local segment.
package mqtt
