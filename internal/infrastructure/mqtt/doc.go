// Package mqtt is the broker client used by the bridge and every node.
//
// It wraps paho with a bounded connect retry, subscriptions that survive
// reconnects, and retained presence backed by a last will, so the bridge
// learns when a device process goes away.
//
// # Architecture
//
// The broker is the only path between the bridge and the nodes:
//
//	DoorNode / LightNode / SensorNode ↔ MQTT Broker ↔ SyncBridge
//
// Device topics (access/, telemetry/, control/) are defined by the protocol
// package. This package owns only process-level topics under homesync/.
//
// Publish refuses wildcard topics and Subscribe validates filters before
// anything reaches the broker. Set mqtt.broker.tls to use ssl://.
//
// # Usage
//
//	client, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("access/door_lock/response", 1,
//	    func(topic string, payload []byte) error {
//	        return node.HandleResponse(payload)
//	    })
package mqtt
