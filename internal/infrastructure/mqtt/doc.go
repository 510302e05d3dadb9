// Package mqtt provides MQTT client connectivity for vspid.
//
// vspid uses the broker for two things: publishing controller state and
// lifecycle events for other services on the host, and accepting
// control-plane writes from automation that cannot reach the HTTP API.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS guarantees (retained for state topics)
//   - Last Will and Testament on vspi/system/status
//   - Topic builders for the vspi/ hierarchy (see Topics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCtlSets(), 1, bridge.HandleSet)
//
// Tests that need a broker carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
