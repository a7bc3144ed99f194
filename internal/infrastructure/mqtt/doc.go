// Package mqtt connects the fleet daemon to its MQTT broker.
//
// Device agents receive action commands on fleet/command/{device_id} and
// report outcomes on fleet/ack/{device_id}. Presence messages on
// fleet/presence/{device_id} drive device availability. The daemon announces
// itself on fleet/system/status with a retained message and a Last Will.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceAcks(), 1, handler)
package mqtt
