// Package mqtt provides the devicehub connection to the MQTT broker.
//
// The bus carries two kinds of traffic out of the API process:
//   - device commands and configuration pushes, published only after the
//     access controller has authorised them
//   - password recovery hand-offs to the external mailer
//
// Devices acknowledge commands on devicehub/devices/{id}/ack. The client
// announces itself on devicehub/system/status and registers a last will
// so an unexpected disconnect is visible to other consumers.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceCommand("dev-42")
//	err = client.Publish(topic, payload, client.QoS(), false)
package mqtt
