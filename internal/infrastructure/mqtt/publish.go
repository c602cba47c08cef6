package mqtt

import "fmt"

// maxPayloadSize is the broker's message_size_limit.
const maxPayloadSize = 1 << 20

// Publish sends payload and waits for the broker to acknowledge it at the
// given QoS. Commands are published unretained; config pushes retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// QoS is the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// PublishRetained publishes at the default QoS with the retain flag set.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}
