// Package mqtt publishes diagnostic messages to an mqtt broker.
// Publishing is best effort; a broker outage never disturbs the control
// loops.
package mqtt

import (
	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/womat/debug"
)

// quiesce is the number of milliseconds Disconnect waits for in-flight
// work to complete.
const quiesce = 250

// Handler is the client side of the broker connection.
type Handler struct {
	client mqttlib.Client
	// C is the channel serviced by Service; sending a Message to it
	// publishes the message.
	C chan Message
}

// Message is one publication.
type Message struct {
	Topic    string
	Payload  []byte
	Qos      byte
	Retained bool
}

// New returns an unconnected Handler.
func New() *Handler {
	return &Handler{
		C: make(chan Message),
	}
}

// Connect connects to the given broker. With an empty broker string the
// handler stays disconnected and Service drops all messages.
func (m *Handler) Connect(broker string) error {
	if broker == "" {
		return nil
	}

	opts := mqttlib.NewClientOptions().AddBroker(broker)
	m.client = mqttlib.NewClient(opts)
	return m.reconnect()
}

func (m *Handler) reconnect() error {
	t := m.client.Connect()
	<-t.Done()
	return t.Error()
}

// Disconnect ends the broker connection.
func (m *Handler) Disconnect() error {
	if m.client == nil {
		return nil
	}
	m.client.Disconnect(quiesce)
	return nil
}

// Service publishes every message sent to C until the channel is closed.
// Messages without a topic, or arriving while no broker is configured,
// are ignored.
func (m *Handler) Service() {
	for msg := range m.C {
		if m.client == nil || msg.Topic == "" {
			continue
		}

		if !m.client.IsConnected() {
			debug.DebugLog.Print("mqtt broker isn't connected, reconnecting")
			if err := m.reconnect(); err != nil {
				debug.ErrorLog.Printf("can't reconnect to mqtt broker: %v", err)
				continue
			}
		}

		debug.TraceLog.Printf("publishing %v bytes to topic %v", len(msg.Payload), msg.Topic)
		t := m.client.Publish(msg.Topic, msg.Qos, msg.Retained, msg.Payload)

		// The publish completes asynchronously; log failures without
		// blocking the sender.
		go func(t mqttlib.Token, topic string) {
			<-t.Done()
			if err := t.Error(); err != nil {
				debug.ErrorLog.Printf("publishing topic %v: %v", topic, err)
			}
		}(t, msg.Topic)
	}
}
