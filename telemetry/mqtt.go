// Package telemetry publishes motor driver state to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Broker   string
	Topic    string
	ClientID string
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

const (
	// backlog bounds the deliveries tracked at once. Beyond it publishes
	// still go out but their outcome is not logged.
	backlog         = 64
	deliveryTimeout = 5 * time.Second
)

type Publisher struct {
	client client
	topic  string
	logger logrus.FieldLogger

	mu      sync.Mutex
	closed  bool
	pending chan mqtt.Token
}

// Message is the retained payload published on every state change.
type Message struct {
	hardware.State
	Time time.Time `json:"time"`
}

// Connect starts connecting to the broker in the background and returns a
// publisher. Messages published before the connection is up are queued.
func Connect(opts Options, logger logrus.FieldLogger) *Publisher {
	logger = logger.WithField("broker", opts.Broker)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(5 * time.Second)
	o.OnConnect = func(mqtt.Client) {
		logger.Info("connected to mqtt broker")
	}
	o.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("mqtt connection lost")
	}

	c := mqtt.NewClient(o)
	c.Connect()

	return newPublisher(c, opts.Topic, logger)
}

func newPublisher(c client, topic string, logger logrus.FieldLogger) *Publisher {
	p := &Publisher{
		client:  c,
		topic:   topic,
		logger:  logger,
		pending: make(chan mqtt.Token, backlog),
	}
	go p.drain(deliveryTimeout)
	return p
}

// drain logs failed deliveries in publish order.
func (p *Publisher) drain(timeout time.Duration) {
	for token := range p.pending {
		if !token.WaitTimeout(timeout) {
			p.logger.Warn("mqtt broker did not acknowledge state in time")
			continue
		}
		if err := token.Error(); err != nil {
			p.logger.WithError(err).Warn("unable to publish state")
		}
	}
}

// Publish sends state without waiting for the broker; delivery errors are
// logged. It is meant to be registered with Driver.Observe. Publishing after
// Close does nothing.
func (p *Publisher) Publish(state hardware.State) {
	payload, err := json.Marshal(Message{State: state, Time: time.Now().UTC()})
	if err != nil {
		p.logger.WithError(err).Error("unable to marshal state")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	token := p.client.Publish(p.topic, 1, true, payload)
	select {
	case p.pending <- token:
	default:
		p.logger.Warn("mqtt delivery backlog full, not tracking state delivery")
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	p.client.Disconnect(250)
}
