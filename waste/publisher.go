package waste

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
)

// ErrNotConnected is returned by Publisher when no connected client is available.
var ErrNotConnected = errors.New("MQTT client not connected")

// LookupEvent summarizes one neighborhood lookup for subscribers.
type LookupEvent struct {
	Neighborhood string         `json:"neighborhood"`
	Group        string         `json:"group"`
	Selection    string         `json:"selection"`
	Markers      int            `json:"markers"`
	Counts       map[string]int `json:"counts"`
	Degraded     bool           `json:"degraded"`
	Timestamp    int64          `json:"timestamp"`
}

// Publisher publishes classification results and lookup summaries to
// {prefix}/classifications and {prefix}/lookups.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	log           logr.Logger
}

// NewPublisher creates a publisher. If client is nil, every publish returns
// ErrNotConnected.
func NewPublisher(client mqtt.Client, prefix string, log logr.Logger) *Publisher {
	if prefix == "" {
		prefix = "recicla"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        false,
		log:           log.WithName("publisher"),
	}
}

// PublishClassification publishes one classification result.
func (p *Publisher) PublishClassification(r ClassificationResult) error {
	return p.publish(p.publishPrefix+"/classifications", r)
}

// PublishLookup publishes a summary of a lookup result.
func (p *Publisher) PublishLookup(r LookupResult) error {
	ev := LookupEvent{
		Neighborhood: r.Neighborhood,
		Group:        r.Group,
		Selection:    r.Selection,
		Markers:      len(r.View.Markers),
		Counts:       r.Counts,
		Degraded:     r.Degraded,
		Timestamp:    time.Now().Unix(),
	}
	return p.publish(p.publishPrefix+"/lookups", ev)
}

func (p *Publisher) publish(topic string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.log.V(1).Info("published", "topic", topic, "bytes", len(payload))
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
