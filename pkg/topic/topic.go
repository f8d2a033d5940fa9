// Package topic parses and builds the bus addresses used by box firmware.
//
// Boxes publish on MQTT topics of the form origin/{boxId}/{type}. When the
// broker bridges MQTT onto AMQP the separators become dots, so both forms are
// accepted.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Root is the first segment of every box topic.
	Root = "origin"
	// TypeMeasurement is the only message type the backend ingests.
	TypeMeasurement = "measurement"
	// BindingKey matches every box topic on an AMQP topic exchange.
	BindingKey = Root + ".*.*"
)

// ErrMalformedTopic is returned for topics that are not origin/{boxId}/{type}.
var ErrMalformedTopic = errors.New("malformed topic")

// Topic is a parsed box topic.
type Topic struct {
	BoxID string
	Type  string
}

// IsMeasurement reports whether the topic carries a measurement payload.
func (t Topic) IsMeasurement() bool {
	return t.Type == TypeMeasurement
}

// MQTT renders the topic with slash separators.
func (t Topic) MQTT() string {
	return Root + "/" + t.BoxID + "/" + t.Type
}

// RoutingKey renders the topic with dot separators for an AMQP topic exchange.
func (t Topic) RoutingKey() string {
	return Root + "." + t.BoxID + "." + t.Type
}

// Parse splits a topic or routing key into its box id and message type.
func Parse(raw string) (Topic, error) {
	sep := "/"
	if !strings.Contains(raw, "/") {
		sep = "."
	}

	parts := strings.Split(raw, sep)
	if len(parts) != 3 {
		return Topic{}, fmt.Errorf("%w: %q has %d segments, want 3", ErrMalformedTopic, raw, len(parts))
	}
	if parts[0] != Root {
		return Topic{}, fmt.Errorf("%w: %q does not start with %q", ErrMalformedTopic, raw, Root)
	}
	if parts[1] == "" || parts[2] == "" {
		return Topic{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedTopic, raw)
	}

	return Topic{BoxID: parts[1], Type: parts[2]}, nil
}

// Measurement builds the measurement topic for a box.
func Measurement(boxID string) Topic {
	return Topic{BoxID: boxID, Type: TypeMeasurement}
}
