package publisher

import (
	"strings"
	"time"

	"github.com/okian/argos/pkg/logger"
)

// Option configures an MQTTPublisher.
type Option func(*MQTTPublisher)

// WithTopicPrefix sets the first topic level.
func WithTopicPrefix(prefix string) Option {
	return func(p *MQTTPublisher) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithQoS sets the MQTT quality of service. Values above 2 are ignored.
func WithQoS(qos int) Option {
	return func(p *MQTTPublisher) {
		if qos >= 0 && qos <= 2 {
			p.qos = byte(qos)
		}
	}
}

// WithRetain marks published messages as retained.
func WithRetain(retain bool) Option {
	return func(p *MQTTPublisher) {
		p.retain = retain
	}
}

// WithTimeout bounds how long a connect or publish may wait for the broker.
func WithTimeout(d time.Duration) Option {
	return func(p *MQTTPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *MQTTPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}
