// Package publisher forwards stored evaluations to an MQTT broker.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/logger"
)

const (
	defaultTopicPrefix    = "argos"
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMS   = 250
)

// Publisher forwards an evaluation downstream.
type Publisher interface {
	Publish(ctx context.Context, eval model.Evaluation) error
	Close() error
}

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// Nop discards every evaluation. It is used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, model.Evaluation) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// MQTTPublisher publishes each evaluation to
// <prefix>/<platform>/evaluation and each decoded pass to
// <prefix>/<platform>/passes/<n>.
type MQTTPublisher struct {
	client  Client
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  logger.Logger
}

// New wraps an already connected client.
func New(client Client, opts ...Option) *MQTTPublisher {
	p := &MQTTPublisher{
		client:  client,
		prefix:  defaultTopicPrefix,
		qos:     1,
		timeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Named("publisher")
	}
	return p
}

// Connect dials broker and returns a publisher on the new connection.
func Connect(ctx context.Context, broker, clientID string, opts ...Option) (*MQTTPublisher, error) {
	log := logger.Named("publisher")

	mopts := mqtt.NewClientOptions()
	mopts.AddBroker(broker)
	mopts.SetClientID(clientID)
	mopts.SetAutoReconnect(true)
	mopts.SetConnectRetry(true)
	mopts.SetConnectRetryInterval(10 * time.Second)
	mopts.SetKeepAlive(60 * time.Second)
	mopts.SetPingTimeout(10 * time.Second)
	mopts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info(ctx, "connected to broker", logger.String("broker", broker))
	})
	mopts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn(ctx, "connection lost", logger.Error(err))
	})

	client := mqtt.NewClient(mopts)
	p := New(client, opts...)
	if err := p.wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connecting to %s: %w", broker, err)
	}
	return p, nil
}

// Topic returns the topic for a platform, joined with parts.
func (p *MQTTPublisher) Topic(platformID string, parts ...string) string {
	return strings.Join(append([]string{p.prefix, platformID}, parts...), "/")
}

// Publish implements Publisher. Empty passes are not published individually.
func (p *MQTTPublisher) Publish(ctx context.Context, eval model.Evaluation) error {
	payload, err := json.Marshal(evaluationPayload{
		BatchID:     eval.BatchID,
		PlatformID:  eval.PlatformID,
		EvaluatedAt: eval.EvaluatedAt,
		Summary:     eval.Summary,
		Results:     eval.Results,
	})
	if err != nil {
		return fmt.Errorf("marshaling evaluation: %w", err)
	}
	if err := p.send(ctx, p.Topic(eval.PlatformID, "evaluation"), payload); err != nil {
		return err
	}

	var errs []error
	for i, r := range eval.Results {
		if r.Empty() {
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshaling pass %d: %w", i, err))
			continue
		}
		if err := p.send(ctx, p.Topic(eval.PlatformID, "passes", strconv.Itoa(i)), b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.logger.Info(context.Background(), "disconnecting from broker")
	p.client.Disconnect(disconnectQuiesceMS)
	return nil
}

func (p *MQTTPublisher) send(ctx context.Context, topic string, payload []byte) error {
	if err := p.wait(ctx, p.client.Publish(topic, p.qos, p.retain, payload)); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// wait blocks until the token completes, the timeout elapses or ctx ends.
func (p *MQTTPublisher) wait(ctx context.Context, t mqtt.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

type evaluationPayload struct {
	BatchID     string          `json:"batch_id"`
	PlatformID  string          `json:"platform_id"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Summary     passes.Summary  `json:"summary"`
	Results     []passes.Result `json:"results"`
}
