package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hive-nexus/internal/config"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
)

// publishTimeout bounds a single mirror publish.
const publishTimeout = 5 * time.Second

// Mirror publishes invocation records and bus events to the broker. It
// implements [invocation.Sink]. Publishing before the connection is up
// drops the message; the mirror is best-effort observability.
type Mirror struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager

	dropped atomic.Int64
}

// NewMirror creates a Mirror but does not connect. Call [Mirror.Start].
func NewMirror(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{cfg: cfg, instanceID: instanceID, logger: logger}
}

// Start connects to the broker and forwards bus events until ctx is
// cancelled. bus may be nil, in which case only invocation records are
// mirrored.
func (m *Mirror) Start(ctx context.Context, bus *events.Bus) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	avail := m.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   avail,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.clientID(),
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch := bus.Subscribe(128)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.publishJSON(ctx, m.eventTopic(e), e)
		}
	}
}

// Stop publishes "offline" and disconnects.
func (m *Mirror) Stop(ctx context.Context) error {
	m.mu.RLock()
	cm := m.cm
	m.mu.RUnlock()
	if cm == nil {
		return nil
	}
	m.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Log implements invocation.Sink.
func (m *Mirror) Log(ctx context.Context, rec invocation.Record) {
	m.publishJSON(ctx, m.invocationTopic(rec.Name), rec)
}

// Dropped returns how many messages were discarded because the broker
// was unavailable.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

func (m *Mirror) clientID() string {
	id := m.instanceID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	if id == "" {
		return "nexus-" + m.cfg.DeviceName
	}
	return "nexus-" + m.cfg.DeviceName + "-" + id
}

func (m *Mirror) baseTopic() string {
	return "nexus/" + m.cfg.DeviceName
}

func (m *Mirror) availabilityTopic() string {
	return m.baseTopic() + "/availability"
}

// invocationTopic maps a record name to its topic. Reflection records
// are named "reflect:<tool>"; the colon becomes a level separator.
func (m *Mirror) invocationTopic(name string) string {
	return m.baseTopic() + "/invocations/" + topicSegment(strings.ReplaceAll(name, ":", "/"))
}

func (m *Mirror) eventTopic(e events.Event) string {
	return m.baseTopic() + "/events/" + topicSegment(e.Source) + "/" + topicSegment(e.Kind)
}

// topicSegment strips MQTT wildcard characters, which are invalid in a
// publish topic.
func topicSegment(s string) string {
	s = strings.NewReplacer("+", "_", "#", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func (m *Mirror) publishJSON(ctx context.Context, topic string, v any) {
	m.mu.RLock()
	cm := m.cm
	m.mu.RUnlock()
	if cm == nil {
		m.dropped.Add(1)
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("mqtt marshal payload", "topic", topic, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := cm.Publish(pctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 0}); err != nil {
		m.dropped.Add(1)
		m.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (m *Mirror) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		m.logger.Info("mqtt availability published", "status", status)
	}
}
