//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ledstrip-bridge/internal/hub"
	"ledstrip-bridge/internal/light"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Bridge connects the strip hub to MQTT with HA autodiscovery.
type Bridge struct {
	client    pahomqtt.Client
	hub       *hub.Hub
	prefix    string
	discovery string
	logger    *slog.Logger
	unsub     func()

	// Topic name currently in use per strip host.
	mu     sync.Mutex
	topics map[string]string
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(h *hub.Hub, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	b := &Bridge{
		hub:       h,
		prefix:    cfg.TopicPrefix,
		discovery: cfg.DiscoveryPrefix,
		logger:    logger.With("component", "mqtt"),
		topics:    make(map[string]string),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("ledstrip-bridge-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAll()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to hub events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.hub.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "discovery_prefix", b.discovery)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event hub.Event) {
	host := event.Host()
	if host == "" {
		return
	}
	switch event.Type {
	case hub.EventStripAdded, hub.EventStripUpdated:
		if st, err := b.hub.State(host); err == nil {
			b.announce(st)
		}
	case hub.EventStateChanged, hub.EventAvailability:
		if st, err := b.hub.State(host); err == nil {
			b.publishState(st)
		}
	case hub.EventStripRemoved:
		b.retire(host)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAll() {
	for _, st := range b.hub.States() {
		b.announce(st)
	}
}

// announce publishes discovery and current state for a strip and (re)binds
// its command topic.
func (b *Bridge) announce(st light.State) {
	name := stripTopicName(st)

	b.mu.Lock()
	old, had := b.topics[st.Host]
	b.topics[st.Host] = name
	b.mu.Unlock()

	if had && old != name {
		b.client.Unsubscribe(b.prefix + "/" + old + "/set")
		b.publish(b.prefix+"/"+old, nil, true)
		b.publish(b.prefix+"/"+old+"/availability", nil, true)
	}

	msg := buildDiscovery(st, b.prefix, b.discovery)
	b.publish(msg.Topic, msg.Payload, true)
	b.subscribeCommands(st.Host, name)
	b.publishState(st)
	b.logger.Info("published HA discovery", "host", st.Host, "name", st.Name)
}

func (b *Bridge) retire(host string) {
	msg := buildRemoveDiscovery(host, b.discovery)
	b.publish(msg.Topic, msg.Payload, true)

	b.mu.Lock()
	name, ok := b.topics[host]
	delete(b.topics, host)
	b.mu.Unlock()
	if ok {
		b.client.Unsubscribe(b.prefix + "/" + name + "/set")
		b.publish(b.prefix+"/"+name, nil, true)
		b.publish(b.prefix+"/"+name+"/availability", nil, true)
	}
	b.logger.Info("removed HA discovery", "host", host)
}

func (b *Bridge) publishState(st light.State) {
	b.mu.Lock()
	name, ok := b.topics[st.Host]
	b.mu.Unlock()
	if !ok {
		name = stripTopicName(st)
	}
	base := b.prefix + "/" + name
	b.publish(base+"/availability", availabilityPayload(st.Available), true)
	b.publish(base, buildState(st), true)
}

func (b *Bridge) subscribeCommands(host, name string) {
	topic := b.prefix + "/" + name + "/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(host, msg.Payload())
	})
}

func (b *Bridge) handleCommand(host string, payload []byte) {
	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "host", host, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.hub.Context(), 30*time.Second)
	defer cancel()

	// State is published from the resulting hub event.
	if cmd.Off {
		_, err = b.hub.TurnOff(ctx, host)
	} else {
		_, err = b.hub.TurnOn(ctx, host, cmd.Intent)
	}
	if err != nil {
		b.logger.Warn("command failed", "host", host, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
