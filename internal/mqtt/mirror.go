// Package mqtt mirrors bridge events to an MQTT broker and accepts device
// commands (sensor state, link button) from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/api"
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	commandTimeout = 5 * time.Second
)

// Config holds broker settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Target is a bridge whose events are mirrored.
type Target interface {
	BridgeID() string
	Bus() *eventbus.Bus
	Datastore() *datastore.Datastore
	Do(ctx context.Context, fn func(ds *datastore.Datastore)) error
	PressLinkButton(d time.Duration)
}

// Payload is the JSON body of a mirrored event.
type Payload struct {
	ID      string          `json:"id,omitempty"`
	Object  json.RawMessage `json:"object,omitempty"`
	Address string          `json:"address,omitempty"`
	Value   any             `json:"value,omitempty"`
}

// Mirror publishes events of its targets and routes commands back to them.
type Mirror struct {
	client pahomqtt.Client
	prefix string
	qos    byte

	mu      sync.RWMutex
	targets map[string]Target
}

// Connect creates a mirror connected to the configured broker. Command
// subscriptions are restored on every reconnect.
func Connect(cfg Config) (*Mirror, error) {
	m := newMirror(cfg)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "huebridge"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
			m.subscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = pahomqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return m, nil
}

func newMirror(cfg Config) *Mirror {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Mirror{
		prefix:  prefix,
		qos:     cfg.QoS,
		targets: make(map[string]Target),
	}
}

// Add mirrors every event of t from now on.
func (m *Mirror) Add(t Target) {
	m.mu.Lock()
	m.targets[t.BridgeID()] = t
	m.mu.Unlock()

	t.Bus().SubscribeAll(func(ev eventbus.Event) { m.handleEvent(t, ev) })
	log.Info().Str("bridge", t.BridgeID()).Str("prefix", m.prefix).Msg("MQTT mirror attached")
}

// Close disconnects from the broker.
func (m *Mirror) Close() {
	if m.client == nil {
		return
	}
	m.client.Disconnect(1000)
	log.Info().Msg("MQTT mirror stopped")
}

func (m *Mirror) subscribe() {
	for _, filter := range commandFilters(m.prefix) {
		token := m.client.Subscribe(filter, m.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			m.handleMessage(msg.Topic(), msg.Payload())
		})
		go func(filter string) {
			if !token.WaitTimeout(publishTimeout) {
				log.Warn().Str("topic", filter).Msg("MQTT subscribe timeout")
			} else if err := token.Error(); err != nil {
				log.Warn().Err(err).Str("topic", filter).Msg("MQTT subscribe failed")
			}
		}(filter)
	}
}

// handleEvent runs on the bridge control loop.
func (m *Mirror) handleEvent(t Target, ev eventbus.Event) {
	payload, err := EventPayload(ev)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to encode event")
		return
	}
	m.publish(EventTopic(m.prefix, t.BridgeID(), ev.Type), payload, false)

	if ev.Type != eventbus.LightStateModified {
		return
	}
	l, ok := t.Datastore().Light(ev.ID)
	if !ok {
		return
	}
	state, err := json.Marshal(l.State)
	if err != nil {
		return
	}
	m.publish(LightStateTopic(m.prefix, t.BridgeID(), ev.ID), state, true)
}

// EventPayload encodes an event without internal resource fields.
func EventPayload(ev eventbus.Event) ([]byte, error) {
	p := Payload{ID: ev.ID, Address: ev.Address, Value: ev.Value}
	if ev.Object != nil {
		obj, err := api.MarshalPublic(ev.Object)
		if err != nil {
			return nil, err
		}
		p.Object = obj
	}
	return json.Marshal(p)
}

func (m *Mirror) publish(topic string, payload []byte, retained bool) {
	token := m.client.Publish(topic, m.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("MQTT publish timeout")
		} else if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish error")
		}
	}()
}

// handleMessage runs on a paho goroutine and hands the command to the bridge loop.
func (m *Mirror) handleMessage(topic string, payload []byte) {
	cmd, ok := ParseCommand(m.prefix, topic)
	if !ok {
		log.Debug().Str("topic", topic).Msg("Ignoring MQTT message")
		return
	}
	m.mu.RLock()
	t, ok := m.targets[cmd.BridgeID]
	m.mu.RUnlock()
	if !ok {
		log.Debug().Str("bridge", cmd.BridgeID).Msg("MQTT command for unknown bridge")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Kind {
	case CommandSensorState:
		var patch map[string]any
		if err = json.Unmarshal(payload, &patch); err != nil {
			break
		}
		err = t.Do(ctx, func(ds *datastore.Datastore) {
			if uerr := ds.UpdateSensorState(cmd.SensorID, patch); uerr != nil {
				log.Warn().Err(uerr).Str("bridge", cmd.BridgeID).Msg("MQTT sensor update rejected")
			}
		})
	case CommandLinkButton:
		var pressed bool
		if pressed, err = strconv.ParseBool(strings.TrimSpace(string(payload))); err != nil {
			break
		}
		err = t.Do(ctx, func(ds *datastore.Datastore) {
			if pressed {
				t.PressLinkButton(0)
			} else {
				ds.SetLinkButton(false)
			}
		})
	}
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT command failed")
	}
}
