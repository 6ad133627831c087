package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/pbertin/govirtus/enki"
)

// Applier is the command surface the bridge drives. The dispatcher
// satisfies it.
type Applier interface {
	Apply(ctx context.Context, patch enki.Patch) error
	SetSwing(ctx context.Context, horizontal, vertical *enki.SwingAxisValue) error
}

// Node wires one air conditioner into the bridge.
type Node struct {
	ID      string
	Label   string
	Store   *enki.Store
	Applier Applier
}

type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	Discovery       bool
	DiscoveryPrefix string

	MinTemperature float64
	MaxTemperature float64
}

// Bridge mirrors device state to MQTT and turns command topics into
// state patches. With discovery enabled each node announces itself as a
// Home Assistant climate entity.
type Bridge struct {
	cfg    Config
	nodes  []Node
	log    *zap.Logger
	client mqtt.Client
	ctx    context.Context
}

func New(cfg Config, nodes []Node, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{cfg: cfg, nodes: nodes, log: log}
}

// Run connects to the broker and blocks until ctx is cancelled. State
// publishes follow store notifications; the availability topic flips to
// offline through the MQTT will on unclean exits and explicitly on
// shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	b.ctx = ctx

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetUsername(b.cfg.Username)
	opts.SetPassword(b.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(availabilityTopic(b.cfg.TopicPrefix), "offline", 0, true)
	opts.OnConnect = b.onConnect

	client := mqtt.NewClient(opts)
	// Assign before Connect: OnConnect fires during the handshake and
	// publishes through b.client.
	b.client = client
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	for _, node := range b.nodes {
		ch, cancel := node.Store.Subscribe()
		defer cancel()
		go b.watchStore(ctx, node, ch)
	}

	<-ctx.Done()

	if token := client.Publish(availabilityTopic(b.cfg.TopicPrefix), 0, true, "offline"); token.Wait() && token.Error() != nil {
		b.log.Warn("offline publish failed", zap.Error(token.Error()))
	}
	client.Disconnect(250)
	return ctx.Err()
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.log.Info("mqtt connected", zap.String("broker", b.cfg.Broker))

	if token := client.Publish(availabilityTopic(b.cfg.TopicPrefix), 0, true, "online"); token.Wait() && token.Error() != nil {
		b.log.Warn("availability publish failed", zap.Error(token.Error()))
	}

	for _, node := range b.nodes {
		if b.cfg.Discovery {
			b.publishDiscovery(client, node)
		}

		topic := commandWildcard(b.cfg.TopicPrefix, node.ID)
		handler := func(_ mqtt.Client, msg mqtt.Message) {
			b.handleCommand(node, msg.Topic(), string(msg.Payload()))
		}
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			b.log.Error("command subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}

		// Republish the last snapshot so a restarted broker catches up.
		b.publishState(node)
	}
}

func (b *Bridge) publishDiscovery(client mqtt.Client, node Node) {
	announce := func(topic string, payload []byte, err error) {
		if err != nil {
			b.log.Error("discovery encode failed", zap.String("node", node.ID), zap.Error(err))
			return
		}
		if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			b.log.Error("discovery publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	prefix, clientID := b.cfg.TopicPrefix, b.cfg.ClientID

	payload, err := discoveryConfig(prefix, clientID, node.ID, node.Label, b.cfg.MinTemperature, b.cfg.MaxTemperature)
	announce(discoveryTopic(b.cfg.DiscoveryPrefix, clientID, node.ID), payload, err)

	for _, sw := range switchKinds {
		payload, err := switchDiscoveryConfig(prefix, clientID, node.ID, node.Label, sw.kind, sw.field, sw.label)
		announce(switchDiscoveryTopic(b.cfg.DiscoveryPrefix, clientID, node.ID, sw.kind), payload, err)
	}

	payload, err = defrostDiscoveryConfig(prefix, clientID, node.ID, node.Label)
	announce(binarySensorDiscoveryTopic(b.cfg.DiscoveryPrefix, clientID, node.ID, "defrost"), payload, err)

	payload, err = faultDiscoveryConfig(prefix, clientID, node.ID, node.Label)
	announce(sensorDiscoveryTopic(b.cfg.DiscoveryPrefix, clientID, node.ID, "fault"), payload, err)
}

func (b *Bridge) watchStore(ctx context.Context, node Node, ch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			b.publishState(node)
		}
	}
}

func (b *Bridge) publishState(node Node) {
	state, ok := node.Store.Snapshot()
	if !ok {
		return
	}
	var code enki.ErrorCode
	if report, ok := node.Store.ErrorReport(); ok {
		code = report.Code
	}

	payload, err := encodeState(state, code)
	if err != nil {
		b.log.Error("state encode failed", zap.String("node", node.ID), zap.Error(err))
		return
	}
	if token := b.client.Publish(stateTopic(b.cfg.TopicPrefix, node.ID), 0, true, payload); token.Wait() && token.Error() != nil {
		b.log.Warn("state publish failed", zap.String("node", node.ID), zap.Error(token.Error()))
	}
}

func (b *Bridge) handleCommand(node Node, topic, payload string) {
	kind := commandKind(topic)
	log := b.log.With(zap.String("node", node.ID), zap.String("command", kind))

	if err := b.dispatchCommand(node, kind, payload); err != nil {
		log.Warn("command failed", zap.Error(err))
	}
}

func (b *Bridge) dispatchCommand(node Node, kind, payload string) error {
	parse, ok := map[string]func(string) (enki.Patch, error){
		commandPower:       patchForPower,
		commandMode:        patchForMode,
		commandFan:         patchForFan,
		commandTemperature: patchForTemperature,
	}[kind]
	if ok {
		patch, err := parse(payload)
		if err != nil {
			return err
		}
		return node.Applier.Apply(b.ctx, patch)
	}

	switch kind {
	case commandSwingHorizontal:
		v := enki.SwingAxisValue(strings.ToUpper(payload))
		return node.Applier.SetSwing(b.ctx, &v, nil)
	case commandSwingVertical:
		v := enki.SwingAxisValue(strings.ToUpper(payload))
		return node.Applier.SetSwing(b.ctx, nil, &v)
	}

	for _, sw := range switchKinds {
		if sw.kind == kind {
			patch, err := patchForSwitch(kind, payload)
			if err != nil {
				return err
			}
			return node.Applier.Apply(b.ctx, patch)
		}
	}
	return fmt.Errorf("unknown command %q", kind)
}
