package enki

import (
	"context"

	"go.uber.org/zap"
)

// Poker pokes the poll loop after an accepted command so confirmation
// arrives ahead of the regular cadence.
type Poker interface {
	Kick()
}

// StateChanger is the slice of the gateway client the dispatcher needs.
type StateChanger interface {
	ChangeState(ctx context.Context, nodeID string, patch Patch) error
}

// Dispatcher validates and sends state change commands for one node.
type Dispatcher struct {
	changer StateChanger
	store   *Store
	poker   Poker
	nodeID  string
	domains Domains
	log     *zap.Logger
}

func NewDispatcher(nodeID string, domains Domains, changer StateChanger, store *Store, poker Poker, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		changer: changer,
		store:   store,
		poker:   poker,
		nodeID:  nodeID,
		domains: domains,
		log:     log,
	}
}

// Apply validates the patch against the configured domains, sends it,
// and kicks the poll loop on acceptance. The store is not written here:
// the new state lands through the next poll once the unit reports it.
func (d *Dispatcher) Apply(ctx context.Context, patch Patch) error {
	if err := d.domains.Check(patch); err != nil {
		metricCommandRejected.WithLabelValues(d.nodeID).Inc()
		return err
	}

	if err := d.changer.ChangeState(ctx, d.nodeID, patch); err != nil {
		metricCommandRejected.WithLabelValues(d.nodeID).Inc()
		d.log.Warn("command rejected", zap.String("node", d.nodeID), zap.Error(err))
		return err
	}

	metricCommandAccepted.WithLabelValues(d.nodeID).Inc()
	d.log.Info("command accepted", zap.String("node", d.nodeID))
	if d.poker != nil {
		d.poker.Kick()
	}
	return nil
}

func (d *Dispatcher) SetPower(ctx context.Context, power Power) error {
	return d.Apply(ctx, Patch{Power: &power})
}

func (d *Dispatcher) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return d.Apply(ctx, Patch{TargetTemperature: &celsius})
}

func (d *Dispatcher) SetOperatingMode(ctx context.Context, mode OperatingMode) error {
	return d.Apply(ctx, Patch{OperatingMode: &mode})
}

func (d *Dispatcher) SetFanSpeed(ctx context.Context, speed FanSpeed) error {
	return d.Apply(ctx, Patch{FanSpeed: &speed})
}

// SetSwing changes one or both swing axes. The wire contract takes the
// pair as a whole, so an axis the caller leaves nil is filled from the
// last known state, falling back to AUTO before the first poll.
func (d *Dispatcher) SetSwing(ctx context.Context, horizontal, vertical *SwingAxisValue) error {
	pair := SwingOrientation{}
	if state, ok := d.store.Snapshot(); ok {
		pair = state.SwingOrientation
	}
	if pair.Horizontal == "" {
		pair.Horizontal = SwingAuto
	}
	if pair.Vertical == "" {
		pair.Vertical = SwingAuto
	}
	if horizontal != nil {
		pair.Horizontal = *horizontal
	}
	if vertical != nil {
		pair.Vertical = *vertical
	}
	return d.Apply(ctx, Patch{SwingOrientation: &pair})
}
