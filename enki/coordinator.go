package enki

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 30 * time.Second
	backoffCapFactor    = 4
)

// StateSource is the slice of the gateway client the coordinator polls.
type StateSource interface {
	CheckState(ctx context.Context, nodeID string) (DeviceState, error)
	CheckError(ctx context.Context, nodeID string) (ErrorReport, error)
}

// CoordinatorConfig tunes the poll loop for one node.
type CoordinatorConfig struct {
	NodeID     string
	Interval   time.Duration
	PollErrors bool
}

// Coordinator owns the poll cadence for a single node. It is the only
// writer of the node's store, so polls never overlap and command
// confirmation arrives through the same path as routine refreshes.
type Coordinator struct {
	source   StateSource
	store    *Store
	nodeID   string
	interval time.Duration
	errors   bool
	log      *zap.Logger

	kick     chan struct{}
	failures atomic.Int64
}

func NewCoordinator(cfg CoordinatorConfig, source StateSource, store *Store, log *zap.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		source:   source,
		store:    store,
		nodeID:   cfg.NodeID,
		interval: cfg.Interval,
		errors:   cfg.PollErrors,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band poll. Kicks arriving while one is already
// pending coalesce into a single poll.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// ConsecutiveFailures reports how many polls in a row have failed.
func (c *Coordinator) ConsecutiveFailures() int {
	return int(c.failures.Load())
}

// Run polls until ctx is cancelled and returns ctx.Err(). The first poll
// fires immediately; later ones wait out the interval, stretched by
// exponential backoff after failures and short-circuited by Kick.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("poll loop starting",
		zap.String("node", c.nodeID),
		zap.Duration("interval", c.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-c.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := c.interval
		if err := c.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			streak := c.failures.Add(1)
			metricPollFailure.WithLabelValues(c.nodeID).Inc()
			metricPollFailureStreak.WithLabelValues(c.nodeID).Set(float64(streak))
			next = c.backoffDelay(streak)
			c.log.Warn("poll failed",
				zap.String("node", c.nodeID),
				zap.Int64("consecutive_failures", streak),
				zap.Duration("retry_in", next),
				zap.Error(err))
		} else {
			c.failures.Store(0)
			metricPollSuccess.WithLabelValues(c.nodeID).Inc()
			metricPollFailureStreak.WithLabelValues(c.nodeID).Set(0)
		}

		timer.Reset(next)
	}
}

func (c *Coordinator) pollOnce(ctx context.Context) error {
	state, err := c.source.CheckState(ctx, c.nodeID)
	if err != nil {
		return err
	}
	if c.store.SetState(state) {
		c.log.Debug("state advanced",
			zap.String("node", c.nodeID),
			zap.Time("reported", state.LastReportedDate))
	}

	if c.errors {
		// Fault codes are best effort; a failure here does not count
		// against the poll streak.
		report, err := c.source.CheckError(ctx, c.nodeID)
		if err != nil {
			c.log.Warn("error report fetch failed", zap.String("node", c.nodeID), zap.Error(err))
		} else {
			c.store.SetErrorReport(report)
		}
	}
	return nil
}

func (c *Coordinator) backoffDelay(streak int64) time.Duration {
	delay := c.interval
	for i := int64(1); i < streak; i++ {
		delay *= 2
		if delay >= c.interval*backoffCapFactor {
			return c.interval * backoffCapFactor
		}
	}
	return delay
}
