package enki

import "github.com/prometheus/client_golang/prometheus"

var (
	metricPollSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govirtus_poll_success_total",
		Help: "Successful state polls against the cloud gateway.",
	}, []string{"node"})

	metricPollFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govirtus_poll_failure_total",
		Help: "Failed state polls against the cloud gateway.",
	}, []string{"node"})

	metricPollFailureStreak = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "govirtus_poll_consecutive_failures",
		Help: "Consecutive poll failures since the last success.",
	}, []string{"node"})

	metricCommandAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govirtus_command_accepted_total",
		Help: "State change commands acknowledged by the cloud.",
	}, []string{"node"})

	metricCommandRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govirtus_command_rejected_total",
		Help: "State change commands rejected before or by the cloud.",
	}, []string{"node"})
)

// MetricsCollectors returns the collectors for poll and command activity.
// Register them once on the process registry.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		metricPollSuccess,
		metricPollFailure,
		metricPollFailureStreak,
		metricCommandAccepted,
		metricCommandRejected,
	}
}

var (
	descCurrentTemperature = prometheus.NewDesc(
		"govirtus_current_temperature_celsius",
		"Ambient temperature reported by the unit.",
		[]string{"node"}, nil)
	descTargetTemperature = prometheus.NewDesc(
		"govirtus_target_temperature_celsius",
		"Temperature setpoint reported by the unit.",
		[]string{"node"}, nil)
	descPowerOn = prometheus.NewDesc(
		"govirtus_power_on",
		"Whether the unit reports itself powered on.",
		[]string{"node"}, nil)
	descMode = prometheus.NewDesc(
		"govirtus_operating_mode",
		"Operating mode reported by the unit, one series per mode.",
		[]string{"node", "mode"}, nil)
)

// StateCollector exposes the stored device state as gauges. It reads the
// store at scrape time, so it reports nothing until the first poll lands.
type StateCollector struct {
	store  *Store
	nodeID string
}

func NewStateCollector(store *Store, nodeID string) *StateCollector {
	return &StateCollector{store: store, nodeID: nodeID}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCurrentTemperature
	ch <- descTargetTemperature
	ch <- descPowerOn
	ch <- descMode
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	state, ok := c.store.Snapshot()
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(descCurrentTemperature, prometheus.GaugeValue, state.CurrentTemperature, c.nodeID)
	ch <- prometheus.MustNewConstMetric(descTargetTemperature, prometheus.GaugeValue, state.TargetTemperature, c.nodeID)

	powerOn := 0.0
	if state.Power == PowerOn {
		powerOn = 1.0
	}
	ch <- prometheus.MustNewConstMetric(descPowerOn, prometheus.GaugeValue, powerOn, c.nodeID)

	for _, mode := range []OperatingMode{ModeCool, ModeHeat, ModeFan, ModeDry, ModeAuto} {
		active := 0.0
		if state.OperatingMode == mode {
			active = 1.0
		}
		ch <- prometheus.MustNewConstMetric(descMode, prometheus.GaugeValue, active, c.nodeID, string(mode))
	}
}
