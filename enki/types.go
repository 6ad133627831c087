package enki

import "time"

// Power is the on/off state of the unit.
type Power string

const (
	PowerOn  Power = "ON"
	PowerOff Power = "OFF"
)

// OperatingMode selects what the unit does with the air.
type OperatingMode string

const (
	ModeCool OperatingMode = "COOL"
	ModeHeat OperatingMode = "HEAT"
	ModeFan  OperatingMode = "FAN"
	ModeDry  OperatingMode = "DRY"
	ModeAuto OperatingMode = "AUTO"
)

// FanSpeed is the blower speed.
type FanSpeed string

const (
	FanLow    FanSpeed = "LOW"
	FanMedium FanSpeed = "MEDIUM"
	FanHigh   FanSpeed = "HIGH"
	FanAuto   FanSpeed = "AUTO"
)

// SwingAxisValue is one axis of the louver orientation. AUTO is the only
// value seen in captured traffic; the domain is kept open and extensible
// through Domains.
type SwingAxisValue string

const SwingAuto SwingAxisValue = "AUTO"

// SwingOrientation pairs the horizontal and vertical louver settings.
type SwingOrientation struct {
	Horizontal SwingAxisValue
	Vertical   SwingAxisValue
}

// DeviceState is the unit's last reported state. It is replaced wholesale
// on every successful poll so readers never see values from two different
// reports mixed together.
type DeviceState struct {
	NodeID           string
	HomeID           string
	LastReportedDate time.Time

	TargetTemperature  float64
	CurrentTemperature float64
	OperatingMode      OperatingMode
	Power              Power
	FanSpeed           FanSpeed
	SwingOrientation   SwingOrientation

	HealthMode          bool
	FrostProtectionMode bool
	SelfCleanMode       bool
	QuietMode           bool
	SleepMode           bool

	// DefrostMode is reported by the unit but cannot be commanded.
	DefrostMode bool
}

// ErrorCode is the unit's reported fault code. NONE is the only value
// observed so far; anything else should be treated as a fault.
type ErrorCode string

const ErrorCodeNone ErrorCode = "NONE"

// ErrorReport is the unit's last reported fault state.
type ErrorReport struct {
	NodeID           string
	HomeID           string
	LastReportedDate time.Time
	Code             ErrorCode
}

// NodeInfo is static device metadata from the node aggregation service.
type NodeInfo struct {
	NodeID      string
	DeviceID    string
	HomeID      string
	Label       string
	ModelNumber string
	FactoryID   string
	Icon        string
}

// DiscoveredNode is an air conditioner found on the home dashboard.
type DiscoveredNode struct {
	NodeID string
	Label  string
	Icon   string
}

// TimePeriod selects the granularity of a temperature history query.
type TimePeriod string

const (
	PeriodDaily   TimePeriod = "DAILY"
	PeriodWeekly  TimePeriod = "WEEKLY"
	PeriodMonthly TimePeriod = "MONTHLY"
	PeriodYearly  TimePeriod = "YEARLY"
)

// TemperatureSample is one historical temperature reading.
type TemperatureSample struct {
	Date  time.Time
	Value float64
}
