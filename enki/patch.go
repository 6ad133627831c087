package enki

import "fmt"

// Patch is a partial desired-state change. Nil fields mean "leave
// unchanged"; on the wire they become explicit nulls.
type Patch struct {
	TargetTemperature *float64
	OperatingMode     *OperatingMode
	Power             *Power
	FanSpeed          *FanSpeed
	SwingOrientation  *SwingOrientation

	HealthMode          *bool
	FrostProtectionMode *bool
	SelfCleanMode       *bool
	QuietMode           *bool
	SleepMode           *bool
}

// IsZero reports whether the patch carries no explicit value at all.
func (p Patch) IsZero() bool {
	return p.TargetTemperature == nil &&
		p.OperatingMode == nil &&
		p.Power == nil &&
		p.FanSpeed == nil &&
		p.SwingOrientation == nil &&
		p.HealthMode == nil &&
		p.FrostProtectionMode == nil &&
		p.SelfCleanMode == nil &&
		p.QuietMode == nil &&
		p.SleepMode == nil
}

// swingBody is the nested swing pair on the wire. An unchanged swing
// orientation must be sent as null, never as an object with null
// sub-fields; the backend's deserializer depends on that, so the wire
// struct keeps the whole pair behind one pointer.
type swingBody struct {
	Horizontal SwingAxisValue `json:"horizontal"`
	Vertical   SwingAxisValue `json:"vertical"`
}

// changeStateBody is the change-airconditioner-state request payload.
// Every field is serialized explicitly; unchanged fields carry null.
// currentTemperature is read-only but present in the captured contract,
// always null.
type changeStateBody struct {
	TargetTemperature   *float64       `json:"targetTemperature"`
	CurrentTemperature  *float64       `json:"currentTemperature"`
	OperatingMode       *OperatingMode `json:"operatingMode"`
	Power               *Power         `json:"power"`
	FanSpeed            *FanSpeed      `json:"fanSpeed"`
	FrostProtectionMode *bool          `json:"frostProtectionMode"`
	SelfCleanMode       *bool          `json:"selfCleanMode"`
	HealthMode          *bool          `json:"healthMode"`
	QuietMode           *bool          `json:"quietMode"`
	SleepMode           *bool          `json:"sleepMode"`
	SwingOrientation    *swingBody     `json:"swingOrientation"`
}

func (p Patch) wireBody() changeStateBody {
	body := changeStateBody{
		TargetTemperature:   p.TargetTemperature,
		OperatingMode:       p.OperatingMode,
		Power:               p.Power,
		FanSpeed:            p.FanSpeed,
		FrostProtectionMode: p.FrostProtectionMode,
		SelfCleanMode:       p.SelfCleanMode,
		HealthMode:          p.HealthMode,
		QuietMode:           p.QuietMode,
		SleepMode:           p.SleepMode,
	}
	if p.SwingOrientation != nil {
		body.SwingOrientation = &swingBody{
			Horizontal: p.SwingOrientation.Horizontal,
			Vertical:   p.SwingOrientation.Vertical,
		}
	}
	return body
}

// Domains holds the accepted value sets for command validation. Swing
// values and the temperature bounds are configurable because the full
// domains are unconfirmed from captured traffic.
type Domains struct {
	Power          []Power
	OperatingModes []OperatingMode
	FanSpeeds      []FanSpeed
	SwingValues    []SwingAxisValue

	MinTemperature float64
	MaxTemperature float64
}

// DefaultDomains returns the value sets observed in the vendor app.
func DefaultDomains() Domains {
	return Domains{
		Power:          []Power{PowerOn, PowerOff},
		OperatingModes: []OperatingMode{ModeCool, ModeHeat, ModeFan, ModeDry, ModeAuto},
		FanSpeeds:      []FanSpeed{FanLow, FanMedium, FanHigh, FanAuto},
		SwingValues:    []SwingAxisValue{SwingAuto},
		MinTemperature: 16,
		MaxTemperature: 30,
	}
}

// Check validates every explicit field of a patch against its domain.
func (d Domains) Check(p Patch) error {
	if p.IsZero() {
		return &InvalidValueError{Field: "patch", Value: "empty"}
	}
	if p.Power != nil && !contains(d.Power, *p.Power) {
		return &InvalidValueError{Field: "power", Value: string(*p.Power)}
	}
	if p.OperatingMode != nil && !contains(d.OperatingModes, *p.OperatingMode) {
		return &InvalidValueError{Field: "operatingMode", Value: string(*p.OperatingMode)}
	}
	if p.FanSpeed != nil && !contains(d.FanSpeeds, *p.FanSpeed) {
		return &InvalidValueError{Field: "fanSpeed", Value: string(*p.FanSpeed)}
	}
	if p.SwingOrientation != nil {
		if !contains(d.SwingValues, p.SwingOrientation.Horizontal) {
			return &InvalidValueError{Field: "swingOrientation.horizontal", Value: string(p.SwingOrientation.Horizontal)}
		}
		if !contains(d.SwingValues, p.SwingOrientation.Vertical) {
			return &InvalidValueError{Field: "swingOrientation.vertical", Value: string(p.SwingOrientation.Vertical)}
		}
	}
	if p.TargetTemperature != nil {
		if *p.TargetTemperature < d.MinTemperature || *p.TargetTemperature > d.MaxTemperature {
			return &InvalidValueError{
				Field: "targetTemperature",
				Value: fmt.Sprintf("%g (supported %g-%g)", *p.TargetTemperature, d.MinTemperature, d.MaxTemperature),
			}
		}
	}
	return nil
}

func contains[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
