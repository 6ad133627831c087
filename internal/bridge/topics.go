package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pbertin/govirtus/enki"
)

const (
	commandPower           = "power"
	commandMode            = "mode"
	commandFan             = "fan"
	commandTemperature     = "temperature"
	commandSwingHorizontal = "swing_horizontal"
	commandSwingVertical   = "swing_vertical"
	commandQuiet           = "quiet"
	commandSleep           = "sleep"
	commandHealth          = "health"
	commandSelfClean       = "self_clean"
	commandFrostProtection = "frost_protection"
)

// switchKinds are the boolean modes exposed as Home Assistant switches,
// keyed by command kind with the matching state payload field.
var switchKinds = []struct {
	kind  string
	field string
	label string
}{
	{commandQuiet, "quietMode", "Quiet mode"},
	{commandSleep, "sleepMode", "Sleep mode"},
	{commandHealth, "healthMode", "Health mode"},
	{commandSelfClean, "selfCleanMode", "Self clean"},
	{commandFrostProtection, "frostProtectionMode", "Frost protection"},
}

func availabilityTopic(prefix string) string {
	return prefix + "/status"
}

func stateTopic(prefix, nodeID string) string {
	return fmt.Sprintf("%s/%s/state", prefix, nodeID)
}

func commandTopic(prefix, nodeID, kind string) string {
	return fmt.Sprintf("%s/%s/set/%s", prefix, nodeID, kind)
}

// commandWildcard matches every command topic for a node.
func commandWildcard(prefix, nodeID string) string {
	return fmt.Sprintf("%s/%s/set/+", prefix, nodeID)
}

// commandKind extracts the final topic segment naming the command.
func commandKind(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 {
		return ""
	}
	return topic[i+1:]
}

type statePayload struct {
	NodeID             string  `json:"nodeId"`
	LastReportedDate   string  `json:"lastReportedDate"`
	Power              string  `json:"power"`
	OperatingMode      string  `json:"operatingMode"`
	HVACMode           string  `json:"hvacMode"`
	FanSpeed           string  `json:"fanSpeed"`
	TargetTemperature  float64 `json:"targetTemperature"`
	CurrentTemperature float64 `json:"currentTemperature"`
	SwingHorizontal    string  `json:"swingHorizontal"`
	SwingVertical      string  `json:"swingVertical"`
	QuietMode          bool    `json:"quietMode"`
	SleepMode          bool    `json:"sleepMode"`
	HealthMode         bool    `json:"healthMode"`
	SelfCleanMode      bool    `json:"selfCleanMode"`
	FrostProtection    bool    `json:"frostProtectionMode"`
	DefrostMode        bool    `json:"defrostMode"`
	ErrorCode          string  `json:"errorCode"`
}

func encodeState(state enki.DeviceState, code enki.ErrorCode) ([]byte, error) {
	payload := statePayload{
		NodeID:             state.NodeID,
		Power:              string(state.Power),
		OperatingMode:      string(state.OperatingMode),
		HVACMode:           haMode(state),
		FanSpeed:           string(state.FanSpeed),
		TargetTemperature:  state.TargetTemperature,
		CurrentTemperature: state.CurrentTemperature,
		SwingHorizontal:    string(state.SwingOrientation.Horizontal),
		SwingVertical:      string(state.SwingOrientation.Vertical),
		QuietMode:          state.QuietMode,
		SleepMode:          state.SleepMode,
		HealthMode:         state.HealthMode,
		SelfCleanMode:      state.SelfCleanMode,
		FrostProtection:    state.FrostProtectionMode,
		DefrostMode:        state.DefrostMode,
	}
	if !state.LastReportedDate.IsZero() {
		payload.LastReportedDate = state.LastReportedDate.UTC().Format(time.RFC3339)
	}
	if code != "" && code != enki.ErrorCodeNone {
		payload.ErrorCode = string(code)
	}
	return json.Marshal(payload)
}

// haMode maps the unit's power and mode onto a Home Assistant HVAC mode.
func haMode(state enki.DeviceState) string {
	if state.Power != enki.PowerOn {
		return "off"
	}
	switch state.OperatingMode {
	case enki.ModeFan:
		return "fan_only"
	default:
		return strings.ToLower(string(state.OperatingMode))
	}
}

// patchForMode translates a Home Assistant HVAC mode into a state patch.
// "off" cuts power; any real mode also powers the unit on.
func patchForMode(payload string) (enki.Patch, error) {
	if payload == "off" {
		off := enki.PowerOff
		return enki.Patch{Power: &off}, nil
	}

	var mode enki.OperatingMode
	switch payload {
	case "cool":
		mode = enki.ModeCool
	case "heat":
		mode = enki.ModeHeat
	case "dry":
		mode = enki.ModeDry
	case "auto":
		mode = enki.ModeAuto
	case "fan_only":
		mode = enki.ModeFan
	default:
		return enki.Patch{}, fmt.Errorf("unknown hvac mode %q", payload)
	}
	on := enki.PowerOn
	return enki.Patch{Power: &on, OperatingMode: &mode}, nil
}

func patchForPower(payload string) (enki.Patch, error) {
	switch strings.ToUpper(payload) {
	case "ON":
		on := enki.PowerOn
		return enki.Patch{Power: &on}, nil
	case "OFF":
		off := enki.PowerOff
		return enki.Patch{Power: &off}, nil
	}
	return enki.Patch{}, fmt.Errorf("unknown power payload %q", payload)
}

func patchForFan(payload string) (enki.Patch, error) {
	speed := enki.FanSpeed(strings.ToUpper(payload))
	return enki.Patch{FanSpeed: &speed}, nil
}

// patchForSwitch handles the boolean mode commands with ON/OFF payloads.
func patchForSwitch(kind, payload string) (enki.Patch, error) {
	var on bool
	switch strings.ToUpper(payload) {
	case "ON":
		on = true
	case "OFF":
		on = false
	default:
		return enki.Patch{}, fmt.Errorf("unknown switch payload %q", payload)
	}

	var patch enki.Patch
	switch kind {
	case commandQuiet:
		patch.QuietMode = &on
	case commandSleep:
		patch.SleepMode = &on
	case commandHealth:
		patch.HealthMode = &on
	case commandSelfClean:
		patch.SelfCleanMode = &on
	case commandFrostProtection:
		patch.FrostProtectionMode = &on
	default:
		return enki.Patch{}, fmt.Errorf("unknown switch %q", kind)
	}
	return patch, nil
}

func patchForTemperature(payload string) (enki.Patch, error) {
	celsius, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return enki.Patch{}, fmt.Errorf("bad temperature payload %q", payload)
	}
	return enki.Patch{TargetTemperature: &celsius}, nil
}
