package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pbertin/govirtus/enki"
)

func TestTopicLayout(t *testing.T) {
	if got := stateTopic("govirtus", "node-1"); got != "govirtus/node-1/state" {
		t.Errorf("state topic = %q", got)
	}
	if got := commandTopic("govirtus", "node-1", commandTemperature); got != "govirtus/node-1/set/temperature" {
		t.Errorf("command topic = %q", got)
	}
	if got := commandWildcard("govirtus", "node-1"); got != "govirtus/node-1/set/+" {
		t.Errorf("wildcard = %q", got)
	}
	if got := commandKind("govirtus/node-1/set/fan"); got != "fan" {
		t.Errorf("kind = %q", got)
	}
}

func TestEncodeState(t *testing.T) {
	state := enki.DeviceState{
		NodeID:             "node-1",
		LastReportedDate:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Power:              enki.PowerOn,
		OperatingMode:      enki.ModeCool,
		FanSpeed:           enki.FanAuto,
		TargetTemperature:  21,
		CurrentTemperature: 24.5,
		SwingOrientation:   enki.SwingOrientation{Horizontal: enki.SwingAuto, Vertical: enki.SwingAuto},
	}

	data, err := encodeState(state, enki.ErrorCodeNone)
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["power"] != "ON" || payload["operatingMode"] != "COOL" {
		t.Errorf("payload = %v", payload)
	}
	if payload["hvacMode"] != "cool" {
		t.Errorf("hvacMode = %v", payload["hvacMode"])
	}
	if payload["lastReportedDate"] != "2026-08-30T12:00:00Z" {
		t.Errorf("lastReportedDate = %v", payload["lastReportedDate"])
	}
	if payload["errorCode"] != "" {
		t.Errorf("errorCode should be empty for NONE, got %v", payload["errorCode"])
	}
}

func TestHAMode(t *testing.T) {
	for _, tc := range []struct {
		power enki.Power
		mode  enki.OperatingMode
		want  string
	}{
		{enki.PowerOff, enki.ModeCool, "off"},
		{enki.PowerOn, enki.ModeCool, "cool"},
		{enki.PowerOn, enki.ModeFan, "fan_only"},
		{enki.PowerOn, enki.ModeAuto, "auto"},
	} {
		state := enki.DeviceState{Power: tc.power, OperatingMode: tc.mode}
		if got := haMode(state); got != tc.want {
			t.Errorf("haMode(%s/%s) = %q, want %q", tc.power, tc.mode, got, tc.want)
		}
	}
}

func TestPatchForModeOffCutsPower(t *testing.T) {
	patch, err := patchForMode("off")
	if err != nil {
		t.Fatalf("patchForMode: %v", err)
	}
	if patch.Power == nil || *patch.Power != enki.PowerOff {
		t.Errorf("patch = %+v", patch)
	}
	if patch.OperatingMode != nil {
		t.Error("off should not set an operating mode")
	}
}

func TestPatchForModePowersOn(t *testing.T) {
	patch, err := patchForMode("fan_only")
	if err != nil {
		t.Fatalf("patchForMode: %v", err)
	}
	if patch.Power == nil || *patch.Power != enki.PowerOn {
		t.Error("mode change should power the unit on")
	}
	if patch.OperatingMode == nil || *patch.OperatingMode != enki.ModeFan {
		t.Errorf("mode = %v", patch.OperatingMode)
	}
}

func TestPatchForModeRejectsUnknown(t *testing.T) {
	if _, err := patchForMode("turbo"); err == nil {
		t.Error("expected error for unknown hvac mode")
	}
}

func TestPatchForTemperature(t *testing.T) {
	patch, err := patchForTemperature("21.5")
	if err != nil {
		t.Fatalf("patchForTemperature: %v", err)
	}
	if patch.TargetTemperature == nil || *patch.TargetTemperature != 21.5 {
		t.Errorf("patch = %+v", patch)
	}
	if _, err := patchForTemperature("warm"); err == nil {
		t.Error("expected error for non-numeric payload")
	}
}

func TestPatchForSwitch(t *testing.T) {
	patch, err := patchForSwitch(commandQuiet, "ON")
	if err != nil {
		t.Fatalf("patchForSwitch: %v", err)
	}
	if patch.QuietMode == nil || !*patch.QuietMode {
		t.Errorf("patch = %+v", patch)
	}

	patch, err = patchForSwitch(commandFrostProtection, "off")
	if err != nil {
		t.Fatalf("patchForSwitch: %v", err)
	}
	if patch.FrostProtectionMode == nil || *patch.FrostProtectionMode {
		t.Errorf("patch = %+v", patch)
	}

	if _, err := patchForSwitch(commandQuiet, "maybe"); err == nil {
		t.Error("expected error for bad payload")
	}
}

func TestSwitchDiscoveryConfig(t *testing.T) {
	data, err := switchDiscoveryConfig("govirtus", "govirtus", "node-1", "Living room", commandSleep, "sleepMode", "Sleep mode")
	if err != nil {
		t.Fatalf("switchDiscoveryConfig: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["command_topic"] != "govirtus/node-1/set/sleep" {
		t.Errorf("command_topic = %v", payload["command_topic"])
	}
	if payload["value_template"] != "{{ value_json.sleepMode }}" {
		t.Errorf("value_template = %v", payload["value_template"])
	}
	if payload["unique_id"] != "govirtus_node-1_sleep" {
		t.Errorf("unique_id = %v", payload["unique_id"])
	}
}

func TestDiscoveryConfig(t *testing.T) {
	data, err := discoveryConfig("govirtus", "govirtus", "node-1", "Living room", 16, 30)
	if err != nil {
		t.Fatalf("discoveryConfig: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["name"] != "Living room" {
		t.Errorf("name = %v", payload["name"])
	}
	if payload["unique_id"] != "govirtus_node-1" {
		t.Errorf("unique_id = %v", payload["unique_id"])
	}
	if payload["mode_command_topic"] != "govirtus/node-1/set/mode" {
		t.Errorf("mode_command_topic = %v", payload["mode_command_topic"])
	}
	if payload["min_temp"] != 16.0 || payload["max_temp"] != 30.0 {
		t.Errorf("temp range = %v-%v", payload["min_temp"], payload["max_temp"])
	}
	if got := discoveryTopic("homeassistant", "govirtus", "node-1"); got != "homeassistant/climate/govirtus_node-1/config" {
		t.Errorf("discovery topic = %q", got)
	}
}
