package bridge

import (
	"encoding/json"
	"fmt"
)

// Home Assistant MQTT discovery for a climate entity. The bridge
// publishes one retained config per node; the state topic carries JSON
// and the templates pick fields out of it.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`

	Modes             []string `json:"modes"`
	ModeCommandTopic  string   `json:"mode_command_topic"`
	ModeStateTopic    string   `json:"mode_state_topic"`
	ModeStateTemplate string   `json:"mode_state_template"`

	FanModes             []string `json:"fan_modes"`
	FanModeCommandTopic  string   `json:"fan_mode_command_topic"`
	FanModeStateTopic    string   `json:"fan_mode_state_topic"`
	FanModeStateTemplate string   `json:"fan_mode_state_template"`

	TemperatureCommandTopic  string  `json:"temperature_command_topic"`
	TemperatureStateTopic    string  `json:"temperature_state_topic"`
	TemperatureStateTemplate string  `json:"temperature_state_template"`
	CurrentTemperatureTopic  string  `json:"current_temperature_topic"`
	CurrentTemperatureTmpl   string  `json:"current_temperature_template"`
	MinTemp                  float64 `json:"min_temp"`
	MaxTemp                  float64 `json:"max_temp"`
	TempStep                 float64 `json:"temp_step"`
}

const modeStateTemplate = `{{ value_json.hvacMode }}`

type switchPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`

	CommandTopic  string `json:"command_topic"`
	StateTopic    string `json:"state_topic"`
	ValueTemplate string `json:"value_template"`
	PayloadOn     string `json:"payload_on"`
	PayloadOff    string `json:"payload_off"`
	StateOn       string `json:"state_on"`
	StateOff      string `json:"state_off"`
}

type sensorPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`

	StateTopic    string `json:"state_topic"`
	ValueTemplate string `json:"value_template"`
	DeviceClass   string `json:"device_class,omitempty"`
	PayloadOn     string `json:"payload_on,omitempty"`
	PayloadOff    string `json:"payload_off,omitempty"`
}

func discoveryTopic(discoveryPrefix, clientID, nodeID string) string {
	return fmt.Sprintf("%s/climate/%s_%s/config", discoveryPrefix, clientID, nodeID)
}

func switchDiscoveryTopic(discoveryPrefix, clientID, nodeID, kind string) string {
	return fmt.Sprintf("%s/switch/%s_%s_%s/config", discoveryPrefix, clientID, nodeID, kind)
}

func binarySensorDiscoveryTopic(discoveryPrefix, clientID, nodeID, kind string) string {
	return fmt.Sprintf("%s/binary_sensor/%s_%s_%s/config", discoveryPrefix, clientID, nodeID, kind)
}

func sensorDiscoveryTopic(discoveryPrefix, clientID, nodeID, kind string) string {
	return fmt.Sprintf("%s/sensor/%s_%s_%s/config", discoveryPrefix, clientID, nodeID, kind)
}

func switchDiscoveryConfig(prefix, clientID, nodeID, label, kind, field, name string) ([]byte, error) {
	if label == "" {
		label = nodeID
	}
	payload := switchPayload{
		Name:              fmt.Sprintf("%s %s", label, name),
		UniqueID:          fmt.Sprintf("%s_%s_%s", clientID, nodeID, kind),
		AvailabilityTopic: availabilityTopic(prefix),
		Device:            deviceInfo(nodeID, label),

		CommandTopic:  commandTopic(prefix, nodeID, kind),
		StateTopic:    stateTopic(prefix, nodeID),
		ValueTemplate: fmt.Sprintf("{{ value_json.%s }}", field),
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
		StateOn:       "True",
		StateOff:      "False",
	}
	return json.Marshal(payload)
}

func defrostDiscoveryConfig(prefix, clientID, nodeID, label string) ([]byte, error) {
	if label == "" {
		label = nodeID
	}
	payload := sensorPayload{
		Name:              label + " Defrost",
		UniqueID:          fmt.Sprintf("%s_%s_defrost", clientID, nodeID),
		AvailabilityTopic: availabilityTopic(prefix),
		Device:            deviceInfo(nodeID, label),

		StateTopic:    stateTopic(prefix, nodeID),
		ValueTemplate: `{{ value_json.defrostMode }}`,
		DeviceClass:   "running",
		PayloadOn:     "True",
		PayloadOff:    "False",
	}
	return json.Marshal(payload)
}

func faultDiscoveryConfig(prefix, clientID, nodeID, label string) ([]byte, error) {
	if label == "" {
		label = nodeID
	}
	payload := sensorPayload{
		Name:              label + " Fault code",
		UniqueID:          fmt.Sprintf("%s_%s_fault", clientID, nodeID),
		AvailabilityTopic: availabilityTopic(prefix),
		Device:            deviceInfo(nodeID, label),

		StateTopic:    stateTopic(prefix, nodeID),
		ValueTemplate: `{{ value_json.errorCode }}`,
	}
	return json.Marshal(payload)
}

func deviceInfo(nodeID, label string) discoveryDevice {
	return discoveryDevice{
		Identifiers:  []string{nodeID},
		Name:         label,
		Manufacturer: "Equation",
		Model:        "Virtus",
	}
}

func discoveryConfig(prefix, clientID, nodeID, label string, minTemp, maxTemp float64) ([]byte, error) {
	if label == "" {
		label = nodeID
	}
	state := stateTopic(prefix, nodeID)

	payload := discoveryPayload{
		Name:              label,
		UniqueID:          fmt.Sprintf("%s_%s", clientID, nodeID),
		AvailabilityTopic: availabilityTopic(prefix),
		Device:            deviceInfo(nodeID, label),

		Modes:             []string{"off", "cool", "heat", "dry", "auto", "fan_only"},
		ModeCommandTopic:  commandTopic(prefix, nodeID, commandMode),
		ModeStateTopic:    state,
		ModeStateTemplate: modeStateTemplate,

		FanModes:             []string{"low", "medium", "high", "auto"},
		FanModeCommandTopic:  commandTopic(prefix, nodeID, commandFan),
		FanModeStateTopic:    state,
		FanModeStateTemplate: `{{ value_json.fanSpeed | lower }}`,

		TemperatureCommandTopic:  commandTopic(prefix, nodeID, commandTemperature),
		TemperatureStateTopic:    state,
		TemperatureStateTemplate: `{{ value_json.targetTemperature }}`,
		CurrentTemperatureTopic:  state,
		CurrentTemperatureTmpl:   `{{ value_json.currentTemperature }}`,
		MinTemp:                  minTemp,
		MaxTemp:                  maxTemp,
		TempStep:                 0.5,
	}
	return json.Marshal(payload)
}
