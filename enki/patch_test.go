package enki

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWireBodyGolden(t *testing.T) {
	temp := 22.0
	power := PowerOn
	mode := ModeCool
	patch := Patch{
		TargetTemperature: &temp,
		Power:             &power,
		OperatingMode:     &mode,
	}

	data, err := json.Marshal(patch.wireBody())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"targetTemperature":22,"currentTemperature":null,"operatingMode":"COOL","power":"ON","fanSpeed":null,"frostProtectionMode":null,"selfCleanMode":null,"healthMode":null,"quietMode":null,"sleepMode":null,"swingOrientation":null}`
	if string(data) != want {
		t.Errorf("wire body mismatch\n got: %s\nwant: %s", data, want)
	}
}

func TestDomainsCheckRejectsEmptyPatch(t *testing.T) {
	err := DefaultDomains().Check(Patch{})
	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidValueError", err)
	}
	if invalid.Field != "patch" {
		t.Errorf("field = %q", invalid.Field)
	}
}

func TestDomainsCheckRejectsUnknownFanSpeed(t *testing.T) {
	speed := FanSpeed("ULTRA")
	err := DefaultDomains().Check(Patch{FanSpeed: &speed})

	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidValueError", err)
	}
	if invalid.Field != "fanSpeed" || invalid.Value != "ULTRA" {
		t.Errorf("got field %q value %q", invalid.Field, invalid.Value)
	}
}

func TestDomainsCheckTemperatureBounds(t *testing.T) {
	domains := DefaultDomains()
	for _, tc := range []struct {
		celsius float64
		ok      bool
	}{
		{15.5, false},
		{16, true},
		{23, true},
		{30, true},
		{30.5, false},
	} {
		err := domains.Check(Patch{TargetTemperature: &tc.celsius})
		if tc.ok && err != nil {
			t.Errorf("temperature %g rejected: %v", tc.celsius, err)
		}
		if !tc.ok {
			var invalid *InvalidValueError
			if !errors.As(err, &invalid) {
				t.Errorf("temperature %g: err = %v, want InvalidValueError", tc.celsius, err)
			}
		}
	}
}

func TestDomainsCheckSwingAxes(t *testing.T) {
	err := DefaultDomains().Check(Patch{
		SwingOrientation: &SwingOrientation{Horizontal: SwingAuto, Vertical: SwingAxisValue("FIXED")},
	})

	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidValueError", err)
	}
	if invalid.Field != "swingOrientation.vertical" {
		t.Errorf("field = %q", invalid.Field)
	}
}

func TestDomainsCheckExtendedSwingValues(t *testing.T) {
	domains := DefaultDomains()
	domains.SwingValues = append(domains.SwingValues, SwingAxisValue("FIXED"))

	err := domains.Check(Patch{
		SwingOrientation: &SwingOrientation{Horizontal: SwingAxisValue("FIXED"), Vertical: SwingAuto},
	})
	if err != nil {
		t.Errorf("extended swing value rejected: %v", err)
	}
}
