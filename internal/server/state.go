package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pbertin/govirtus/enki"
)

type stateResponse struct {
	NodeID              string    `json:"nodeId"`
	LastReportedDate    time.Time `json:"lastReportedDate"`
	TargetTemperature   float64   `json:"targetTemperature"`
	CurrentTemperature  float64   `json:"currentTemperature"`
	OperatingMode       string    `json:"operatingMode"`
	Power               string    `json:"power"`
	FanSpeed            string    `json:"fanSpeed"`
	SwingHorizontal     string    `json:"swingHorizontal"`
	SwingVertical       string    `json:"swingVertical"`
	HealthMode          bool      `json:"healthMode"`
	FrostProtectionMode bool      `json:"frostProtectionMode"`
	SelfCleanMode       bool      `json:"selfCleanMode"`
	QuietMode           bool      `json:"quietMode"`
	SleepMode           bool      `json:"sleepMode"`
	DefrostMode         bool      `json:"defrostMode"`
	ErrorCode           string    `json:"errorCode,omitempty"`
}

// StateHandler serves the last known state of each node under
// /state/{node_id}. Answers 503 until the first poll seeds the store.
func StateHandler(stores map[string]*enki.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodeID := strings.TrimPrefix(r.URL.Path, "/state/")
		store, ok := stores[nodeID]
		if !ok {
			http.NotFound(w, r)
			return
		}

		state, seeded := store.Snapshot()
		if !seeded {
			http.Error(w, "no state yet", http.StatusServiceUnavailable)
			return
		}

		resp := stateResponse{
			NodeID:              state.NodeID,
			LastReportedDate:    state.LastReportedDate,
			TargetTemperature:   state.TargetTemperature,
			CurrentTemperature:  state.CurrentTemperature,
			OperatingMode:       string(state.OperatingMode),
			Power:               string(state.Power),
			FanSpeed:            string(state.FanSpeed),
			SwingHorizontal:     string(state.SwingOrientation.Horizontal),
			SwingVertical:       string(state.SwingOrientation.Vertical),
			HealthMode:          state.HealthMode,
			FrostProtectionMode: state.FrostProtectionMode,
			SelfCleanMode:       state.SelfCleanMode,
			QuietMode:           state.QuietMode,
			SleepMode:           state.SleepMode,
			DefrostMode:         state.DefrostMode,
		}
		if report, ok := store.ErrorReport(); ok && report.Code != enki.ErrorCodeNone {
			resp.ErrorCode = string(report.Code)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
