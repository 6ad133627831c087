package enki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TemperatureHistory fetches ambient temperature samples recorded by the
// unit, aggregated by the sensors service at the given granularity.
func (c *Client) TemperatureHistory(ctx context.Context, nodeID string, start time.Time, period TimePeriod) ([]TemperatureSample, error) {
	query := url.Values{
		"stateType":  {"TEMPERATURE"},
		"startDate":  {start.UTC().Format(time.RFC3339)},
		"timePeriod": {string(period)},
	}

	status, data, err := c.request(ctx, serviceSensors, http.MethodGet, fmt.Sprintf(pathTemperature, nodeID), query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &TransportError{Status: status, Cause: errors.New(strings.TrimSpace(string(data)))}
	}

	var resp struct {
		Values []struct {
			Date  string  `json:"date"`
			Value float64 `json:"value"`
		} `json:"values"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode temperature history: %w", err)
	}

	samples := make([]TemperatureSample, 0, len(resp.Values))
	for _, v := range resp.Values {
		samples = append(samples, TemperatureSample{
			Date:  parseTimestamp(v.Date),
			Value: v.Value,
		})
	}
	return samples, nil
}
