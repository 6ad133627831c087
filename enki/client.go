package enki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://enki.api.devportal.adeo.cloud"
	// Gateway API keys shipped in the vendor app; each backend service
	// behind the gateway requires its own.
	defaultAircoAPIKey = "Nntj37xS5lih1qqFy8SbyHWKG5NEhSCm"
	defaultNodeAPIKey  = "UBb0Kv6xXpG6bOvD8VZ9A63uxqQ4G1A3"

	defaultUserAgent      = "govirtus/1.0"
	defaultTimeout        = 15 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 250 * time.Millisecond
)

const (
	pathCheckState  = "/api-enki-equation-airco-prod/v1/equation-airco/%s/check-airconditioner-state"
	pathChangeState = "/api-enki-equation-airco-prod/v1/equation-airco/%s/change-airconditioner-state"
	pathCheckError  = "/api-enki-equation-airco-prod/v1/equation-airco/%s/check-airconditioner-error"
	pathNodeInfo    = "/api-enki-node-agg-prod/v1/nodes/%s"
	pathDashboard   = "/api-enki-mobile-bff-prod/v1/dashboard/homes/%s"
	pathTemperature = "/api-enki-sensors-prod/v1/sensors/bff/nodes/%s/specific-granularity"
)

// service identifies which backend behind the gateway a path addresses.
// The API key follows the service, not the operation.
type service int

const (
	serviceAirco service = iota
	serviceNodes
	serviceSensors
)

// TokenSource supplies bearer tokens for gateway calls. ForceRefresh is
// invoked when the gateway rejects a believed-valid token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Config defines runtime configuration for the Enki gateway client.
type Config struct {
	BaseURL string
	HomeID  string

	AircoAPIKey   string
	NodeAPIKey    string
	SensorsAPIKey string

	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Client talks to the Enki cloud gateway.
type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	apiKeys    map[service]string
}

func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if strings.TrimSpace(cfg.HomeID) == "" {
		return nil, fmt.Errorf("home id is required")
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AircoAPIKey == "" {
		cfg.AircoAPIKey = defaultAircoAPIKey
	}
	if cfg.NodeAPIKey == "" {
		cfg.NodeAPIKey = defaultNodeAPIKey
	}
	if cfg.SensorsAPIKey == "" {
		// No dedicated key observed for the sensors service yet.
		cfg.SensorsAPIKey = cfg.NodeAPIKey
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKeys: map[service]string{
			serviceAirco:   cfg.AircoAPIKey,
			serviceNodes:   cfg.NodeAPIKey,
			serviceSensors: cfg.SensorsAPIKey,
		},
	}, nil
}

// CheckState fetches the unit's last reported state.
func (c *Client) CheckState(ctx context.Context, nodeID string) (DeviceState, error) {
	status, data, err := c.request(ctx, serviceAirco, http.MethodGet, fmt.Sprintf(pathCheckState, nodeID), nil, nil)
	if err != nil {
		return DeviceState{}, err
	}
	if status != http.StatusOK {
		return DeviceState{}, &TransportError{Status: status, Cause: errors.New(strings.TrimSpace(string(data)))}
	}

	var resp struct {
		NodeID            string `json:"nodeId"`
		HomeID            string `json:"homeId"`
		LastReportedDate  string `json:"lastReportedDate"`
		LastReportedValue struct {
			TargetTemperature  float64 `json:"targetTemperature"`
			CurrentTemperature float64 `json:"currentTemperature"`
			OperatingMode      string  `json:"operatingMode"`
			Power              string  `json:"power"`
			FanSpeed           string  `json:"fanSpeed"`
			SwingOrientation   struct {
				Horizontal string `json:"horizontal"`
				Vertical   string `json:"vertical"`
			} `json:"swingOrientation"`
			HealthMode          bool `json:"healthMode"`
			FrostProtectionMode bool `json:"frostProtectionMode"`
			SelfCleanMode       bool `json:"selfCleanMode"`
			QuietMode           bool `json:"quietMode"`
			SleepMode           bool `json:"sleepMode"`
			DefrostMode         bool `json:"defrostMode"`
		} `json:"lastReportedValue"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return DeviceState{}, fmt.Errorf("decode state: %w", err)
	}

	value := resp.LastReportedValue
	return DeviceState{
		NodeID:             resp.NodeID,
		HomeID:             resp.HomeID,
		LastReportedDate:   parseTimestamp(resp.LastReportedDate),
		TargetTemperature:  value.TargetTemperature,
		CurrentTemperature: value.CurrentTemperature,
		OperatingMode:      OperatingMode(value.OperatingMode),
		Power:              Power(value.Power),
		FanSpeed:           FanSpeed(value.FanSpeed),
		SwingOrientation: SwingOrientation{
			Horizontal: SwingAxisValue(value.SwingOrientation.Horizontal),
			Vertical:   SwingAxisValue(value.SwingOrientation.Vertical),
		},
		HealthMode:          value.HealthMode,
		FrostProtectionMode: value.FrostProtectionMode,
		SelfCleanMode:       value.SelfCleanMode,
		QuietMode:           value.QuietMode,
		SleepMode:           value.SleepMode,
		DefrostMode:         value.DefrostMode,
	}, nil
}

// ChangeState sends a partial state patch. A 2xx acknowledgment means
// "accepted, not yet reflected": the cloud answers 202 with an empty body
// and the unit reports the new state on a later poll.
func (c *Client) ChangeState(ctx context.Context, nodeID string, patch Patch) error {
	body, err := json.Marshal(patch.wireBody())
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	status, data, err := c.request(ctx, serviceAirco, http.MethodPost, fmt.Sprintf(pathChangeState, nodeID), nil, body)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return &DeviceRejectedError{Status: status, Body: string(data)}
}

// CheckError fetches the unit's last reported fault code.
func (c *Client) CheckError(ctx context.Context, nodeID string) (ErrorReport, error) {
	status, data, err := c.request(ctx, serviceAirco, http.MethodGet, fmt.Sprintf(pathCheckError, nodeID), nil, nil)
	if err != nil {
		return ErrorReport{}, err
	}
	if status != http.StatusOK {
		return ErrorReport{}, &TransportError{Status: status, Cause: errors.New(strings.TrimSpace(string(data)))}
	}

	var resp struct {
		NodeID            string `json:"nodeId"`
		HomeID            string `json:"homeId"`
		LastReportedDate  string `json:"lastReportedDate"`
		LastReportedValue string `json:"lastReportedValue"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return ErrorReport{}, fmt.Errorf("decode error report: %w", err)
	}

	return ErrorReport{
		NodeID:           resp.NodeID,
		HomeID:           resp.HomeID,
		LastReportedDate: parseTimestamp(resp.LastReportedDate),
		Code:             ErrorCode(resp.LastReportedValue),
	}, nil
}

// NodeInfo fetches static device metadata from the node service.
func (c *Client) NodeInfo(ctx context.Context, nodeID string) (NodeInfo, error) {
	status, data, err := c.request(ctx, serviceNodes, http.MethodGet, fmt.Sprintf(pathNodeInfo, nodeID), nil, nil)
	if err != nil {
		return NodeInfo{}, err
	}
	if status != http.StatusOK {
		return NodeInfo{}, &TransportError{Status: status, Cause: errors.New(strings.TrimSpace(string(data)))}
	}

	var resp struct {
		ID          string `json:"id"`
		DeviceID    string `json:"deviceId"`
		HomeID      string `json:"homeId"`
		Label       string `json:"label"`
		ModelNumber string `json:"modelNumber"`
		FactoryID   string `json:"factoryId"`
		Icon        string `json:"icon"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return NodeInfo{}, fmt.Errorf("decode node info: %w", err)
	}

	return NodeInfo{
		NodeID:      resp.ID,
		DeviceID:    resp.DeviceID,
		HomeID:      resp.HomeID,
		Label:       resp.Label,
		ModelNumber: resp.ModelNumber,
		FactoryID:   resp.FactoryID,
		Icon:        resp.Icon,
	}, nil
}

// Discover lists the air conditioner nodes on the home dashboard.
func (c *Client) Discover(ctx context.Context) ([]DiscoveredNode, error) {
	query := url.Values{"hasGroups": {"true"}}
	status, data, err := c.request(ctx, serviceNodes, http.MethodGet, fmt.Sprintf(pathDashboard, c.cfg.HomeID), query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &TransportError{Status: status, Cause: errors.New(strings.TrimSpace(string(data)))}
	}

	var resp struct {
		Nodes []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
			Icon  string `json:"icon"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}

	var nodes []DiscoveredNode
	for _, node := range resp.Nodes {
		if node.Icon != "air_conditioners" {
			continue
		}
		nodes = append(nodes, DiscoveredNode{NodeID: node.ID, Label: node.Label, Icon: node.Icon})
	}
	return nodes, nil
}

// request issues one authenticated gateway call with the retry policy:
// a 401 forces a token refresh and a single replay, transient failures
// (network errors, 5xx) get bounded exponential backoff. Application
// statuses are returned to the operation wrappers for interpretation.
func (c *Client) request(ctx context.Context, svc service, method, path string, query url.Values, body []byte) (int, []byte, error) {
	var lastErr error
	lastStatus := 0
	authRetried := false

	for attempt := 0; attempt < c.cfg.MaxAttempts; {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, err
		}

		resp, err := c.do(ctx, svc, method, path, query, body, token)
		if err != nil {
			lastErr = err
			lastStatus = 0
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				break
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return 0, nil, err
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			lastStatus = 0
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				break
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return 0, nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if authRetried {
				return 0, nil, &TransportError{Status: resp.StatusCode, Cause: errors.New("unauthorized after refresh")}
			}
			authRetried = true
			if err := c.tokens.ForceRefresh(ctx); err != nil {
				return 0, nil, err
			}
		case resp.StatusCode >= 500:
			lastErr = errors.New(strings.TrimSpace(string(data)))
			lastStatus = resp.StatusCode
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				break
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return 0, nil, err
			}
		default:
			return resp.StatusCode, data, nil
		}
		if attempt >= c.cfg.MaxAttempts {
			break
		}
	}

	return 0, nil, &TransportError{Status: lastStatus, Cause: lastErr}
}

func (c *Client) do(ctx context.Context, svc service, method, path string, query url.Values, body []byte, token string) (*http.Response, error) {
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-gateway-apikey", c.apiKeys[svc])
	req.Header.Set("homeid", c.cfg.HomeID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("x-request-id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	return c.httpClient.Do(req)
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.RetryBaseDelay << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}
