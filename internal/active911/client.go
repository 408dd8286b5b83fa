package active911

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the Active911 open API root.
const DefaultBaseURL = "https://access.active911.com/interface/open_api/api"

const alertRequestTimeout = 10 * time.Second

// Alert is the incident detail attached to a notification. All fields
// default to empty when absent from the upstream payload; coordinates keep
// the upstream's textual form (number or string) for URL construction.
type Alert struct {
	Address     string
	City        string
	State       string
	Latitude    string
	Longitude   string
	Description string
	Received    string
}

// HasCoordinates reports whether both coordinates are present.
func (a *Alert) HasCoordinates() bool {
	return a.Latitude != "" && a.Longitude != ""
}

// MapsURL builds a Google Maps link for the given coordinates.
func MapsURL(latitude, longitude string) string {
	return fmt.Sprintf("https://maps.google.com/?q=%s,%s", latitude, longitude)
}

// Client fetches recent alerts from the Active911 open API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root. Intended for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client. Intended for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client against the production API root.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: alertRequestTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// alertListResponse is the envelope of GET /alerts.
type alertListResponse struct {
	Message struct {
		Alerts []struct {
			URI string `json:"uri"`
			ID  any    `json:"id"`
		} `json:"alerts"`
	} `json:"message"`
}

// alertDetailResponse is the envelope of an alert detail fetch.
type alertDetailResponse struct {
	Message struct {
		Alert map[string]any `json:"alert"`
	} `json:"message"`
}

// FetchMostRecentAlert lists alerts received within windowMinutes of now and
// returns full detail for the first one. The upstream's newest-first
// ordering is trusted as-is; no local re-sort. Returns (nil, nil) when no
// alert is in the window, and an error for any transport or decode failure
// — the caller treats both as "no enrichment".
func (c *Client) FetchMostRecentAlert(ctx context.Context, token string, windowMinutes int) (*Alert, error) {
	listURL := fmt.Sprintf("%s/alerts?alert_minutes=%d", c.baseURL, windowMinutes)
	var list alertListResponse
	if err := c.getJSON(ctx, token, listURL, &list); err != nil {
		return nil, fmt.Errorf("active911: list alerts: %w", err)
	}

	alerts := list.Message.Alerts
	if len(alerts) == 0 {
		return nil, nil
	}

	// First entry only; the API returns newest first. Violations of that
	// ordering guarantee would attach the wrong incident, so the choice is
	// logged for diagnosis.
	first := alerts[0]
	detailURL := first.URI
	if detailURL == "" {
		id := scalarString(first.ID)
		if id == "" {
			return nil, fmt.Errorf("active911: alert has no uri or id field")
		}
		detailURL = fmt.Sprintf("%s/alerts/%s", c.baseURL, id)
	}

	var detail alertDetailResponse
	if err := c.getJSON(ctx, token, detailURL, &detail); err != nil {
		return nil, fmt.Errorf("active911: alert detail: %w", err)
	}

	raw := detail.Message.Alert
	if len(raw) == 0 {
		return nil, nil
	}

	alert := &Alert{
		Address:     stringField(raw, "address"),
		City:        stringField(raw, "city"),
		State:       stringField(raw, "state"),
		Latitude:    firstScalar(raw, "lat", "latitude"),
		Longitude:   firstScalar(raw, "lon", "longitude"),
		Description: stringField(raw, "description"),
		Received:    firstScalar(raw, "received"),
	}
	slog.Debug("active911: alert selected", "address", alert.Address, "received", alert.Received)
	return alert, nil
}

// getJSON performs an authorised GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

// stringField returns m[key] when it is a string, else "".
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// firstScalar returns the first present key of m rendered as text,
// accepting both string and numeric JSON values.
func firstScalar(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// scalarString renders a decoded JSON scalar as text. Numbers keep a
// minimal representation; anything non-scalar renders empty.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
