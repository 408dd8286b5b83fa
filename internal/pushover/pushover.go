// Package pushover fans a formatted dispatch notification out to the
// configured Pushover recipients.
//
// One request is sent per recipient key; the overall result is the logical
// AND of the per-recipient attempts. A partial failure is reported as
// overall failure but never rolls back notifications that already went out.
package pushover

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/dispatchscribe/internal/config"
)

// DefaultEndpoint is the Pushover message API.
const DefaultEndpoint = "https://api.pushover.net/1/messages.json"

const (
	requestTimeout = 10 * time.Second

	// maxMessageLength leaves room for the metadata footer under Pushover's
	// 1024-character limit.
	maxMessageLength = 900
)

// Enrichment carries optional incident details included in the message when
// the alerting API lookup succeeded.
type Enrichment struct {
	Address string
	City    string
	State   string
	MapsURL string
}

// FormatDispatchMessage renders the notification body: the corrected
// transcript truncated to the message budget, optional incident details,
// and a fixed footer naming the recording and its processing time.
func FormatDispatchMessage(correctedText, filename string, processingSeconds float64, enrich *Enrichment) string {
	// Character budget, not bytes: a byte slice could split a multi-byte
	// rune and deliver invalid UTF-8.
	body := correctedText
	if runes := []rune(body); len(runes) > maxMessageLength {
		body = string(runes[:maxMessageLength]) + "..."
	}

	var b strings.Builder
	if enrich != nil && enrich.Address != "" {
		b.WriteString("📍 ")
		b.WriteString(enrich.Address)
		if enrich.City != "" {
			b.WriteString(", ")
			b.WriteString(enrich.City)
		}
		if enrich.State != "" {
			b.WriteString(", ")
			b.WriteString(enrich.State)
		}
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	if enrich != nil && enrich.MapsURL != "" {
		b.WriteString("\n")
		b.WriteString(enrich.MapsURL)
	}
	fmt.Fprintf(&b, "\n\n[%s • %.1fs]", filename, processingSeconds)
	return b.String()
}

// Notifier sends notifications to a fixed recipient list.
// Read-only after construction and safe for concurrent use.
type Notifier struct {
	apiToken   string
	recipients []config.Recipient
	priority   int
	endpoint   string
	httpClient *http.Client
}

// Option is a functional option for configuring a Notifier.
type Option func(*Notifier)

// WithEndpoint overrides the message API URL. Intended for tests.
func WithEndpoint(u string) Option {
	return func(n *Notifier) { n.endpoint = u }
}

// WithHTTPClient replaces the default HTTP client. Intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// New creates a Notifier for the given API token and recipients.
func New(apiToken string, recipients []config.Recipient, priority int, opts ...Option) *Notifier {
	n := &Notifier{
		apiToken:   apiToken,
		recipients: recipients,
		priority:   priority,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Recipients returns the configured recipient list.
func (n *Notifier) Recipients() []config.Recipient {
	return n.recipients
}

// Send delivers title and message to every recipient and reports whether
// all deliveries succeeded. Per-recipient failures are logged and do not
// stop the fan-out.
func (n *Notifier) Send(ctx context.Context, title, message string) bool {
	if n.apiToken == "" || len(n.recipients) == 0 {
		slog.Warn("pushover: credentials not configured, skipping notification")
		return false
	}

	allOK := true
	for _, rec := range n.recipients {
		if err := n.sendOne(ctx, rec.Key, title, message); err != nil {
			slog.Error("pushover: delivery failed",
				"recipient", abbreviateKey(rec.Key),
				"name", rec.Name,
				"error", err,
			)
			allOK = false
		}
	}
	return allOK
}

func (n *Notifier) sendOne(ctx context.Context, userKey, title, message string) error {
	form := url.Values{
		"token":    {n.apiToken},
		"user":     {userKey},
		"title":    {title},
		"message":  {message},
		"priority": {strconv.Itoa(n.priority)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// abbreviateKey shortens a recipient key for logging without exposing it.
func abbreviateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
