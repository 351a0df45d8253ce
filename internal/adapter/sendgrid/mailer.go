// Package sendgrid delivers alert emails through the SendGrid v3 Mail Send API.
package sendgrid

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/httpclient"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

const DefaultBaseURL = "https://api.sendgrid.com"

// ErrMailerDisabled is returned by NewMailer when no API key is configured.
var ErrMailerDisabled = errors.New("sendgrid api key not configured")

//go:embed alert.html
var alertHTML string

var alertTemplate = template.Must(template.New("alert").Parse(alertHTML))

// Config holds the SendGrid credentials and sender identity.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	BaseURL   string
	Timeout   time.Duration
}

// Mailer sends HTML alert emails.
type Mailer struct {
	httpClient *httpclient.Client
	cfg        Config
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewMailer creates a Mailer or returns ErrMailerDisabled when cfg.APIKey is empty.
func NewMailer(cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (*Mailer, error) {
	if cfg.APIKey == "" {
		return nil, ErrMailerDisabled
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{
		httpClient: httpclient.New("sendgrid", cfg.Timeout, httpclient.WithUserAgent("disaster-alert-service")),
		cfg:        cfg,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// SendAlert emails one subscriber about a HIGH-risk alert. SendGrid answers
// 202 Accepted on success; anything else is an error.
func (m *Mailer) SendAlert(ctx context.Context, to domain.Subscriber, alert domain.Alert) error {
	payload, err := m.buildPayload(to, alert)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	start := m.clock.Now()
	resp, err := m.httpClient.Do(req)
	m.metrics.UpstreamDuration.WithLabelValues("sendgrid").Observe(m.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("send alert to %s: %w", to.Email, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sendgrid error: status %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	m.logger.Info("alert email sent",
		"alert_id", alert.ID,
		"subscriber_id", to.ID,
		"location", alert.Location,
		"message_id", resp.Header.Get("X-Message-Id"),
	)
	return nil
}

// Subject renders the email subject, e.g. "Weather Alert: High Risk in New Delhi".
func Subject(alert domain.Alert) string {
	return "Weather Alert: High Risk in " + displayName(alert)
}

type templateData struct {
	Name              string
	Location          string
	DisasterType      domain.DisasterType
	ConfidencePercent int
	Reason            string
}

func (m *Mailer) buildPayload(to domain.Subscriber, alert domain.Alert) (mailPayload, error) {
	var html bytes.Buffer
	err := alertTemplate.Execute(&html, templateData{
		Name:              to.Name,
		Location:          displayName(alert),
		DisasterType:      alert.Assessment.DisasterType,
		ConfidencePercent: int(math.Floor(alert.Assessment.ConfidenceScore * 100)),
		Reason:            alert.Assessment.Reason,
	})
	if err != nil {
		return mailPayload{}, fmt.Errorf("render alert email: %w", err)
	}

	return mailPayload{
		Personalizations: []personalization{{To: []address{{Email: to.Email, Name: to.Name}}}},
		From:             address{Email: m.cfg.FromEmail, Name: m.cfg.FromName},
		Subject:          Subject(alert),
		Content:          []content{{Type: "text/html", Value: html.String()}},
		CustomArgs:       map[string]string{"alert_id": alert.ID, "location": alert.Location},
	}, nil
}

func displayName(alert domain.Alert) string {
	if alert.DisplayName != "" {
		return alert.DisplayName
	}
	return domain.DisplayLocation(alert.Location)
}

// errorMessage extracts the first SendGrid error message, or the raw body.
func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var sgErr errorResponse
	if err := json.Unmarshal(body, &sgErr); err == nil && len(sgErr.Errors) > 0 {
		return sgErr.Errors[0].Message
	}
	return string(body)
}

// SendGrid v3 mail/send payload types.

type mailPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
	CustomArgs       map[string]string `json:"custom_args,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}
