// Package alerting fans HIGH-risk assessments out to subscribers by email and
// publishes them as alert events.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

// ErrNotDelivered is returned by a Mailer that recorded the alert without
// delivering it.
var ErrNotDelivered = errors.New("alert not delivered")

// DefaultCooldown is the minimum gap between two alerts for the same location.
const DefaultCooldown = time.Hour

// SubscriberDirectory finds the people registered for a location.
type SubscriberDirectory interface {
	ByLocation(ctx context.Context, location string) ([]domain.Subscriber, error)
}

// Mailer delivers one alert to one subscriber.
type Mailer interface {
	SendAlert(ctx context.Context, to domain.Subscriber, alert domain.Alert) error
}

// Publisher emits the alert as an event.
type Publisher interface {
	Publish(ctx context.Context, alert domain.Alert) error
}

// Result summarizes one Notify call.
type Result struct {
	AlertID    string `json:"alert_id,omitempty"`
	Sent       int    `json:"sent"`
	Logged     int    `json:"logged,omitempty"`
	Failed     int    `json:"failed"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Notifier sends alerts for HIGH assessments, at most once per location per
// cooldown window.
type Notifier struct {
	subscribers SubscriberDirectory
	mailer      Mailer
	publisher   Publisher
	cooldown    *Cooldown
	concurrency int
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewNotifier wires a Notifier. concurrency bounds parallel email sends.
func NewNotifier(subs SubscriberDirectory, mailer Mailer, publisher Publisher, cooldown *Cooldown,
	concurrency int, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Notifier{
		subscribers: subs,
		mailer:      mailer,
		publisher:   publisher,
		cooldown:    cooldown,
		concurrency: concurrency,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
	}
}

// Notify alerts the subscribers of location when the assessment is HIGH.
// Non-HIGH assessments and locations still in cooldown are no-ops. A failed
// send to one subscriber does not affect the others. The cooldown is released
// when the subscriber lookup fails or when no email could be delivered, so the
// next HIGH assessment retries; in both cases no event is published.
func (n *Notifier) Notify(ctx context.Context, location, displayName string, a domain.RiskAssessment) (Result, error) {
	if !a.IsHigh() {
		return Result{}, nil
	}

	key := domain.NormalizeLocation(location)
	if !n.cooldown.TryAcquire(key) {
		n.metrics.AlertsSuppressed.Inc()
		n.logger.Info("alert suppressed by cooldown",
			"location", key,
			"remaining", n.cooldown.Remaining(key),
		)
		return Result{Suppressed: true}, nil
	}

	if displayName == "" {
		displayName = domain.DisplayLocation(key)
	}
	alert := domain.Alert{
		ID:          uuid.NewString(),
		Location:    key,
		DisplayName: displayName,
		Assessment:  a,
		RaisedAt:    n.clock.Now().UTC(),
	}

	subs, err := n.subscribers.ByLocation(ctx, key)
	if err != nil {
		n.cooldown.Release(key)
		return Result{AlertID: alert.ID}, fmt.Errorf("lookup subscribers for %s: %w", key, err)
	}

	res := n.dispatch(ctx, subs, alert)
	if res.Failed > 0 && res.Sent == 0 && res.Logged == 0 {
		n.cooldown.Release(key)
		n.logger.Warn("alert undelivered, cooldown released",
			"alert_id", alert.ID,
			"location", key,
			"failed", res.Failed,
		)
		return res, nil
	}

	n.publish(ctx, alert)
	n.logger.Info("alert dispatched",
		"alert_id", alert.ID,
		"location", key,
		"disaster_type", a.DisasterType,
		"sent", res.Sent,
		"logged", res.Logged,
		"failed", res.Failed,
	)
	return res, nil
}

// dispatch emails every subscriber with bounded parallelism.
func (n *Notifier) dispatch(ctx context.Context, subs []domain.Subscriber, alert domain.Alert) Result {
	if len(subs) == 0 {
		n.logger.Info("no subscribers for alert", "location", alert.Location, "alert_id", alert.ID)
		return Result{AlertID: alert.ID}
	}

	var sent, logged, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			err := n.mailer.SendAlert(ctx, sub, alert)
			switch {
			case err == nil:
				sent.Add(1)
				n.metrics.AlertsSent.WithLabelValues("email", "sent").Inc()
			case errors.Is(err, ErrNotDelivered):
				logged.Add(1)
				n.metrics.AlertsSent.WithLabelValues("email", "logged").Inc()
			default:
				failed.Add(1)
				n.metrics.AlertsSent.WithLabelValues("email", "failed").Inc()
				n.logger.Warn("alert email failed",
					"alert_id", alert.ID,
					"subscriber_id", sub.ID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Result{
		AlertID: alert.ID,
		Sent:    int(sent.Load()),
		Logged:  int(logged.Load()),
		Failed:  int(failed.Load()),
	}
}

func (n *Notifier) publish(ctx context.Context, alert domain.Alert) {
	if err := n.publisher.Publish(ctx, alert); err != nil {
		n.metrics.AlertsSent.WithLabelValues("event", "failed").Inc()
		n.logger.Warn("publish alert event failed", "alert_id", alert.ID, "error", err)
		return
	}
	n.metrics.AlertsSent.WithLabelValues("event", "sent").Inc()
}

// LogMailer writes alerts to the log instead of emailing them. It stands in
// when no SendGrid key is configured and reports every alert as
// ErrNotDelivered.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendAlert(_ context.Context, to domain.Subscriber, alert domain.Alert) error {
	m.Logger.Warn("email disabled, alert not delivered",
		"alert_id", alert.ID,
		"subscriber_id", to.ID,
		"location", alert.Location,
		"risk_level", alert.Assessment.RiskLevel,
		"disaster_type", alert.Assessment.DisasterType,
	)
	return ErrNotDelivered
}
