// Package notify hands qualified leads to the configured delivery channels.
// Delivery failures are logged and non-fatal: the lead data still lives in
// the session for manual recovery.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Saidelocha/lepitch-funnel/pkg/logx"
	"github.com/Saidelocha/lepitch-funnel/pkg/scoring"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

// Lead is the payload handed to delivery channels for a completed,
// qualified session.
type Lead struct {
	ID            string                `json:"id"`
	SessionID     string                `json:"session_id"`
	Collected     session.CollectedInfo `json:"collected"`
	Qualification scoring.Result        `json:"qualification"`
	CapturedAt    time.Time             `json:"captured_at"`
}

// NewLead assembles a lead with a fresh id.
func NewLead(sessionID string, collected session.CollectedInfo, qual scoring.Result, capturedAt time.Time) Lead {
	return Lead{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Collected:     collected,
		Qualification: qual,
		CapturedAt:    capturedAt,
	}
}

// Delivery identifies one successful hand-off.
type Delivery struct {
	DeliveryID string `json:"delivery_id"`
	Channel    string `json:"channel"`
}

// Notifier pushes one lead to a delivery channel.
type Notifier interface {
	Notify(ctx context.Context, lead Lead) (Delivery, error)
}

// LogNotifier writes the lead to the structured log. Always available;
// serves as the fallback channel in development.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, lead Lead) (Delivery, error) {
	logx.Info().
		Str("lead_id", lead.ID).
		Str("session_id", logx.MaskIdentity(lead.SessionID)).
		Str("grade", string(lead.Qualification.Grade)).
		Str("priority", string(lead.Qualification.Priority)).
		Int("score", lead.Qualification.NumericScore).
		Msg("lead captured")
	return Delivery{DeliveryID: lead.ID, Channel: "log"}, nil
}

// Fanout sends the lead to every configured channel. The first successful
// delivery wins the reported id; remaining sinks still run so the archive
// gets its copy even when the primary channel already succeeded.
type Fanout struct {
	sinks []Notifier
}

// NewFanout composes notifiers into one.
func NewFanout(sinks ...Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

// Notify implements Notifier.
func (f *Fanout) Notify(ctx context.Context, lead Lead) (Delivery, error) {
	var (
		first Delivery
		got   bool
		errs  []error
	)
	for _, sink := range f.sinks {
		delivery, err := sink.Notify(ctx, lead)
		if err != nil {
			errs = append(errs, err)
			logx.Warn().Err(err).Str("lead_id", lead.ID).Msg("lead delivery channel failed")
			continue
		}
		if !got {
			first = delivery
			got = true
		}
	}
	if !got {
		if len(errs) == 0 {
			return Delivery{}, errors.New("notify: no channels configured")
		}
		return Delivery{}, errors.Join(errs...)
	}
	return first, nil
}
