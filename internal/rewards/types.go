package rewards

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// API is the remote task collaborator consumed by the credential manager and
// the task runner. The production implementation is Client; tests use fakes.
type API interface {
	// RefreshToken performs a refresh grant. The returned RefreshToken
	// replaces the stored one (rotation).
	RefreshToken(ctx context.Context, refreshToken string) (Token, error)
	// ExchangeCode performs the one-time authorization-code grant used
	// during account onboarding.
	ExchangeCode(ctx context.Context, code string) (Token, error)
	// Dashboard reads the account's balance and per-task progress.
	Dashboard(ctx context.Context, accessToken string) (Dashboard, error)
	// SubmitActivity posts one activity envelope and returns points earned.
	SubmitActivity(ctx context.Context, accessToken string, act Activity) (int, error)
}

type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExpiresAt converts the relative lifetime into an absolute deadline.
func (t Token) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TaskKind is the typed variant a promotion decodes into. Unknown offers map
// to TaskUnknown instead of silently matching unrelated fields.
type TaskKind string

const (
	TaskCheckIn TaskKind = "checkin"
	TaskRead    TaskKind = "read"
	TaskUnknown TaskKind = "unknown"
)

// Promotion is one decoded dashboard offer.
type Promotion struct {
	OfferID  string
	Kind     TaskKind
	Progress int
	Max      int
	Complete bool
}

// Dashboard is the decoded dashboard snapshot.
type Dashboard struct {
	TotalPoints  int
	SignedToday  bool
	ReadProgress int
	ReadMax      int
	Promotions   []Promotion
}

// Activity is the generic activity-submission envelope. ID must be a fresh
// random token per call (idempotency id).
type Activity struct {
	Amount     int               `json:"amount"`
	Type       int               `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ID         string            `json:"id"`
	Country    string            `json:"country"`
	Channel    string            `json:"channel"`
}

// Wire shapes. The remote nests both dashboard and activity replies under a
// "response" object.

type dashboardWire struct {
	Response struct {
		Balance    int             `json:"balance"`
		Promotions []promotionWire `json:"promotions"`
	} `json:"response"`
}

type promotionWire struct {
	Name       string          `json:"name"`
	OfferID    string          `json:"offerId"`
	Complete   bool            `json:"complete"`
	Progress   int             `json:"pointProgress"`
	Max        int             `json:"pointProgressMax"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type activityWire struct {
	Response struct {
		Activity struct {
			Points int `json:"p"`
		} `json:"activity"`
		Balance int `json:"balance"`
	} `json:"response"`
}

// decodeDashboard maps the heterogeneous promotions list onto typed task
// fields by offer-id pattern.
func decodeDashboard(w dashboardWire) Dashboard {
	d := Dashboard{TotalPoints: w.Response.Balance}
	for _, p := range w.Response.Promotions {
		id := p.OfferID
		if id == "" {
			id = p.Name
		}
		promo := Promotion{
			OfferID:  id,
			Kind:     classifyOffer(id),
			Progress: p.Progress,
			Max:      p.Max,
			Complete: p.Complete,
		}
		d.Promotions = append(d.Promotions, promo)
		switch promo.Kind {
		case TaskCheckIn:
			if promo.Complete {
				d.SignedToday = true
			}
		case TaskRead:
			d.ReadProgress += promo.Progress
			d.ReadMax += promo.Max
		}
	}
	return d
}

func classifyOffer(offerID string) TaskKind {
	id := strings.ToLower(offerID)
	switch {
	case strings.Contains(id, "checkin"), strings.Contains(id, "dailyset"):
		return TaskCheckIn
	case strings.Contains(id, "readarticle"), strings.Contains(id, "_read"):
		return TaskRead
	default:
		return TaskUnknown
	}
}
