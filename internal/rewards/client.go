// Package rewards implements the remote task API collaborator: token
// exchange/refresh, dashboard reads, and activity submission.
package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	logx "rewardbot/pkg/logx"
)

const (
	defaultTokenURL = "https://login.live.com/oauth20_token.srf"
	defaultBaseURL  = "https://prod.rewardsplatform.microsoft.com/dapi/me"
	defaultClientID = "0000000040170455"
	defaultScope    = "service::prod.rewardsplatform.microsoft.com::MBI_SSL"
	defaultCountry  = "us"
	defaultChannel  = "SAAndroid"

	// Every remote call carries a bounded wait; past it the call is aborted
	// and treated as transient.
	defaultTimeout = 20 * time.Second

	// Activity type/offer constants used by the sign sequence and the
	// read loop. These mirror the award rules exposed on the dashboard.
	activityTypeApp     = 6
	activityTypeOffer   = 101
	offerAppHeartbeat   = "Gamification_Sapphire_AppHeartbeat"
	offerMobileBonus    = "Gamification_Sapphire_MobileBonus"
	offerDailyCheckIn   = "Gamification_Sapphire_DailyCheckIn"
	offerReadArticle    = "ENUS_readarticle3_30points"
	readActivityAmount  = 30
	checkInAmount       = 1
	heartbeatAmount     = 1
	mobileBonusAmount   = 1
	maxResponseBodySize = 1 << 20
)

type Config struct {
	TokenURL string
	BaseURL  string
	ClientID string
	Country  string
	Channel  string
	Timeout  time.Duration
}

func (c *Config) withDefaults() {
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = defaultTokenURL
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.ClientID) == "" {
		c.ClientID = defaultClientID
	}
	if strings.TrimSpace(c.Country) == "" {
		c.Country = defaultCountry
	}
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = defaultChannel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Client is the production API implementation.
type Client struct {
	cfg  Config
	log  logx.Logger
	hc   *http.Client
	ocfg *oauth2.Config
}

var _ API = (*Client)(nil)

func NewClient(cfg Config, log logx.Logger) *Client {
	cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		log: log,
		hc:  &http.Client{Timeout: cfg.Timeout},
		ocfg: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   []string{defaultScope},
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// RefreshToken performs a form-encoded refresh grant. Done by hand rather
// than through an oauth2.TokenSource because the caller must observe the
// rotated refresh token and keep control of the stale-token fallback.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {defaultScope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token refresh: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return Token{}, fmt.Errorf("token refresh: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("token refresh: empty access token")
	}
	return tok, nil
}

// ExchangeCode performs the one-time authorization-code grant (onboarding).
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	t, err := c.ocfg.Exchange(ctx, code)
	if err != nil {
		return Token{}, fmt.Errorf("code exchange: %w", err)
	}
	expiresIn := int(time.Until(t.Expiry) / time.Second)
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (Dashboard, error) {
	u := c.cfg.BaseURL + "?channel=" + url.QueryEscape(c.cfg.Channel) + "&options=613"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Dashboard{}, err
	}
	c.authorize(req, accessToken)

	body, err := c.do(req)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	var w dashboardWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: decode: %w", err)
	}
	return decodeDashboard(w), nil
}

func (c *Client) SubmitActivity(ctx context.Context, accessToken string, act Activity) (int, error) {
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	if act.Country == "" {
		act.Country = c.cfg.Country
	}
	if act.Channel == "" {
		act.Channel = c.cfg.Channel
	}
	payload, err := json.Marshal(act)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/activities", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	c.authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("activity %d: %w", act.Type, err)
	}
	var w activityWire
	if err := json.Unmarshal(body, &w); err != nil {
		return 0, fmt.Errorf("activity %d: decode: %w", act.Type, err)
	}
	return w.Response.Activity.Points, nil
}

func (c *Client) authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Rewards-Country", c.cfg.Country)
	req.Header.Set("X-Rewards-Language", "en")
}

// do executes the request, reads a bounded body, and runs risk/error
// classification on every response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, err
	}
	c.log.Trace("remote call",
		logx.String("method", req.Method),
		logx.String("path", req.URL.Path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(start)))

	if err := classifyResponse(resp.StatusCode, body); err != nil {
		return body, err
	}
	return body, nil
}

// Helpers building the envelopes the runner submits. Amounts and types
// mirror the corresponding award rules.

func HeartbeatActivity() Activity {
	return Activity{
		Amount: heartbeatAmount,
		Type:   activityTypeApp,
		Attributes: map[string]string{
			"hig": "0",
			"agc": "0",
		},
	}
}

func MobileBonusActivity() Activity {
	return Activity{
		Amount: mobileBonusAmount,
		Type:   activityTypeOffer,
		Attributes: map[string]string{
			"offerid": offerMobileBonus,
		},
	}
}

func CheckInActivity() Activity {
	return Activity{
		Amount: checkInAmount,
		Type:   activityTypeOffer,
		Attributes: map[string]string{
			"offerid": offerDailyCheckIn,
		},
	}
}

func ReadActivity() Activity {
	return Activity{
		Amount: readActivityAmount,
		Type:   activityTypeOffer,
		Attributes: map[string]string{
			"offerid": offerReadArticle,
		},
	}
}
