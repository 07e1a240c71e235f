// Package zwift is an authenticated client for the Zwift platform API.
// It owns the OAuth password/refresh token lifecycle so callers only
// ever see valid bearer tokens.
package zwift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dzr-backend/lib/fetch"
	"dzr-backend/lib/telemetry"
	"dzr-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/zwift")

// tokens are considered expired a minute early so an in-flight request
// never presents one that lapses mid-call
const expiryMargin = time.Minute

const tokenPath = "/auth/realms/zwift/protocol/openid-connect/token"

type ClientOptions struct {
	// AuthBaseUrl defaults to https://secure.zwift.com
	AuthBaseUrl string
	// ApiBaseUrl defaults to https://us-or-rly101.zwift.com
	ApiBaseUrl string
	// ClientId defaults to "Zwift Game Client"
	ClientId string
	Username string
	Password string
	// Fetcher defaults to a fresh fetch.Client
	Fetcher *fetch.Client
}

type Client struct {
	http       *resty.Client
	fetcher    *fetch.Client
	apiBaseUrl string
	clientId   string
	username   string
	password   string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func NewClient(opts ClientOptions) *Client {
	if opts.AuthBaseUrl == "" {
		opts.AuthBaseUrl = "https://secure.zwift.com"
	}
	if opts.ApiBaseUrl == "" {
		opts.ApiBaseUrl = "https://us-or-rly101.zwift.com"
	}
	if opts.ClientId == "" {
		opts.ClientId = "Zwift Game Client"
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.NewClient()
	}

	client := resty.New()
	client.SetBaseURL(opts.AuthBaseUrl)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "scrapers/zwift/http")

	return &Client{
		http:       client,
		fetcher:    opts.Fetcher,
		apiBaseUrl: opts.ApiBaseUrl,
		clientId:   opts.ClientId,
		username:   opts.Username,
		password:   opts.Password,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Authenticate performs a full password-grant login against the token
// endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticate(ctx)
}

func (c *Client) authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Authenticate")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":  c.clientId,
			"grant_type": "password",
			"username":   c.username,
			"password":   c.password,
		}).
		Post(tokenPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		return err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("zwift authentication failed: status %d: %s", res.StatusCode(), res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication rejected")
		return err
	}

	var token tokenResponse
	err = json.Unmarshal(res.Body(), &token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal token response")
		return err
	}

	c.accessToken = token.AccessToken
	c.refreshToken = token.RefreshToken
	c.expiresAt = timezone.Now().Add(time.Duration(token.ExpiresIn)*time.Second - expiryMargin)

	slog.InfoContext(ctx, "authenticated with zwift", "expires_in", token.ExpiresIn)
	return nil
}

// Refresh exchanges the refresh token for a new access token. A failed
// refresh falls back to a full re-authentication instead of surfacing
// the error, so callers self-heal from revoked refresh tokens.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Refresh")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     c.clientId,
			"grant_type":    "refresh_token",
			"refresh_token": c.refreshToken,
		}).
		Post(tokenPath)
	if err == nil && res.StatusCode() == 200 {
		var token tokenResponse
		err := json.Unmarshal(res.Body(), &token)
		if err == nil {
			c.accessToken = token.AccessToken
			if token.RefreshToken != "" {
				c.refreshToken = token.RefreshToken
			}
			expiresIn := token.ExpiresIn
			if expiresIn == 0 {
				expiresIn = 60
			}
			c.expiresAt = timezone.Now().Add(time.Duration(expiresIn)*time.Second - expiryMargin)
			return nil
		}
	}

	if err != nil {
		span.RecordError(err)
	}
	span.AddEvent("refresh failed, re-authenticating")
	slog.WarnContext(ctx, "token refresh failed, re-authenticating")
	return c.authenticate(ctx)
}

// EnsureValid makes sure a non-expired access token is cached:
// authenticates on first use, refreshes once the expiry stamp passes,
// and is a no-op otherwise. Every API call goes through it.
func (c *Client) EnsureValid(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		return c.authenticate(ctx)
	}
	if !timezone.Now().Before(c.expiresAt) {
		return c.refresh(ctx)
	}
	return nil
}

// TokenExpiresAt exposes the current expiry stamp; the zero time means
// no token has been obtained yet.
func (c *Client) TokenExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

type CompetitionMetrics struct {
	RacingScore *float64 `json:"racingScore"`
}

type Profile struct {
	Id                 json.Number         `json:"id"`
	FirstName          string              `json:"firstName"`
	LastName           string              `json:"lastName"`
	CompetitionMetrics *CompetitionMetrics `json:"competitionMetrics"`
}

// RacingScore returns the profile's racing score metric, or nil when
// the platform has not assigned one.
func (p *Profile) RacingScore() *float64 {
	if p == nil || p.CompetitionMetrics == nil {
		return nil
	}
	return p.CompetitionMetrics.RacingScore
}

// GetProfile fetches a rider profile. A 404 is a soft miss returning
// (nil, nil); every other failure is surfaced.
func (c *Client) GetProfile(ctx context.Context, riderId int64) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "client:GetProfile")
	defer span.End()
	span.SetAttributes(attribute.Int64("rider_id", riderId))

	err := c.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	authorization := "Bearer " + c.accessToken
	c.mu.Unlock()

	payload, err := c.fetcher.Fetch(
		ctx,
		fmt.Sprintf("%s/api/profiles/%d", c.apiBaseUrl, riderId),
		map[string]string{"Authorization": authorization},
		nil,
	)
	if err != nil {
		var fetchErr *fetch.Error
		if errors.As(err, &fetchErr) && fetchErr.StatusCode == 404 {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch profile")
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var profile Profile
	err = json.Unmarshal(payload, &profile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal profile")
		return nil, err
	}
	return &profile, nil
}
