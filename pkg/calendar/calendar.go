// Package calendar links tenant users to an external calendar provider over
// OAuth and mirrors confirmed shifts into their calendars. Tokens are sealed
// with the PII codec before they reach the database.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/httpx"
	"guardpost/pkg/models"
	"guardpost/pkg/pii"
)

var (
	ErrNotLinked    = errors.New("calendar: account not linked")
	ErrUnauthorized = errors.New("calendar: provider rejected credentials")
)

// Config carries the OAuth client settings for one provider.
type Config struct {
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	EventsURL    string
	RedirectURI  string
	Scopes       []string
}

type calendarDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client drives the OAuth flow and event pushes for one provider.
type Client struct {
	Config     Config
	DB         calendarDB
	Codec      pii.Codec
	HTTP       *http.Client
	Retries    int
	RetryDelay time.Duration
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthURL builds the provider consent URL for a user. The state parameter
// binds the callback to the initiating tenant and user.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.Config.ClientID)
	q.Set("redirect_uri", c.Config.RedirectURI)
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	q.Set("state", state)
	if len(c.Config.Scopes) > 0 {
		q.Set("scope", strings.Join(c.Config.Scopes, " "))
	}
	return c.Config.AuthURL + "?" + q.Encode()
}

// Exchange trades an authorization code for tokens and stores the linked
// account with both tokens sealed.
func (c *Client) Exchange(ctx context.Context, tenant, userID, code string) (models.CalendarAccount, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.Config.ClientID)
	form.Set("client_secret", c.Config.ClientSecret)
	form.Set("redirect_uri", c.Config.RedirectURI)

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return models.CalendarAccount{}, err
	}

	account := models.CalendarAccount{
		ID:           uuid.NewString(),
		Tenant:       tenant,
		UserID:       userID,
		Provider:     c.Config.Provider,
		CalendarID:   "primary",
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if err := c.save(ctx, account); err != nil {
		return models.CalendarAccount{}, err
	}
	return account, nil
}

// Refresh obtains a fresh access token using the stored refresh token and
// persists the result.
func (c *Client) Refresh(ctx context.Context, account models.CalendarAccount) (models.CalendarAccount, error) {
	if account.RefreshToken == "" {
		return account, ErrNotLinked
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	form.Set("client_id", c.Config.ClientID)
	form.Set("client_secret", c.Config.ClientSecret)

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return account, err
	}
	account.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		account.RefreshToken = tok.RefreshToken
	}
	account.ExpiresAt = time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := c.save(ctx, account); err != nil {
		return account, err
	}
	return account, nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (tokenResponse, error) {
	status, body, err := httpx.PostForm(ctx, c.HTTP, c.Config.TokenURL, form, c.Retries, c.RetryDelay)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token request: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusBadRequest {
		return tokenResponse{}, ErrUnauthorized
	}
	if status != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token endpoint status %d", status)
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("token response missing access_token")
	}
	return tok, nil
}

func (c *Client) save(ctx context.Context, account models.CalendarAccount) error {
	sealedAccess, err := c.Codec.Encrypt(account.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := c.Codec.Encrypt(account.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	_, err = c.DB.Exec(ctx, `
		INSERT INTO calendar_accounts (id, tenant, user_id, provider, calendar_id, access_token, refresh_token, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant, user_id, provider) DO UPDATE SET
			calendar_id=EXCLUDED.calendar_id,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at
	`, account.ID, account.Tenant, account.UserID, account.Provider, account.CalendarID, sealedAccess, sealedRefresh, account.ExpiresAt)
	return err
}

// Account loads and unseals a user's linked account.
func (c *Client) Account(ctx context.Context, tenant, userID string) (models.CalendarAccount, error) {
	var account models.CalendarAccount
	var sealedAccess, sealedRefresh string
	err := c.DB.QueryRow(ctx, `
		SELECT id, tenant, user_id, provider, calendar_id, access_token, refresh_token, expires_at
		FROM calendar_accounts WHERE tenant=$1 AND user_id=$2 AND provider=$3
	`, tenant, userID, c.Config.Provider).Scan(
		&account.ID, &account.Tenant, &account.UserID, &account.Provider,
		&account.CalendarID, &sealedAccess, &sealedRefresh, &account.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CalendarAccount{}, ErrNotLinked
	}
	if err != nil {
		return models.CalendarAccount{}, err
	}
	if account.AccessToken, err = c.Codec.Decrypt(sealedAccess); err != nil {
		return models.CalendarAccount{}, fmt.Errorf("open access token: %w", err)
	}
	if account.RefreshToken, err = c.Codec.Decrypt(sealedRefresh); err != nil {
		return models.CalendarAccount{}, fmt.Errorf("open refresh token: %w", err)
	}
	return account, nil
}

// Unlink removes a user's calendar link.
func (c *Client) Unlink(ctx context.Context, tenant, userID string) error {
	_, err := c.DB.Exec(ctx, `
		DELETE FROM calendar_accounts WHERE tenant=$1 AND user_id=$2 AND provider=$3
	`, tenant, userID, c.Config.Provider)
	return err
}

type shiftEvent struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       struct {
		DateTime string `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
}

// PushShift mirrors a shift into the guard's calendar. An expired access
// token triggers one refresh before giving up.
func (c *Client) PushShift(ctx context.Context, tenant, userID string, shift models.Shift) error {
	account, err := c.Account(ctx, tenant, userID)
	if err != nil {
		return err
	}

	status, err := c.postEvent(ctx, account, shift)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		account, err = c.Refresh(ctx, account)
		if err != nil {
			return err
		}
		status, err = c.postEvent(ctx, account, shift)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("calendar event status %d", status)
	}
	return nil
}

func (c *Client) postEvent(ctx context.Context, account models.CalendarAccount, shift models.Shift) (int, error) {
	var evt shiftEvent
	evt.Summary = "Guard shift " + shift.ID
	evt.Description = shift.Notes
	evt.Start.DateTime = shift.StartAt.UTC().Format(time.RFC3339)
	evt.End.DateTime = shift.EndAt.UTC().Format(time.RFC3339)
	body, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	endpoint := strings.ReplaceAll(c.Config.EventsURL, "{calendar}", url.PathEscape(account.CalendarID))
	headers := map[string]string{"Authorization": "Bearer " + account.AccessToken}
	status, _, err := httpx.RequestJSON(ctx, c.HTTP, http.MethodPost, endpoint, body, headers, c.Retries, c.RetryDelay)
	return status, err
}
