package invites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentormesh/mentormesh/libs/db"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// ErrNoCredentials means the counterpart has no linked Google Calendar. The
// invite degrades to email only.
var ErrNoCredentials = errors.New("no calendar credentials")

// OAuthConfig builds the Google OAuth config used to mint token sources from
// stored refresh tokens.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
}

// CredentialsStore reads stored OAuth tokens for calendar owners.
type CredentialsStore struct {
	pool *db.Pool
}

func NewCredentialsStore(pool *db.Pool) *CredentialsStore {
	return &CredentialsStore{pool: pool}
}

// tokenQuery reads the calendar_credentials table that scheduling-service
// writes. Column names must stay in step with its SaveToken.
const tokenQuery = `
	SELECT access_token, refresh_token, expiry
	FROM calendar_credentials
	WHERE user_id::text = $1
`

func (s *CredentialsStore) TokenByParticipant(ctx context.Context, participantID string) (*oauth2.Token, error) {
	var accessToken, refreshToken string
	var expiry time.Time
	err := s.pool.QueryRow(ctx, tokenQuery, participantID).Scan(&accessToken, &refreshToken, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("load calendar credentials: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, nil
}

// Calendar creates invite events on the counterpart's Google Calendar. The
// Meet conference request id is the call id, so a retried job asks Google
// for the same conference instead of minting a new one.
type Calendar struct {
	creds   *CredentialsStore
	oauth   *oauth2.Config
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func NewCalendar(creds *CredentialsStore, oauthCfg *oauth2.Config, logger *slog.Logger) *Calendar {
	return &Calendar{
		creds:   creds,
		oauth:   oauthCfg,
		baseURL: defaultBaseURL,
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

type inviteEvent struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       struct {
		DateTime string `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees,omitempty"`
	ConferenceData struct {
		CreateRequest struct {
			RequestID string `json:"requestId"`
		} `json:"createRequest"`
	} `json:"conferenceData"`
}

type inviteEventResponse struct {
	ID       string `json:"id"`
	HangoutL string `json:"hangoutLink"`
}

// CreateEvent inserts the call on the counterpart's primary calendar with
// both parties as attendees and returns the created event id and Meet link.
func (c *Calendar) CreateEvent(ctx context.Context, job Job) (string, string, error) {
	token, err := c.creds.TokenByParticipant(ctx, job.CounterpartID)
	if err != nil {
		return "", "", err
	}

	event := inviteEvent{
		Summary:     job.Title,
		Description: job.Description,
	}
	event.Start.DateTime = job.StartTime.UTC().Format(time.RFC3339)
	event.End.DateTime = job.EndTime.UTC().Format(time.RFC3339)
	for _, email := range []string{job.CounterpartEmail, job.RequesterEmail} {
		if email == "" {
			continue
		}
		event.Attendees = append(event.Attendees, struct {
			Email string `json:"email"`
		}{Email: email})
	}
	event.ConferenceData.CreateRequest.RequestID = job.CallID

	body, err := json.Marshal(event)
	if err != nil {
		return "", "", err
	}

	insertURL := fmt.Sprintf("%s/calendars/primary/events?%s", c.baseURL, url.Values{
		"conferenceDataVersion": {"1"},
		"sendUpdates":           {"all"},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, insertURL, bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: c.timeout,
		Transport: &oauthTransport{
			source: c.oauth.TokenSource(ctx, token),
			base:   http.DefaultTransport,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("calendar invite failed: status=%d body=%s", resp.StatusCode, string(payload))
	}

	var created inviteEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", "", fmt.Errorf("decode calendar event: %w", err)
	}
	return created.ID, created.HangoutL, nil
}

type oauthTransport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh oauth token: %w", err)
	}
	clone := req.Clone(req.Context())
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}
