package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

const fetchAttempts = 3

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

// CredentialsStore returns a participant's stored OAuth token.
// availability.ErrNoCredentials means no calendar is linked.
type CredentialsStore interface {
	TokenByParticipant(ctx context.Context, participantID string) (*oauth2.Token, error)
}

// Client reads Google Calendar on behalf of participants. It implements the
// availability source and the booking-time availability guard.
type Client struct {
	creds   CredentialsStore
	oauth   *oauth2.Config
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(creds CredentialsStore, oauthCfg *oauth2.Config, logger *slog.Logger) *Client {
	return &Client{
		creds:   creds,
		oauth:   oauthCfg,
		baseURL: defaultBaseURL,
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

type googleEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type googleEvent struct {
	ID           string          `json:"id"`
	Summary      string          `json:"summary"`
	Transparency string          `json:"transparency,omitempty"`
	Status       string          `json:"status,omitempty"`
	Start        googleEventTime `json:"start"`
	End          googleEventTime `json:"end"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// FetchEvents lists the participant's primary-calendar events overlapping
// [from, to) and classifies each one. Transient calendar failures are retried
// before the error propagates.
func (c *Client) FetchEvents(ctx context.Context, participantID string, from, to time.Time) ([]availability.BusyEvent, error) {
	httpClient, err := c.httpClient(ctx, participantID)
	if err != nil {
		return nil, err
	}

	var events []availability.BusyEvent
	pageToken := ""
	for {
		list, err := c.listPage(ctx, httpClient, from, to, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list calendar events for %s: %w", participantID, err)
		}
		for _, item := range list.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, ok := toBusyEvent(item)
			if !ok {
				continue
			}
			events = append(events, ev)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return events, nil
}

// IntervalFree reports whether the participant's calendar has no busy event
// overlapping the interval. A participant without linked credentials counts
// as free.
func (c *Client) IntervalFree(ctx context.Context, participantID string, iv interval.Interval) (bool, error) {
	events, err := c.FetchEvents(ctx, participantID, iv.Start, iv.End)
	if err != nil {
		if errors.Is(err, availability.ErrNoCredentials) {
			return true, nil
		}
		return false, err
	}
	for _, ev := range events {
		if ev.Class == availability.ClassFree {
			continue
		}
		if ev.Interval.Overlaps(iv) {
			c.logger.Info("found conflicting calendar event",
				"participant_id", participantID,
				"event_id", ev.ID,
			)
			return false, nil
		}
	}
	return true, nil
}

func (c *Client) httpClient(ctx context.Context, participantID string) (*http.Client, error) {
	token, err := c.creds.TokenByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauthTransport{
			base:   http.DefaultTransport,
			source: c.oauth.TokenSource(ctx, token),
		},
	}, nil
}

func (c *Client) listPage(ctx context.Context, client *http.Client, from, to time.Time, pageToken string) (googleEventList, error) {
	q := url.Values{}
	q.Set("timeMin", from.UTC().Format(time.RFC3339))
	q.Set("timeMax", to.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", "2500")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	listURL := fmt.Sprintf("%s/calendars/primary/events?%s", c.baseURL, q.Encode())

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		list, retryable, err := c.doList(ctx, client, listURL)
		if err == nil {
			return list, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn("calendar list failed, retrying",
			"attempt", attempt,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return googleEventList{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return googleEventList{}, lastErr
}

func (c *Client) doList(ctx context.Context, client *http.Client, listURL string) (googleEventList, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return googleEventList{}, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return googleEventList{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500
		return googleEventList{}, retryable, fmt.Errorf("calendar list: status=%d body=%s", resp.StatusCode, string(body))
	}

	var list googleEventList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return googleEventList{}, false, err
	}
	return list, false, nil
}

func toBusyEvent(item googleEvent) (availability.BusyEvent, bool) {
	iv, allDay, ok := eventInterval(item)
	if !ok {
		return availability.BusyEvent{}, false
	}
	return availability.BusyEvent{
		ID:       item.ID,
		Title:    item.Summary,
		Interval: iv,
		Class:    availability.Classify(item.Summary, item.Transparency == "transparent"),
		AllDay:   allDay,
	}, true
}

func eventInterval(item googleEvent) (interval.Interval, bool, bool) {
	if item.Start.DateTime != "" && item.End.DateTime != "" {
		start, err1 := time.Parse(time.RFC3339, item.Start.DateTime)
		end, err2 := time.Parse(time.RFC3339, item.End.DateTime)
		if err1 != nil || err2 != nil {
			return interval.Interval{}, false, false
		}
		return interval.Interval{Start: start.UTC(), End: end.UTC()}, false, true
	}
	if item.Start.Date != "" && item.End.Date != "" {
		start, err1 := time.Parse("2006-01-02", item.Start.Date)
		end, err2 := time.Parse("2006-01-02", item.End.Date)
		if err1 != nil || err2 != nil {
			return interval.Interval{}, false, false
		}
		return interval.Interval{Start: start, End: end}, true, true
	}
	return interval.Interval{}, false, false
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
