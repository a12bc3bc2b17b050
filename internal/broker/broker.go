// Package broker is the client for the meeting broker, which creates meetings
// and issues the short-lived participant tokens the real-time SDK needs.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/wasl-gate/internal/httpjson"
)

const (
	defaultTimeout = 15 * time.Second
	// DefaultTitle is the title given to meetings created from the home view.
	DefaultTitle = "Wasl Video Call"
)

// ErrRejected is wrapped by errors the broker reports in its response body.
var ErrRejected = errors.New("meeting broker rejected the request")

// JoinRequest asks for a token. Title creates a new meeting; MeetingID joins one.
type JoinRequest struct {
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	MeetingID string `json:"meetingId,omitempty"`
}

// Grant is the broker's answer to a successful join.
type Grant struct {
	MeetingID string `json:"meetingId"`
	AuthToken string `json:"authToken"`
}

// joinResponse is the body of POST /api/dyte/join-meeting
type joinResponse struct {
	Success   bool   `json:"success"`
	MeetingID string `json:"meetingId"`
	AuthToken string `json:"authToken"`
	Error     string `json:"error"`
}

type endSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type endSessionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Client talks to the meeting broker.
type Client struct {
	api *httpjson.Client
}

// NewClient creates a broker client for baseURL.
func NewClient(baseURL string) (*Client, error) {
	api, err := httpjson.New(baseURL, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not create broker client: %w", err)
	}
	return &Client{api: api}, nil
}

// CreateMeeting creates a new meeting and returns the host's token.
func (c *Client) CreateMeeting(ctx context.Context, name, title string) (*Grant, error) {
	if title == "" {
		title = DefaultTitle
	}
	return c.join(ctx, JoinRequest{Name: name, Title: title}, "Failed to create meeting")
}

// JoinMeeting returns a token for an existing meeting.
func (c *Client) JoinMeeting(ctx context.Context, name, meetingID string) (*Grant, error) {
	return c.join(ctx, JoinRequest{Name: name, MeetingID: meetingID}, "Failed to join meeting")
}

func (c *Client) join(ctx context.Context, req JoinRequest, fallback string) (*Grant, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.MeetingID = strings.TrimSpace(req.MeetingID)

	resp, err := httpjson.Post[joinResponse](ctx, c.api, req, "api", "dyte", "join-meeting")
	var statusErr *httpjson.StatusError
	switch {
	case errors.As(err, &statusErr) && resp != nil:
		return nil, rejected(resp.Error, fallback)
	case err != nil:
		return nil, fmt.Errorf("could not reach meeting broker: %w", err)
	case !resp.Success:
		return nil, rejected(resp.Error, fallback)
	case resp.AuthToken == "":
		return nil, rejected("broker returned no auth token", fallback)
	}
	return &Grant{MeetingID: resp.MeetingID, AuthToken: resp.AuthToken}, nil
}

// EndSession tells the broker a session is over.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	resp, err := httpjson.Post[endSessionResponse](ctx, c.api, endSessionRequest{SessionID: sessionID}, "api", "dyte", "end-session")
	var statusErr *httpjson.StatusError
	switch {
	case errors.As(err, &statusErr) && resp != nil:
		return rejected(resp.Error, "Failed to end session")
	case err != nil:
		return fmt.Errorf("could not reach meeting broker: %w", err)
	case !resp.Success:
		return rejected(resp.Error, "Failed to end session")
	}
	return nil
}

func rejected(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

// Message returns the human-readable part of a rejection.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), ErrRejected.Error()+": ")
}
