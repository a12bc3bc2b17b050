// Package records is the client for the participant record store.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/wasl-gate/internal/descriptor"
	"github.com/kozaktomas/wasl-gate/internal/httpjson"
)

const defaultTimeout = 15 * time.Second

// Participant is a record as returned by the store.
type Participant struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	FaceDescriptor json.RawMessage `json:"faceDescriptor,omitempty"`
}

// Enrolled reports whether the participant has a face descriptor on file.
func (p *Participant) Enrolled() bool {
	return p != nil && !descriptor.IsEmpty(p.FaceDescriptor)
}

// APIError is a failure reported by the record store itself.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("record store error (status %d): %s", e.Status, e.Message)
	}
	return "record store error: " + e.Message
}

// envelope is the store's response wrapper
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// Client fetches participant records.
type Client struct {
	api *httpjson.Client
}

// NewClient creates a record store client for baseURL.
func NewClient(baseURL string) (*Client, error) {
	api, err := httpjson.New(baseURL, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not create records client: %w", err)
	}
	return &Client{api: api}, nil
}

// GetParticipant fetches one participant record.
func (c *Client) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("participant id is required")
	}
	data, err := unwrap(httpjson.Get[envelope[Participant]](ctx, c.api, "api", "prisoners", id))
	if err != nil {
		return nil, fmt.Errorf("could not fetch participant %s: %w", id, err)
	}
	if data.ID == "" {
		data.ID = id
	}
	return &data, nil
}

// GetEnrolledFaces lists every participant with an enrolled descriptor.
func (c *Client) GetEnrolledFaces(ctx context.Context) ([]Participant, error) {
	data, err := unwrap(httpjson.Get[envelope[[]Participant]](ctx, c.api, "api", "prisoners", "enrolled-faces"))
	if err != nil {
		return nil, fmt.Errorf("could not fetch enrolled faces: %w", err)
	}
	return data, nil
}

func unwrap[T any](res *envelope[T], err error) (T, error) {
	var zero T
	var statusErr *httpjson.StatusError
	switch {
	case errors.As(err, &statusErr):
		if res != nil && res.Message != "" {
			return zero, &APIError{Status: statusErr.Code, Message: res.Message}
		}
		return zero, err
	case err != nil:
		return zero, err
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return zero, &APIError{Message: msg}
	}
	return res.Data, nil
}
