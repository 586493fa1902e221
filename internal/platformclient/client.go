// Package platformclient speaks the signed webhook protocol between the
// moderation backend and an integrated platform: read the subject under
// review, push a resolved action. Both calls authenticate with the platform's
// shared secret as a bearer credential.
package platformclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wallo.org/internal/moderation"
)

const defaultTimeout = 10 * time.Second

// CallError is the typed failure of a protocol call. Code carries the
// upstream HTTP status where one exists, or 502 for transport failures, so
// interactive callers can surface it directly.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("platform call failed (%d): %s", e.Code, e.Message)
}

type readRequest struct {
	SubjectID   string `json:"subjectId"`
	SubjectKind string `json:"subjectKind"`
}

type notifyRequest struct {
	SubjectID   string `json:"subjectId"`
	SubjectKind string `json:"subjectKind"`
	Action      string `json:"action"`
}

// Client issues outbound calls to platform callback URLs.
type Client struct {
	http *http.Client
}

// New creates a client with the given request timeout (default 10s).
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// RetrieveSubjectData fetches the platform's current view of the subject:
// its media and the actions allowed in its present state. The absence of an
// "action" field in the body signals a read. Reads are interactive, so there
// is no retry here; any failure is returned as a *CallError for the caller
// to surface.
func (c *Client) RetrieveSubjectData(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID string) (moderation.SubjectSnapshot, error) {
	body, status, err := c.post(ctx, endpoint, secret, readRequest{
		SubjectID:   relevantID,
		SubjectKind: string(kind),
	})
	if err != nil {
		return moderation.SubjectSnapshot{}, err
	}
	if status < 200 || status > 299 {
		return moderation.SubjectSnapshot{}, &CallError{Code: status, Message: strings.TrimSpace(string(body))}
	}

	var snapshot moderation.SubjectSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return moderation.SubjectSnapshot{}, &CallError{
			Code:    http.StatusBadGateway,
			Message: "platform returned a malformed subject payload",
		}
	}
	return snapshot, nil
}

// InformPlatformOfAction tells the platform that actionID was applied to the
// subject. Success is any 2xx; the response body is ignored. The call is
// idempotent on the receiving side by protocol contract, so retrying a
// returned error is always safe.
func (c *Client) InformPlatformOfAction(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID, actionID string) error {
	body, status, err := c.post(ctx, endpoint, secret, notifyRequest{
		SubjectID:   relevantID,
		SubjectKind: string(kind),
		Action:      actionID,
	})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &CallError{Code: status, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// post sends a signed JSON POST. Transport-level failures (dial, timeout,
// canceled context) come back as *CallError with a 502 code; protocol calls
// never panic and never return an untyped error.
func (c *Client) post(ctx context.Context, endpoint, secret string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &CallError{Code: http.StatusInternalServerError, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, 0, &CallError{Code: http.StatusInternalServerError, Message: "invalid callback url: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &CallError{Code: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, &CallError{Code: http.StatusBadGateway, Message: err.Error()}
	}
	return body, resp.StatusCode, nil
}
