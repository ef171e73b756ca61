package kobo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"infoportal/internal/errs"
)

// Client wraps the submission endpoints of one Kobo server. Calls are plain
// request/response: no retry, no concurrency limiting. Those live with the
// mutation and reconciliation callers, which know their own budgets.
type Client struct {
	baseURL      string
	hc           *http.Client
	fetchTimeout time.Duration
}

func NewClient(baseURL, token string, fetchTimeout time.Duration) *Client {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Minute
	}

	// Kobo authenticates with "Authorization: Token <key>"; the oauth2
	// transport injects exactly that when the token type says so.
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Token",
	})

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		hc:           oauth2.NewClient(context.Background(), src),
		fetchTimeout: fetchTimeout,
	}
}

type fetchAllResponse struct {
	Count   int          `json:"count"`
	Results []Submission `json:"results"`
}

// FetchAll retrieves the complete submission set for one form in a single
// request. Full-form sets can be large; the fetch timeout is generous.
func (c *Client) FetchAll(ctx context.Context, formID string) ([]Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v2/assets/%s/data/?format=json", c.baseURL, formID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(err, "build fetch request")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errs.Wrapf(err, "fetch submissions for %s", formID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("fetch submissions", formID, resp)
	}

	var out fetchAllResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrapf(err, "decode submissions for %s", formID)
	}
	return out.Results, nil
}

type bulkPayload struct {
	Payload map[string]any `json:"payload"`
}

// UpdateFields patches answer fields across many submissions in one call.
func (c *Client) UpdateFields(ctx context.Context, formID string, submissionIDs []string, fields map[string]any) error {
	body := bulkPayload{Payload: map[string]any{
		"submission_ids": submissionIDs,
		"data":           fields,
	}}
	url := fmt.Sprintf("%s/api/v2/assets/%s/data/bulk/", c.baseURL, formID)
	return c.send(ctx, http.MethodPatch, url, body, "update fields", formID)
}

// UpdateValidation sets the native validation status across many submissions.
func (c *Client) UpdateValidation(ctx context.Context, formID string, submissionIDs []string, status ValidationUID) error {
	body := bulkPayload{Payload: map[string]any{
		"submission_ids":        submissionIDs,
		"validation_status.uid": status,
	}}
	url := fmt.Sprintf("%s/api/v2/assets/%s/data/validation_statuses/", c.baseURL, formID)
	return c.send(ctx, http.MethodPatch, url, body, "update validation", formID)
}

// Delete removes submissions remotely.
func (c *Client) Delete(ctx context.Context, formID string, submissionIDs []string) error {
	body := bulkPayload{Payload: map[string]any{
		"submission_ids": submissionIDs,
	}}
	url := fmt.Sprintf("%s/api/v2/assets/%s/data/bulk/", c.baseURL, formID)
	return c.send(ctx, http.MethodDelete, url, body, "delete submissions", formID)
}

// FetchAttachment streams one attachment's bytes from the survey backend.
func (c *Client) FetchAttachment(ctx context.Context, formID, submissionID, attachmentUID string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v2/assets/%s/data/%s/attachments/%s/", c.baseURL, formID, submissionID, attachmentUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(err, "build attachment request")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errs.Wrapf(err, "fetch attachment %s", attachmentUID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("fetch attachment", formID, resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) send(ctx context.Context, method, url string, body any, op, formID string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errs.Wrapf(err, "encode %s payload", op)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return errs.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.Wrapf(err, "%s for %s", op, formID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(op, formID, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) statusError(op, formID string, resp *http.Response) error {
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s for %s: status %d: %s", op, formID, resp.StatusCode, strings.TrimSpace(string(preview)))
}
