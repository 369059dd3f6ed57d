package runclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/run"
)

// Client talks to the run API on behalf of one signed-in user. Transport
// failures surface as apperr.ErrDisconnected so callers can treat them as
// retryable without inspecting the wire.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Create(ctx context.Context, r run.Run) (run.Run, error) {
	var out run.Run
	err := c.call(ctx, http.MethodPost, "/run/create", r, &out)
	return out, err
}

func (c *Client) Update(ctx context.Context, r run.Run) (run.Run, error) {
	var out run.Run
	err := c.call(ctx, http.MethodPost, "/run/update", r, &out)
	return out, err
}

func (c *Client) GetUpdate(ctx context.Context, runID int64, since int64) ([]run.PathPoint, error) {
	var out []run.PathPoint
	path := "/run/getupdate?id=" + strconv.FormatInt(runID, 10) + "&since=" + strconv.FormatInt(since, 10)
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) All(ctx context.Context) ([]run.Run, error) {
	var out []run.Run
	err := c.call(ctx, http.MethodGet, "/run/all", nil, &out)
	return out, err
}

func (c *Client) Since(ctx context.Context, ts int64) ([]run.Run, error) {
	var out []run.Run
	err := c.call(ctx, http.MethodGet, "/run/since?ts="+strconv.FormatInt(ts, 10), nil, &out)
	return out, err
}

func (c *Client) Unfinished(ctx context.Context) ([]run.Run, error) {
	var out []run.Run
	err := c.call(ctx, http.MethodGet, "/run/unfinished", nil, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, runID int64) error {
	return c.call(ctx, http.MethodGet, "/run/delete/"+strconv.FormatInt(runID, 10), nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Disconnectedf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return apperr.NotFoundf("remote: %s", msg)
	case http.StatusConflict:
		return apperr.Conflictf("remote: %s", msg)
	case http.StatusBadRequest:
		return apperr.Validationf("remote: %s", msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return apperr.Disconnectedf("remote: %s", msg)
	default:
		return fmt.Errorf("remote status %d: %s", status, msg)
	}
}
