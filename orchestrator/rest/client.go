package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonas747/shardbench/orchestrator"
	"github.com/pkg/errors"
)

// Client talks to a RESTAPI
type Client struct {
	serverAddr string
	httpClient *http.Client
}

func NewClient(serverAddr string) *Client {
	return &Client{
		serverAddr: strings.TrimSuffix(serverAddr, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) GetStatus(ctx context.Context) (*orchestrator.Status, error) {
	var dst orchestrator.Status
	err := c.do(ctx, http.MethodGet, "/status", &dst)
	return &dst, err
}

func (c *Client) GetReport(ctx context.Context) (*orchestrator.RunReport, error) {
	var dst orchestrator.RunReport
	err := c.do(ctx, http.MethodGet, "/report", &dst)
	return &dst, err
}

func (c *Client) StartRun(ctx context.Context) (string, error) {
	return c.basic(ctx, "/run")
}

func (c *Client) Clear(ctx context.Context) (string, error) {
	return c.basic(ctx, "/clear")
}

func (c *Client) Check(ctx context.Context) ([]orchestrator.StoreOutcome, error) {
	var dst CheckResponse
	err := c.do(ctx, http.MethodPost, "/check", &dst)
	return dst.Stores, err
}

func (c *Client) basic(ctx context.Context, path string) (string, error) {
	var dst BasicResponse
	err := c.do(ctx, http.MethodPost, path, &dst)
	return dst.Message, err
}

// do performs the request and decodes the response into dst,
// error responses are decoded as a BasicResponse and returned as errors
func (c *Client) do(ctx context.Context, method, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.serverAddr+path, nil)
	if err != nil {
		return errors.WithMessage(err, "NewRequest")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithMessage(err, "read body")
	}

	if resp.StatusCode >= 300 {
		var br BasicResponse
		if json.Unmarshal(body, &br) == nil && br.Error {
			return errors.New(br.Message)
		}
		return errors.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}

	return errors.WithMessage(json.Unmarshal(body, dst), "decode response")
}
