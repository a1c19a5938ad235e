package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/isqad/ptconnect/internal/core"
)

const requestTimeout = 10 * time.Second

var ErrUnexpectedStatus = errors.New("unexpected response status")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to the fitness REST API on behalf of the signed-in user
type Client struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	jar     http.CookieJar
}

func New(baseURL string, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: u,
		token:   token,
		jar:     jar,
		client: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
	}, nil
}

// Jar is shared with the signaling dialer so cookie sessions carry over
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func (c *Client) Trainers(ctx context.Context) ([]core.Trainer, error) {
	trainers := []core.Trainer{}
	if err := c.do(ctx, http.MethodGet, "/api/trainers", nil, &trainers); err != nil {
		return nil, err
	}
	return trainers, nil
}

func (c *Client) MyConnections(ctx context.Context) ([]core.Connection, error) {
	conns := []core.Connection{}
	if err := c.do(ctx, http.MethodGet, "/api/connections/my", nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (c *Client) TrainerConnections(ctx context.Context) ([]core.Connection, error) {
	conns := []core.Connection{}
	if err := c.do(ctx, http.MethodGet, "/api/trainer/connections", nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (c *Client) RequestConnection(ctx context.Context, trainerID string) error {
	body := map[string]string{"trainerId": trainerID}
	return c.do(ctx, http.MethodPost, "/api/connections", body, nil)
}

func (c *Client) AcceptConnection(ctx context.Context, id core.ConnectionID) error {
	return c.do(ctx, http.MethodPost, connectionPath(id, "accept"), nil, nil)
}

func (c *Client) CancelConnection(ctx context.Context, id core.ConnectionID) error {
	return c.do(ctx, http.MethodPost, connectionPath(id, "cancel"), nil, nil)
}

func (c *Client) Messages(ctx context.Context, id core.ConnectionID) ([]core.Message, error) {
	messages := []core.Message{}
	if err := c.do(ctx, http.MethodGet, connectionPath(id, "messages"), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, id core.ConnectionID, text string) error {
	body := map[string]string{"text": text}
	return c.do(ctx, http.MethodPost, connectionPath(id, "messages"), body, nil)
}

func connectionPath(id core.ConnectionID, action string) string {
	return "/api/connections/" + url.PathEscape(string(id)) + "/" + action
}

func (c *Client) do(ctx context.Context, method string, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
