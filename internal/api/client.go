package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kaanbt/pazar/internal/store"
)

// Client talks to the marketplace HTTP API. It is stateless apart from the
// base URL; identity travels in each call's parameters, never cached here,
// so an account switch cannot leak across requests.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchMessages retrieves the complete visible message set for username.
// The feed arrives newest-first; callers must not rely on that order.
func (c *Client) FetchMessages(ctx context.Context, username string) ([]store.Message, error) {
	u := fmt.Sprintf("%s/api/messages?username=%s", c.base, url.QueryEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch messages", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "fetch messages", Status: resp.StatusCode}
	}

	var wire []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &TransportError{Op: "fetch messages", Err: fmt.Errorf("decode body: %w", err)}
	}

	msgs := make([]store.Message, 0, len(wire))
	for i := range wire {
		msgs = append(msgs, wire[i].toMessage())
	}
	return msgs, nil
}

// SendRequest describes an outgoing message. Body and attachment are
// mutually optional but at least one must be present.
type SendRequest struct {
	Sender    string
	Receiver  string
	ProductID int64
	Body      string

	AttachmentName string
	Attachment     io.Reader
}

// SendMessage posts a message as a multipart form. The response body is
// ignored: the next poll supplies the confirmed record.
func (c *Client) SendMessage(ctx context.Context, sr SendRequest) error {
	if sr.Body == "" && sr.Attachment == nil {
		return fmt.Errorf("send message: empty body and no attachment")
	}

	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"sender":     sr.Sender,
		"receiver":   sr.Receiver,
		"product_id": strconv.FormatInt(sr.ProductID, 10),
		"message":    sr.Body,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	if sr.Attachment != nil {
		part, err := w.CreateFormFile("file", sr.AttachmentName)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		if _, err := io.Copy(part, sr.Attachment); err != nil {
			return fmt.Errorf("send message: read attachment: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/messages", strings.NewReader(buf.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "send message", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "send message", Status: resp.StatusCode}
	}
	return nil
}

// MarkRead informs the server that the message has been viewed by its
// receiver. Any 2xx is success.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/api/messages/%s/read", c.base, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "mark read", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "mark read", Status: resp.StatusCode}
	}
	return nil
}

// LoginResult is the server's answer to a successful login.
type LoginResult struct {
	Token    string `json:"access_token"`
	Username string `json:"username"`
}

// Login authenticates with username/password and returns the bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("login: invalid username or password")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "login", Status: resp.StatusCode}
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Op: "login", Err: fmt.Errorf("decode body: %w", err)}
	}
	return &result, nil
}

// Product is the subset of a listing the messaging surface needs.
type Product struct {
	ID       flexString `json:"id"`
	Title    string     `json:"title"`
	Price    float64    `json:"price"`
	Currency string     `json:"currency"`
	Seller   string     `json:"seller"`
}

// GetProduct fetches one listing, used for thread headers.
func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	u := fmt.Sprintf("%s/api/products/%d", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get product", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "get product", Status: resp.StatusCode}
	}

	var p Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, &TransportError{Op: "get product", Err: fmt.Errorf("decode body: %w", err)}
	}
	return &p, nil
}
