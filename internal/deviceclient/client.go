package deviceclient

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/lights"
	"github.com/muurk/sidelights/internal/provisioning"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 30 * time.Second

	// PushChunkSize is the size of each WebSocket message during a push
	PushChunkSize = 4096
)

// ProgressFunc receives the number of image bytes sent so far
type ProgressFunc func(sent, total int64)

// Client talks to a Sidelights controller's HTTP interface
type Client struct {
	// BaseURL is the base URL for the device (e.g., "http://192.168.1.50:80")
	BaseURL string

	// HTTPClient is used for short requests; uploads are bounded by their context
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for idempotent requests
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration

	// UseExponentialBackoff enables exponential backoff for retries
	UseExponentialBackoff bool
}

// NewClient creates a client for the device at ip:port
func NewClient(ip string, port int) *Client {
	return NewClientWithURL("http://" + net.JoinHostPort(ip, strconv.Itoa(port)))
}

// NewClientWithURL creates a new client with a full base URL
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		BaseURL:               strings.TrimSuffix(baseURL, "/"),
		HTTPClient:            &http.Client{Timeout: DefaultTimeout},
		MaxRetries:            DefaultMaxRetries,
		RetryDelay:            DefaultRetryDelay,
		MaxRetryDelay:         DefaultMaxRetryDelay,
		UseExponentialBackoff: true,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempts run out
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	currentDelay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return networkError("request cancelled", ctx.Err())
			case <-time.After(currentDelay):
			}

			if c.UseExponentialBackoff {
				currentDelay *= 2
				if currentDelay > c.MaxRetryDelay {
					currentDelay = c.MaxRetryDelay
				}
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
	}
	return lastErr
}

// do sends req and returns the body of a 200 response
func (c *Client) do(httpClient *http.Client, req *http.Request) ([]byte, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, networkError(req.Method+" "+req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError("read "+req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(req.Method+" "+req.URL.Path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) postForm(ctx context.Context, path, form string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form))
	if err != nil {
		return "", inputError("build POST request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(c.HTTPClient, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Ping performs a simple health check on the device
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return inputError("build ping request: %v", err)
	}
	_, err = c.do(c.HTTPClient, req)
	return err
}

// GetStatus retrieves the device status, retrying transient failures
func (c *Client) GetStatus(ctx context.Context) (*DeviceStatus, error) {
	var status *DeviceStatus
	err := c.retry(ctx, func() error {
		var err error
		status, err = c.getStatusAttempt(ctx)
		return err
	})
	return status, err
}

func (c *Client) getStatusAttempt(ctx context.Context) (*DeviceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/status", nil)
	if err != nil {
		return nil, inputError("build GET request: %v", err)
	}
	body, err := c.do(c.HTTPClient, req)
	if err != nil {
		return nil, err
	}

	var status DeviceStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, responseError("decode status", err)
	}
	return &status, nil
}

// Provision sends station credentials. It is not retried: every accepted
// save starts a connection attempt on the device.
func (c *Client) Provision(ctx context.Context, ssid, password string) (string, error) {
	rec := credstore.Record{SSID: ssid, Password: password}
	if err := rec.Validate(); err != nil {
		return "", inputError("%v", err)
	}
	return c.postForm(ctx, "/save", provisioning.EncodeForm(rec))
}

// Control switches lights
func (c *Client) Control(ctx context.Context, cmds []lights.Command) (string, error) {
	if len(cmds) == 0 {
		return "", inputError("no light commands given")
	}
	var msg string
	err := c.retry(ctx, func() error {
		var err error
		msg, err = c.postForm(ctx, "/control", lights.EncodeCommands(cmds))
		return err
	})
	return msg, err
}

// progressReader reports bytes read through it
type progressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

// PushFirmware uploads an image of size bytes as the body of POST /ota.
// The upload is bounded by ctx rather than the client timeout.
func (c *Client) PushFirmware(ctx context.Context, image io.Reader, size int64, progress ProgressFunc) (string, error) {
	if size <= 0 {
		return "", inputError("firmware image is empty")
	}
	body := &progressReader{r: image, total: size, progress: progress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/ota", body)
	if err != nil {
		return "", inputError("build upload request: %v", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	uploader := &http.Client{Transport: c.HTTPClient.Transport}
	resp, err := c.do(uploader, req)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// pushResult mirrors the final message of the /ota/ws stream
type pushResult struct {
	Status       int    `json:"status"`
	Message      string `json:"message"`
	BytesWritten int64  `json:"bytes_written"`
}

// PushFirmwareWebSocket streams the image over /ota/ws in binary messages,
// ending with an empty message, and waits for the device's verdict
func (c *Client) PushFirmwareWebSocket(ctx context.Context, image io.Reader, size int64, progress ProgressFunc) (string, error) {
	if size <= 0 {
		return "", inputError("firmware image is empty")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", inputError("invalid device URL %q", c.BaseURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ota/ws"

	dialer := websocket.Dialer{HandshakeTimeout: c.HTTPClient.Timeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return "", statusError("websocket upgrade", resp.StatusCode, "")
		}
		return "", networkError("websocket dial", err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock reads and writes when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	src := &progressReader{r: image, total: size, progress: progress}
	buf := make([]byte, PushChunkSize)
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return "", c.pushFailure(conn, err)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return "", inputError("reading firmware image: %v", rerr)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, nil); err != nil {
		return "", c.pushFailure(conn, err)
	}

	var res pushResult
	if err := conn.ReadJSON(&res); err != nil {
		return "", networkError("read push result", err)
	}
	if res.Status != http.StatusOK {
		return "", statusError("push firmware", res.Status, res.Message)
	}
	return res.Message, nil
}

// pushFailure prefers the device's verdict, sent before it closes a failed
// stream, over the local write error
func (c *Client) pushFailure(conn *websocket.Conn, writeErr error) error {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res pushResult
	if err := conn.ReadJSON(&res); err == nil && res.Status != http.StatusOK {
		return statusError("push firmware", res.Status, res.Message)
	}
	return networkError("stream image", writeErr)
}

// WaitForRestart polls the device until it answers again with no committed
// image waiting, as after an update reboot
func (c *Client) WaitForRestart(ctx context.Context, interval time.Duration) (*DeviceStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.getStatusAttempt(ctx)
		if err == nil && !st.RestartPending() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return nil, err
			}
			return nil, networkError("wait for restart", ctx.Err())
		case <-ticker.C:
		}
	}
}
