package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/session"
)

const (
	// DefaultURL is the Gateway Client target absent DEV_SESSIONS_GATEWAY_URL.
	DefaultURL = "http://host.docker.internal:6767"

	urlEnv               = "DEV_SESSIONS_GATEWAY_URL"
	sandboxEnv           = "IS_SANDBOX"
	hostPathEnv          = "HOST_PATH"
	containerWorkspaceEnv = "CONTAINER_WORKSPACE"
	defaultContainerWorkspace = "/workspace"
)

// InSandbox reports whether IS_SANDBOX=1 selects the Gateway Client in
// place of a local Session Manager.
func InSandbox() bool {
	return os.Getenv(sandboxEnv) == "1"
}

// TargetURL resolves the Gateway Client's target from DEV_SESSIONS_GATEWAY_URL.
func TargetURL() string {
	if v := os.Getenv(urlEnv); v != "" {
		return v
	}
	return DefaultURL
}

// ClientError is returned when the gateway answers with a status of 400 or
// above; Message is the body's `error` field, or the trimmed body if none.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client implements the same public surface as *session.Manager by calling
// a Gateway Server over HTTP, so sandboxed code can be written against one
// interface regardless of where it runs.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client targeting baseURL (e.g. TargetURL()).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// translatePath rewrites a container-side workspace path to its host
// equivalent when HOST_PATH is set: a path prefixed by CONTAINER_WORKSPACE
// (default /workspace) becomes HOST_PATH + suffix. Any other path, or an
// unset HOST_PATH, passes through unchanged.
func translatePath(path string) string {
	hostPath := os.Getenv(hostPathEnv)
	if hostPath == "" {
		return path
	}
	containerWorkspace := os.Getenv(containerWorkspaceEnv)
	if containerWorkspace == "" {
		containerWorkspace = defaultContainerWorkspace
	}
	if path == containerWorkspace {
		return hostPath
	}
	if strings.HasPrefix(path, containerWorkspace+"/") {
		return hostPath + strings.TrimPrefix(path, containerWorkspace)
	}
	return path
}

// connectHint is appended to a connectivity error so the caller knows the
// target URL and how to bring the gateway up.
func (c *Client) connectHint(err error) error {
	return fmt.Errorf("could not reach dev-sessions gateway at %s (start it with `dev-sessions gateway install`): %w", c.baseURL, err)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, full, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.connectHint(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &envelope)
		msg := envelope.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &ClientError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("gateway: %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// CreateSession mirrors Manager.CreateSession, translating WorkspacePath
// before transmission.
func (c *Client) CreateSession(ctx context.Context, opts session.CreateSessionOptions) (registry.SessionRecord, error) {
	cli := ""
	if opts.Kind == registry.KindRPC {
		cli = "codex"
	}
	body := createRequestBody{
		Path:        translatePath(opts.WorkspacePath),
		CLI:         cli,
		Mode:        string(opts.Mode),
		Description: opts.Description,
	}
	var out struct {
		Session registry.SessionRecord `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/create", nil, body, &out); err != nil {
		return registry.SessionRecord{}, err
	}
	return out.Session, nil
}

// SendMessage mirrors Manager.SendMessage.
func (c *Client) SendMessage(ctx context.Context, handle, text string) error {
	body := sendRequestBody{SessionID: handle, Message: text}
	return c.do(ctx, http.MethodPost, "/send", nil, body, nil)
}

// KillSession mirrors Manager.KillSession.
func (c *Client) KillSession(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodPost, "/kill", nil, killRequestBody{SessionID: handle}, nil)
}

// ListSessions mirrors Manager.ListSessions.
func (c *Client) ListSessions(ctx context.Context) ([]registry.SessionRecord, error) {
	var out struct {
		Sessions []registry.SessionRecord `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSessionStatus mirrors Manager.GetSessionStatus.
func (c *Client) GetSessionStatus(ctx context.Context, handle string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	query := url.Values{"id": {handle}}
	if err := c.do(ctx, http.MethodGet, "/status", query, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// WaitResult mirrors session.WaitResult's gateway-serialized fields.
type WaitResult struct {
	Completed bool  `json:"completed"`
	TimedOut  bool  `json:"timedOut"`
	ElapsedMs int64 `json:"elapsedMs"`
}

// WaitForSession mirrors Manager.WaitForSession.
func (c *Client) WaitForSession(ctx context.Context, handle string, opts session.WaitOptions) (WaitResult, error) {
	query := url.Values{
		"id":       {handle},
		"timeout":  {strconv.Itoa(int(opts.Timeout.Seconds()))},
		"interval": {strconv.Itoa(int(opts.PollInterval.Seconds()))},
	}
	var out struct {
		WaitResult WaitResult `json:"waitResult"`
	}
	if err := c.do(ctx, http.MethodGet, "/wait", query, nil, &out); err != nil {
		return WaitResult{}, err
	}
	return out.WaitResult, nil
}

// GetLastMessages mirrors Manager.GetLastMessages.
func (c *Client) GetLastMessages(ctx context.Context, handle string, n int) ([]string, error) {
	var out struct {
		Blocks []string `json:"blocks"`
	}
	query := url.Values{"id": {handle}, "n": {strconv.Itoa(n)}}
	if err := c.do(ctx, http.MethodGet, "/last-message", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// GetLogs mirrors Manager.GetLogs.
func (c *Client) GetLogs(ctx context.Context, handle string) ([]session.LogTurn, error) {
	var out struct {
		Logs []session.LogTurn `json:"logs"`
	}
	query := url.Values{"id": {handle}}
	if err := c.do(ctx, http.MethodGet, "/logs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Inspect mirrors Manager.Inspect.
func (c *Client) Inspect(ctx context.Context, handle string) (registry.SessionRecord, error) {
	var out struct {
		Session registry.SessionRecord `json:"session"`
	}
	query := url.Values{"id": {handle}}
	if err := c.do(ctx, http.MethodGet, "/inspect", query, nil, &out); err != nil {
		return registry.SessionRecord{}, err
	}
	return out.Session, nil
}
