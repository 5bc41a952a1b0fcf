package magento

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/magebridge/connector/internal/domain/integration"
)

// maxResponseSize is the maximum allowed response size from the remote API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// defaultTimeout bounds a single remote call at the transport level
const defaultTimeout = 30 * time.Second

// sessionState tracks the client's authentication lifecycle. Transitions:
// Disconnected -> Connected via Connect, Connected -> Expired on a
// session-expiry fault, Expired -> Connected via reconnect.
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnected
	stateExpired
)

// Client is a session-authenticated RPC client for one node. It is safe
// for use by a single sync run; the session token is renegotiated at
// most once per call on expiry signals.
type Client struct {
	node       *integration.Node
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu      gosync.Mutex
	state   sessionState
	session string
	nextID  int64
}

// NewClient creates a client for the given node. Credentials are not
// checked here; Connect performs the authentication.
func NewClient(node *integration.Node, logger *zap.Logger) (*Client, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if node.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(node.RateLimit), 1)
	}

	return &Client{
		node:       node,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    limiter,
		logger:     logger.Named("magento"),
		state:      stateDisconnected,
	}, nil
}

// Connect authenticates against the remote endpoint and stores the
// session token. It fails with ErrMissingCredentials when the node has
// no api user/key, and wraps ErrAuthFailed when the remote rejects them.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.node.APIUser == "" || c.node.APIKey == "" {
		return ErrMissingCredentials
	}

	result, err := c.invoke(ctx, "login", []any{c.node.APIUser, c.node.APIKey})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	session, ok := result.(string)
	if !ok || session == "" {
		return fmt.Errorf("%w: login returned no session token", ErrAuthFailed)
	}

	c.session = session
	c.state = stateConnected
	c.logger.Debug("Session established", zap.String("node", c.node.Name))
	return nil
}

// Call invokes a named remote operation with positional arguments,
// prefixing the session token, and returns the normalized response.
// A fault signalling an expired session triggers exactly one reconnect
// and one retry; any other fault, or a second failure, is surfaced
// unchanged.
func (c *Client) Call(ctx context.Context, operation string, args []any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConnected {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	result, err := c.dispatch(ctx, operation, args)
	if err == nil {
		return result, nil
	}
	if !IsSessionExpired(err) {
		return nil, err
	}

	// Bounded recovery: the session is stale, not the network. Renegotiate
	// once and retry once; a second failure surfaces as-is.
	c.state = stateExpired
	c.session = ""
	c.logger.Warn("Session expired, reconnecting",
		zap.String("node", c.node.Name),
		zap.String("operation", operation),
	)
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.dispatch(ctx, operation, args)
}

// dispatch routes an operation through the node's endpoint variant.
func (c *Client) dispatch(ctx context.Context, operation string, args []any) (any, error) {
	switch c.node.Endpoint {
	case integration.EndpointGeneric:
		return c.invoke(ctx, "call", []any{c.session, operation, args})
	default:
		params := make([]any, 0, len(args)+1)
		params = append(params, c.session)
		params = append(params, args...)
		return c.invoke(ctx, operation, params)
	}
}

// rpcRequest and rpcResponse model the wire envelope.
type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// invoke performs one HTTP round trip and decodes the envelope. Remote
// faults are returned as *Fault carrying the request and response
// bodies for diagnostics.
func (c *Client) invoke(ctx context.Context, method string, params []any) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.nextID++
	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return nil, fmt.Errorf("magento: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.node.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("magento: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("magento: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	var envelope rpcResponse
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if envelope.Error != nil {
		return nil, &Fault{
			Code:         envelope.Error.Code,
			Message:      envelope.Error.Message,
			Operation:    method,
			RequestBody:  string(body),
			ResponseBody: string(respBody),
		}
	}

	var result any
	rdec := json.NewDecoder(bytes.NewReader(envelope.Result))
	rdec.UseNumber()
	if len(envelope.Result) > 0 {
		if err := rdec.Decode(&result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return Normalize(result), nil
}
