package magento

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magebridge/connector/internal/domain/integration"
)

// fakeEndpoint is a scripted RPC endpoint. Each received request is
// recorded; responses are produced by the handler func.
type fakeEndpoint struct {
	t        *testing.T
	server   *httptest.Server
	requests []rpcRequest
	handle   func(req rpcRequest) (any, *rpcError)
}

func newFakeEndpoint(t *testing.T, handle func(req rpcRequest) (any, *rpcError)) *fakeEndpoint {
	f := &fakeEndpoint{t: t, handle: handle}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.requests = append(f.requests, req)

		result, fault := f.handle(req)
		resp := map[string]any{"id": req.ID}
		if fault != nil {
			resp["error"] = fault
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeEndpoint) node(endpoint integration.EndpointVariant) *integration.Node {
	return &integration.Node{
		Name:     "store-a",
		BaseURL:  f.server.URL,
		APIUser:  "apiuser",
		APIKey:   "apikey",
		Endpoint: endpoint,
	}
}

func (f *fakeEndpoint) methods() []string {
	out := make([]string, len(f.requests))
	for i, req := range f.requests {
		out[i] = req.Method
	}
	return out
}

// loginThen answers login with a session token and delegates everything
// else to next.
func loginThen(session string, next func(req rpcRequest) (any, *rpcError)) func(req rpcRequest) (any, *rpcError) {
	return func(req rpcRequest) (any, *rpcError) {
		if req.Method == "login" {
			return session, nil
		}
		return next(req)
	}
}

func TestClient_Connect(t *testing.T) {
	t.Run("stores session on success", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess-1", func(rpcRequest) (any, *rpcError) {
			return "ok", nil
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, client.Connect(context.Background()))

		_, err = client.Call(context.Background(), "customer.list", nil)
		require.NoError(t, err)
		// Session token is prefixed as the first positional argument
		assert.Equal(t, "sess-1", f.requests[1].Params[0])
	})

	t.Run("fails without credentials", func(t *testing.T) {
		f := newFakeEndpoint(t, func(rpcRequest) (any, *rpcError) { return nil, nil })
		node := f.node(integration.EndpointLegacy)
		node.APIKey = ""
		client, err := NewClient(node, zap.NewNop())
		require.NoError(t, err)

		err = client.Connect(context.Background())
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Empty(t, f.requests)
	})

	t.Run("wraps remote rejection", func(t *testing.T) {
		f := newFakeEndpoint(t, func(rpcRequest) (any, *rpcError) {
			return nil, &rpcError{Code: 2, Message: "Access denied"}
		})
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		err = client.Connect(context.Background())
		assert.ErrorIs(t, err, ErrAuthFailed)
	})
}

func TestClient_Call_Dispatch(t *testing.T) {
	t.Run("legacy variant calls the operation directly", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			return "ok", nil
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "sales_order.info", []any{"100000123"})
		require.NoError(t, err)

		assert.Equal(t, []string{"login", "sales_order.info"}, f.methods())
		assert.Equal(t, []any{"sess", "100000123"}, f.requests[1].Params)
	})

	t.Run("generic variant dispatches through call", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			return "ok", nil
		}))
		client, err := NewClient(f.node(integration.EndpointGeneric), zap.NewNop())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "sales_order.info", []any{"100000123"})
		require.NoError(t, err)

		assert.Equal(t, []string{"login", "call"}, f.methods())
		assert.Equal(t, "sess", f.requests[1].Params[0])
		assert.Equal(t, "sales_order.info", f.requests[1].Params[1])
	})

	t.Run("connects implicitly on first call", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			return "ok", nil
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "customer.list", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"login", "customer.list"}, f.methods())
	})
}

func TestClient_Call_SessionRetry(t *testing.T) {
	t.Run("expired session is retried exactly once after reconnect", func(t *testing.T) {
		attempts := 0
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			attempts++
			if attempts == 1 {
				return nil, &rpcError{Code: 5, Message: "Session expired. Try to relogin."}
			}
			return map[string]any{"status": "complete"}, nil
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		result, err := client.Call(context.Background(), "sales_order.info", []any{"100000123"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"status": "complete"}, result)

		// login, failed call, relogin, retried call
		assert.Equal(t, []string{"login", "sales_order.info", "login", "sales_order.info"}, f.methods())
	})

	t.Run("second expiry after retry surfaces the fault", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			return nil, &rpcError{Code: 5, Message: "session expired"}
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "customer.list", nil)
		var fault *Fault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, 5, fault.Code)
		assert.Equal(t, []string{"login", "customer.list", "login", "customer.list"}, f.methods())
	})

	t.Run("unrelated fault is not retried", func(t *testing.T) {
		f := newFakeEndpoint(t, loginThen("sess", func(req rpcRequest) (any, *rpcError) {
			return nil, &rpcError{Code: 101, Message: "Requested order not exists."}
		}))
		client, err := NewClient(f.node(integration.EndpointLegacy), zap.NewNop())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "sales_order.info", []any{"missing"})
		var fault *Fault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, 101, fault.Code)
		assert.Contains(t, fault.ResponseBody, "Requested order not exists.")
		assert.Equal(t, []string{"login", "sales_order.info"}, f.methods())
	})
}

func TestIsSessionExpired(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"session expired fault", &Fault{Message: "Session expired. Try to relogin."}, true},
		{"relogin hint only", &Fault{Message: "Please try to relogin"}, true},
		{"case insensitive", &Fault{Message: "SESSION EXPIRED"}, true},
		{"unrelated fault", &Fault{Message: "Access denied"}, false},
		{"not a fault", errors.New("session expired"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSessionExpired(tt.err))
		})
	}
}
