// Package protocol wraps the tool-invocation protocol (MCP) behind a typed
// client: tool discovery, argument validation against advertised schemas, and
// a bounded retry policy for transient transport failures.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/retry"
)

const defaultCallTimeout = 15 * time.Second

// rpcSession is the narrow slice of the MCP client the wrapper needs.
// Satisfied by *mcpclient.Client; tests inject fakes.
type rpcSession interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Client is a typed wrapper over one MCP session. Read-only tools are safe to
// retry; write tools are not assumed idempotent, so callers de-duplicate
// (see the outreach record invariant).
type Client struct {
	session     rpcSession
	policy      retry.Policy
	logger      *zap.Logger
	CallTimeout time.Duration

	mu      sync.RWMutex
	catalog *Catalog
}

// NewClient builds a client around an established session.
func NewClient(session rpcSession, policy retry.Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		session:     session,
		policy:      policy,
		logger:      logger,
		CallTimeout: defaultCallTimeout,
	}
}

// Connect dials the protocol service over SSE and performs the MCP handshake,
// retrying transient failures per the policy. ErrUnavailable is returned when
// the service cannot be reached.
func Connect(ctx context.Context, endpoint string, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("protocol endpoint is required")
	}

	var session *mcpclient.Client
	err := policy.Do(ctx, func() error {
		c, err := mcpclient.NewSSEMCPClient(endpoint)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create mcp client: %w", err))
		}

		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return err
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "talentloop",
			Version: "dev",
		}

		if _, err := c.Initialize(ctx, initReq); err != nil {
			_ = c.Close()
			return err
		}

		session = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrUnavailable, endpoint, err)
	}

	logger.Info("connected to protocol service", zap.String("endpoint", endpoint))

	return NewClient(session, policy, logger), nil
}

// ListTools discovers the advertised tool catalog, retrying transient
// failures, and caches the result for Invoke's local validation.
func (c *Client) ListTools(ctx context.Context) (*Catalog, error) {
	var result *mcp.ListToolsResult
	err := c.policy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()

		res, err := c.session.ListTools(callCtx, mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: listing tools: %v", ErrUnavailable, err)
	}

	catalog := newCatalog(result.Tools)

	c.logger.Debug("discovered tool catalog", zap.Strings("tools", catalog.Names()))

	c.mu.Lock()
	c.catalog = catalog
	c.mu.Unlock()

	return catalog, nil
}

// Catalog returns the cached catalog, or nil before the first ListTools.
func (c *Client) Catalog() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// Invoke validates args against the tool's advertised schema, then calls the
// tool and returns the textual result. Transient transport failures are
// retried per the policy before surfacing ErrUnavailable; remote logical
// failures surface as *ToolError and are never retried.
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]any) (string, error) {
	catalog := c.Catalog()
	if catalog == nil {
		var err error
		if catalog, err = c.ListTools(ctx); err != nil {
			return "", err
		}
	}

	tool, ok := catalog.Get(toolName)
	if !ok {
		return "", fmt.Errorf("%w: tool %q is not advertised", ErrInvalidArgument, toolName)
	}

	if err := validateArgs(tool, args); err != nil {
		return "", err
	}

	var text string
	err := c.policy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()

		req := mcp.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = args

		result, err := c.session.CallTool(callCtx, req)
		if err != nil {
			return err
		}

		text = extractText(result)

		if result.IsError {
			return retry.Permanent(&ToolError{Tool: toolName, Message: text})
		}
		return nil
	})
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return "", toolErr
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: invoking %q: %v", ErrUnavailable, toolName, err)
	}

	c.logger.Debug("tool invoked",
		zap.String("tool", toolName),
		zap.Int("result_length", len(text)),
	)

	return text, nil
}

// extractText concatenates all text content from a tool result.
func extractText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	var parts []string
	for _, content := range result.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", content))
		}
	}
	return strings.Join(parts, "\n")
}
