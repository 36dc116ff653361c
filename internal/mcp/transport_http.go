package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// httpSession is a Session backed by a streamable-HTTP MCP server, reached
// by POSTing JSON-RPC envelopes to cfg.URL (spec §4.5 transport=http /
// streamable_http).
type httpSession struct {
	url    string
	client *http.Client
	nextID int64
}

// DialHTTP connects to an HTTP/streamable_http MCP server. No persistent
// connection is opened; each call is one POST request.
func DialHTTP(ctx context.Context, cfg ServerConfig) (Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcp server %s: missing url for http transport", cfg.ID)
	}
	s := &httpSession{url: cfg.URL, client: &http.Client{Timeout: 30 * time.Second}}
	return s, nil
}

func (s *httpSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build mcp http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp http request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode mcp http response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (s *httpSession) ListTools(ctx context.Context) ([]RemoteTool, error) {
	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	tools := make([]RemoteTool, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		tools = append(tools, RemoteTool{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}
	return tools, nil
}

func (s *httpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := s.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw), nil
	}
	out := ""
	for _, c := range payload.Content {
		out += c.Text
	}
	return out, nil
}

func (s *httpSession) Close() error { return nil }

// DialAny picks the transport-appropriate dialer based on cfg.Transport.
func DialAny(ctx context.Context, cfg ServerConfig) (Session, error) {
	switch cfg.Transport {
	case TransportHTTP, TransportSSE, TransportStreamableHTTP:
		return DialHTTP(ctx, cfg)
	default:
		return DialStdio(ctx, cfg)
	}
}
