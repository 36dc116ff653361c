package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
)

// stdioSession is a Session backed by a child process speaking line-delimited
// JSON-RPC over stdin/stdout, the transport the original Python stack uses
// for local MCP servers (spec §4.5 transport=stdio).
type stdioSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DialStdio launches cfg.Command and speaks MCP JSON-RPC over its stdio.
func DialStdio(ctx context.Context, cfg ServerConfig) (Session, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", cfg.ID, err)
	}

	s := &stdioSession{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), pending: make(map[int64]chan rpcResponse)}
	go s.readLoop()
	return s, nil
}

func (s *stdioSession) readLoop() {
	for {
		line, err := s.stdout.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpcResponse
			if err := json.Unmarshal(line, &resp); err == nil {
				s.mu.Lock()
				ch, ok := s.pending[resp.ID]
				if ok {
					delete(s.pending, resp.ID)
				}
				s.mu.Unlock()
				if ok {
					ch <- resp
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *stdioSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')

	ch := make(chan rpcResponse, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if _, err := s.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write mcp request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stdioSession) ListTools(ctx context.Context) ([]RemoteTool, error) {
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

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
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

func (s *stdioSession) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
