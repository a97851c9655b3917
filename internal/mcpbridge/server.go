// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes the D.A.T.A. detection and scoring operations as MCP tools.
//
// Messages are newline-delimited JSON-RPC 2.0 over stdio. Logs must go
// elsewhere, usually stderr.
package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// maxMessage bounds a single inbound line.
const maxMessage = 1 << 20

type methodFunc func(ctx context.Context, msg message) (any, *replyError)

// Server is a stdio MCP server.
type Server struct {
	tools   *ToolRegistry
	version string
	logger  *zap.Logger
	methods map[string]methodFunc

	mu  sync.Mutex // guards enc
	enc *json.Encoder

	pending sync.WaitGroup
}

// NewServer returns a server that answers on w.
func NewServer(w io.Writer, tools *ToolRegistry, version string, logger *zap.Logger) *Server {
	s := &Server{tools: tools, version: version, logger: logger, enc: json.NewEncoder(w)}
	s.methods = map[string]methodFunc{
		"initialize": s.initialize,
		"ping":       func(context.Context, message) (any, *replyError) { return struct{}{}, nil },
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s
}

// Serve handles messages from r until EOF or ctx is done. Tool calls run
// concurrently; Serve returns only after each of them has answered.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	defer s.pending.Wait()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxMessage)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			s.send(reply{JSONRPC: jsonrpcVersion, ID: json.RawMessage("null"),
				Error: &replyError{Code: codeParseError, Message: "parse error"}})
			continue
		}
		if msg.isNotification() {
			continue
		}

		if msg.Method != "tools/call" {
			s.handle(ctx, msg)
			continue
		}
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.handle(ctx, msg)
		}()
	}
	return sc.Err()
}

func (s *Server) handle(ctx context.Context, msg message) {
	out := reply{JSONRPC: jsonrpcVersion, ID: msg.ID}
	if fn, ok := s.methods[msg.Method]; ok {
		out.Result, out.Error = fn(ctx, msg)
	} else {
		out.Error = &replyError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)}
	}
	s.send(out)
}

func (s *Server) initialize(context.Context, message) (any, *replyError) {
	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      serverInfo{Name: serverName, Version: s.version},
	}, nil
}

func (s *Server) listTools(context.Context, message) (any, *replyError) {
	return toolsListResult{Tools: s.tools.Definitions()}, nil
}

func (s *Server) callTool(ctx context.Context, msg message) (any, *replyError) {
	var p callParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return nil, &replyError{Code: codeInvalidParams, Message: "invalid params"}
	}

	log := s.logger.With(zap.String("tool", p.Name))
	log.Debug("tool call")
	text, failed := s.tools.Call(ctx, p.Name, p.Arguments)
	if failed {
		log.Info("tool call failed", zap.String("result", text))
	}
	return callResult{Content: []textContent{{Type: "text", Text: text}}, IsError: failed}, nil
}

func (s *Server) send(r reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(r); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}
