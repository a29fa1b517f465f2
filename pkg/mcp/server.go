// Package mcp serves the gateway to MCP clients as JSON-RPC 2.0 over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/recovery"
)

// Answerer is the part of the gateway the tools use.
type Answerer interface {
	Answer(ctx context.Context, question string) (models.Answer, error)
	Stats(ctx context.Context) gateway.Stats
}

// History is the read side of the query history log.
type History interface {
	Query(ctx context.Context, opts models.QueryLogOpts) ([]models.QueryLogEntry, error)
	Stats(ctx context.Context) ([]models.QueryLogStat, error)
}

// Server is a minimal MCP server. History may be nil.
type Server struct {
	gw         Answerer
	history    History
	classifier *classify.Classifier
	advisor    *recovery.Advisor
	version    string
	log        *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory enables the query_history tool.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithAdvisor replaces the advisor used by classify_error.
func WithAdvisor(a *recovery.Advisor) Option {
	return func(s *Server) { s.advisor = a }
}

// WithLogger sets the logger. It must not write to the protocol stream.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server in front of gw.
func New(gw Answerer, version string, opts ...Option) *Server {
	s := &Server{
		gw:         gw,
		classifier: classify.New(),
		version:    version,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.advisor == nil {
		s.advisor = recovery.New(nil)
	}
	s.log = s.log.With("component", "mcp")
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{
				JSONRPC: jsonRPCVersion,
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != jsonRPCVersion {
		return rpcError(req, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return result(req, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "querygate", Version: s.version},
			Capabilities:    Capabilities{Tools: map[string]any{}},
		})
	case "ping":
		return result(req, map[string]any{})
	case "tools/list":
		return result(req, ToolsListResult{Tools: s.tools()})
	case "tools/call":
		return s.call(ctx, req)
	}

	if len(req.ID) == 0 {
		// notifications/initialized and friends
		return nil
	}
	return rpcError(req, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
}

func (s *Server) call(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req, CodeInvalidParams, "invalid params")
	}

	t, ok := toolsByName[params.Name]
	if !ok || (t.needsHistory && s.history == nil) {
		return result(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.log.Debug("tool call", "tool", params.Name)
	return result(req, t.handler(ctx, s, params.Arguments))
}

func result(req *Request, v any) *Response {
	return &Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: v}
}

func rpcError(req *Request, code int, msg string) *Response {
	return &Response{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: code, Message: msg}}
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error("write response", "error", err)
	}
}
