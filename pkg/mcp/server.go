// Package mcp serves augur diagnostics as MCP tools over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/budget"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/replay"
	"github.com/pario-ai/augur/pkg/tracker"
)

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats() (models.CacheStats, error)
}

// CacheStatsFunc adapts a function to CacheStatter.
type CacheStatsFunc func() (models.CacheStats, error)

// Stats calls f.
func (f CacheStatsFunc) Stats() (models.CacheStats, error) { return f() }

// ReplayQuerier reads records from a saved replay log.
type ReplayQuerier interface {
	Query(f replay.Filter) ([]models.ReplayRecord, error)
}

// AttemptSearcher reads the provider attempt journal.
type AttemptSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AttemptEntry, error)
	Stats(ctx context.Context) ([]models.AuditStat, error)
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	tracker  tracker.Tracker
	cache    CacheStatter
	enforcer *budget.Enforcer
	replay   ReplayQuerier
	attempts AttemptSearcher
	version  string
	logger   *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReplay exposes a saved replay log.
func WithReplay(r ReplayQuerier) Option {
	return func(s *Server) { s.replay = r }
}

// WithAttempts exposes the attempt journal.
func WithAttempts(a AttemptSearcher) Option {
	return func(s *Server) { s.attempts = a }
}

// WithLogger sets the logger used for transport errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new MCP Server. cache and enforcer may be nil.
func New(t tracker.Tracker, cache CacheStatter, enforcer *budget.Enforcer, version string, opts ...Option) *Server {
	s := &Server{
		tracker:  t,
		cache:    cache,
		enforcer: enforcer,
		version:  version,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: "augur", Version: s.version},
		Capabilities:    map[string]any{"tools": map[string]any{}},
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return resultResponse(req.ID, ToolsListResult{Tools: allTools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp write", zap.Error(err))
	}
}
