package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

type tool struct {
	def          ToolDefinition
	needsHistory bool
	handler      toolHandler
}

var allTools = []tool{
	{
		def: ToolDefinition{
			Name:        "query_database",
			Description: "Answer a natural-language question about the ERP database. Answers are cached and failed queries come back with guidance on how to fix them.",
			InputSchema: schema{
				Type:     "object",
				Required: []string{"question"},
				Properties: map[string]property{
					"question": {Type: "string", Description: "The question to answer"},
				},
			},
		},
		handler: handleQueryDatabase,
	},
	{
		def: ToolDefinition{
			Name:        "classify_error",
			Description: "Classify a database error message and return the suggested fix.",
			InputSchema: schema{
				Type:     "object",
				Required: []string{"error"},
				Properties: map[string]property{
					"error":    {Type: "string", Description: "The raw error text"},
					"question": {Type: "string", Description: "The question that produced the error (optional)"},
				},
			},
		},
		handler: handleClassifyError,
	},
	{
		def: ToolDefinition{
			Name:        "get_database_schema",
			Description: "Describe the known ERP tables and their columns as SQL DDL. Consult it before writing queries.",
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"tables": {Type: "string", Description: "Comma-separated table names (optional, default all known tables)"},
				},
			},
		},
		handler: handleDatabaseSchema,
	},
	{
		def: ToolDefinition{
			Name:        "cache_stats",
			Description: "Show answer cache statistics for both tiers and the rate limiter state.",
			InputSchema: schema{Type: "object", Properties: map[string]property{}},
		},
		handler: handleCacheStats,
	},
	{
		def: ToolDefinition{
			Name:        "query_history",
			Description: "Search the query history log with optional filters.",
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"outcome":    {Type: "string", Description: "hit_ephemeral, hit_durable, miss, rate_limited or error (optional)"},
					"error_kind": {Type: "string", Description: "Filter by error kind, e.g. column_not_exist (optional)"},
					"since":      {Type: "string", Description: "Start date in YYYY-MM-DD format (optional)"},
					"limit":      {Type: "integer", Description: "Maximum entries to return (optional, default 50)"},
				},
			},
		},
		needsHistory: true,
		handler:      handleQueryHistory,
	},
}

var toolsByName = func() map[string]tool {
	m := make(map[string]tool, len(allTools))
	for _, t := range allTools {
		m[t.def.Name] = t
	}
	return m
}()

// tools returns the definitions available on s.
func (s *Server) tools() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(allTools))
	for _, t := range allTools {
		if t.needsHistory && s.history == nil {
			continue
		}
		defs = append(defs, t.def)
	}
	return defs
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

type questionArgs struct {
	Question string `json:"question"`
}

func handleQueryDatabase(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args questionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if strings.TrimSpace(args.Question) == "" {
		return errorResult("question is required")
	}

	ans, err := s.gw.Answer(ctx, args.Question)
	if err != nil && ans.Outcome == "" {
		return errorResult("Error answering question: " + err.Error())
	}
	res := textResult(formatAnswer(ans))
	if errors.Is(err, ratelimit.ErrRateLimited) {
		return res
	}
	res.IsError = err != nil || (ans.Outcome == models.OutcomeError && !ans.Recovered)
	return res
}

type classifyArgs struct {
	Error    string `json:"error"`
	Question string `json:"question"`
}

func handleClassifyError(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args classifyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if strings.TrimSpace(args.Error) == "" {
		return errorResult("error is required")
	}

	m := s.classifier.Match(args.Error)
	text, ok := s.advisor.Suggest(m.Kind, args.Error, args.Question)
	if !ok {
		text = s.advisor.Explain(m.Kind, args.Error)
	}
	return textResult(formatClassification(m.Kind, m.Token, text))
}

type schemaArgs struct {
	Tables string `json:"tables"`
}

func handleDatabaseSchema(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args schemaArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	var tables []string
	if strings.TrimSpace(args.Tables) != "" {
		tables = strings.Split(args.Tables, ",")
	}
	return textResult(s.advisor.Schema(tables...))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatStats(s.gw.Stats(ctx)))
}

type historyArgs struct {
	Outcome   string `json:"outcome"`
	ErrorKind string `json:"error_kind"`
	Since     string `json:"since"`
	Limit     int    `json:"limit"`
}

func handleQueryHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args historyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.QueryLogOpts{
		Outcome:   models.Outcome(args.Outcome),
		ErrorKind: args.ErrorKind,
		Limit:     args.Limit,
	}
	if opts.ErrorKind != "" && classify.ParseKind(opts.ErrorKind).String() != opts.ErrorKind {
		return errorResult("Unknown error_kind: " + opts.ErrorKind)
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.history.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching history: " + err.Error())
	}
	return textResult(formatHistory(entries))
}
