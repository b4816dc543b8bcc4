package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const searchTimeout = 20 * time.Second

// SearchTool queries DuckDuckGo for live web results.
type SearchTool struct {
	client *duckduckgo.Tool
}

func NewSearchTool(maxResults int) (*SearchTool, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Truncate combined results to this many characters (default 8000)",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query    string `json:"query"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	if args.MaxChars <= 0 {
		args.MaxChars = 8000
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	res, err := s.client.Call(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	res = strings.TrimSpace(res)
	if res == "" {
		return "No results found for: " + args.Query, nil
	}
	if len(res) > args.MaxChars {
		res = res[:args.MaxChars] + "\n... [results truncated]"
	}
	return res, nil
}
