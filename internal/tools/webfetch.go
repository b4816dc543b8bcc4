package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const defaultFetchLimit = 50000

// WebFetchTool downloads a page and reduces it to readable text.
type WebFetchTool struct {
	UserAgent string
	Client    *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *WebFetchTool) Name() string {
	return "web_fetch"
}

func (w *WebFetchTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (w *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage to fetch (e.g., https://example.com/article)",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum number of content characters to return (default 50000)",
			},
			"raw": map[string]any{
				"type":        "boolean",
				"description": "Return the raw response body instead of extracted article text",
			},
		},
		"required": []string{"url"},
	}
}

func (w *WebFetchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
		Raw      bool   `json:"raw"`
	}
	if err := json.Unmarshal(([]byte)(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if args.MaxChars <= 0 {
		args.MaxChars = defaultFetchLimit
	}

	req, err := http.NewRequestWithContext(ctx, "GET", args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", w.UserAgent)

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(args.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %v", err)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %v", err)
	}

	content := article.TextContent
	if args.Raw {
		content = article.Content
	}

	// Strip any markup that survived extraction.
	content = bluemonday.StrictPolicy().Sanitize(content)
	if len(content) > args.MaxChars {
		content = content[:args.MaxChars] + "\n... (content truncated) ..."
	}

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n" + content
	return output, nil
}
