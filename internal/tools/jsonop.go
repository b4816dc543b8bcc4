package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONTool reads, queries, and writes JSON documents on disk through the
// file_op root so later plan steps can index into structured data.
type JSONTool struct {
	Files *FileOpTool
}

func NewJSONTool(files *FileOpTool) *JSONTool {
	return &JSONTool{Files: files}
}

func (j *JSONTool) Name() string {
	return "json_op"
}

func (j *JSONTool) Description() string {
	return "Read a JSON file (optionally extracting a dotted path like 'items.0.name') or write a JSON value to a file."
}

func (j *JSONTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write"},
				"description": "The operation to perform",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "The JSON file path",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Dotted path into the document, e.g. 'users.0.email' (for 'read')",
			},
			"value": map[string]any{
				"description": "The value to serialize (for 'write')",
			},
		},
		"required": []string{"op", "path"},
	}
}

func (j *JSONTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Query string `json:"query"`
		Value any    `json:"value"`
	}

	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	switch args.Op {
	case "read":
		raw, err := j.Files.Execute(ctx, fmt.Sprintf(`{"op":"read","path":%s}`, mustJSON(args.Path)))
		if err != nil {
			return "", err
		}
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return "", fmt.Errorf("failed to parse %s as JSON: %v", args.Path, err)
		}
		if args.Query != "" {
			doc, err = queryDoc(doc, args.Query)
			if err != nil {
				return "", err
			}
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to encode result: %w", err)
		}
		return string(out), nil
	case "write":
		data, err := json.MarshalIndent(args.Value, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode value: %w", err)
		}
		payload, _ := json.Marshal(map[string]any{"op": "write", "path": args.Path, "content": string(data)})
		return j.Files.Execute(ctx, string(payload))
	default:
		return "", fmt.Errorf("unknown op '%s', use read or write", args.Op)
	}
}

// queryDoc walks a dotted path through maps and arrays.
func queryDoc(doc any, query string) (any, error) {
	cur := doc
	for _, part := range strings.Split(query, ".") {
		switch node := cur.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("key '%s' not found in query '%s'", part, query)
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("expected array index, got '%s' in query '%s'", part, query)
			}
			if idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %d out of range in query '%s'", idx, query)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at '%s'", cur, part)
		}
	}
	return cur, nil
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
