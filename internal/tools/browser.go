package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

const browserActionTimeout = 60 * time.Second

// BrowserTool drives a Chrome session through chromedp. The session stays
// alive across calls until 'close' so multi-step interactions keep their
// page state.
type BrowserTool struct {
	Headless      bool
	ScreenshotDir string

	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool(headless bool, screenshotDir string) *BrowserTool {
	if screenshotDir == "" {
		screenshotDir = "screenshots"
	}
	return &BrowserTool{Headless: headless, ScreenshotDir: screenshotDir}
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Control a browser to interact with websites. The session stays open until you call 'close'. Actions: 'navigate', 'click', 'content', 'text', 'type', 'press', 'scroll', 'wait', 'back', 'forward', 'reload', 'screenshot', 'close'."
}

func (b *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"navigate", "click", "content", "text", "type", "press",
					"scroll", "wait", "back", "forward", "reload",
					"screenshot", "close",
				},
				"description": "The action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to navigate to (required for 'navigate')",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the target element (required for 'click', 'text', 'type', 'press', 'scroll', 'wait')",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type or key to press (required for 'type', 'press')",
			},
			"wait_seconds": map[string]any{
				"type":        "integer",
				"description": "Time to wait in seconds (used with 'wait')",
			},
		},
		"required": []string{"action"},
	}
}

func (b *BrowserTool) ensureSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.teardown()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

// teardown must be called with b.mu held.
func (b *BrowserTool) teardown() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

func (b *BrowserTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Action      string `json:"action"`
		URL         string `json:"url"`
		Selector    string `json:"selector"`
		Text        string `json:"text"`
		WaitSeconds int    `json:"wait_seconds"`
	}

	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	if args.Action == "close" {
		b.mu.Lock()
		b.teardown()
		b.mu.Unlock()
		return "Successfully closed the browser.", nil
	}

	if err := b.ensureSession(); err != nil {
		return "", fmt.Errorf("failed to start browser: %v", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, browserActionTimeout)
	defer cancel()

	result, err := b.run(actionCtx, args.Action, args.URL, args.Selector, args.Text, args.WaitSeconds)
	if err != nil {
		return fmt.Sprintf("Browser action failed: %v", err), nil
	}
	return result, nil
}

func (b *BrowserTool) run(ctx context.Context, action, url, selector, text string, waitSeconds int) (string, error) {
	switch action {
	case "navigate":
		if url == "" {
			return "", fmt.Errorf("url is required for 'navigate'")
		}
		if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully navigated to %s", url), nil

	case "content":
		var html string
		err := chromedp.Run(ctx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				node, err := dom.GetDocument().Do(ctx)
				if err != nil {
					return err
				}
				html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
				return err
			}),
		)
		if err != nil {
			return "", err
		}
		if len(html) > 50000 {
			html = html[:50000] + "\n... (truncated)"
		}
		return html, nil

	case "text":
		sel := selector
		if sel == "" {
			sel = "body"
		}
		var content string
		if err := chromedp.Run(ctx, chromedp.Text(sel, &content, chromedp.ByQuery)); err != nil {
			return "", err
		}
		content = strings.TrimSpace(content)
		if len(content) > 50000 {
			content = content[:50000] + "\n... (truncated)"
		}
		return content, nil

	case "click":
		if selector == "" {
			return "", fmt.Errorf("selector required")
		}
		if err := chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked %s", selector), nil

	case "type":
		if selector == "" || text == "" {
			return "", fmt.Errorf("selector and text required")
		}
		if err := chromedp.Run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed text in %s", selector), nil

	case "press":
		if text == "" {
			return "", fmt.Errorf("text (key) required")
		}
		if err := chromedp.Run(ctx, chromedp.KeyEvent(text)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Pressed key: %s", text), nil

	case "scroll":
		if selector != "" {
			if err := chromedp.Run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Scrolled to %s", selector), nil
		}
		if err := chromedp.Run(ctx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)); err != nil {
			return "", err
		}
		return "Scrolled to bottom", nil

	case "wait":
		if selector != "" {
			if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Finished waiting for %s", selector), nil
		}
		if waitSeconds > 0 {
			select {
			case <-time.After(time.Duration(waitSeconds) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return fmt.Sprintf("Waited for %d seconds", waitSeconds), nil
		}
		return "Nothing to wait for", nil

	case "back":
		if err := chromedp.Run(ctx, chromedp.NavigateBack()); err != nil {
			return "", err
		}
		return "Navigated back", nil

	case "forward":
		if err := chromedp.Run(ctx, chromedp.NavigateForward()); err != nil {
			return "", err
		}
		return "Navigated forward", nil

	case "reload":
		if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
			return "", err
		}
		return "Page reloaded", nil

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return "", err
		}
		if err := os.MkdirAll(b.ScreenshotDir, 0755); err != nil {
			return "", err
		}
		path := filepath.Join(b.ScreenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().Unix()))
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return "", err
		}
		absPath, _ := filepath.Abs(path)
		return fmt.Sprintf("Screenshot saved to %s", absPath), nil

	default:
		return "", fmt.Errorf("invalid action '%s'", action)
	}
}
