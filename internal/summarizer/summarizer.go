// Package summarizer turns a set of notes into summary text through an external HTTP service.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/models"
)

// DefaultTimeout bounds one summarize call.
const DefaultTimeout = 90 * time.Second

const maxErrorBody = 500

// Summarizer produces summary text for notes.
type Summarizer interface {
	Summarize(ctx context.Context, notes []models.Note) (string, error)
}

// Client calls a summarizer endpoint that accepts {"input": ...} and answers {"summary": ...}.
type Client struct {
	client *resty.Client
	url    string
}

// New creates a client posting to url with the given timeout (DefaultTimeout when zero).
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{client: c, url: url}
}

type summarizeRequest struct {
	Input string `json:"input"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize sends all notes as one prompt. Every failure wraps apperr.ErrExternalService.
func (c *Client) Summarize(ctx context.Context, notes []models.Note) (string, error) {
	input := strings.TrimSpace(BuildPrompt(notes))

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&summarizeRequest{Input: input}).
		Post(c.url)
	if err != nil {
		return "", classify(err)
	}
	if resp.StatusCode() != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode()))
		if body := truncate(strings.TrimSpace(resp.String()), maxErrorBody); body != "" {
			msg += ": " + body
		}
		return "", fmt.Errorf("%s: %w", msg, apperr.ErrExternalService)
	}

	var sr summarizeResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		return "", fmt.Errorf("decode summary response: %v: %w", err, apperr.ErrExternalService)
	}
	return strings.TrimSpace(sr.Summary), nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("TIMEOUT: %v: %w", err, apperr.ErrExternalService)
	}
	return fmt.Errorf("NETWORK: %v: %w", err, apperr.ErrExternalService)
}

// BuildPrompt numbers notes as "i) text" lines. Lines with no real content are dropped
// but numbering keeps the original positions.
func BuildPrompt(notes []models.Note) string {
	lines := make([]string, 0, len(notes))
	for i, n := range notes {
		line := fmt.Sprintf("%d) %s", i+1, strings.TrimSpace(n.Text))
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Func adapts a function to Summarizer.
type Func func(ctx context.Context, notes []models.Note) (string, error)

// Summarize calls f.
func (f Func) Summarize(ctx context.Context, notes []models.Note) (string, error) {
	return f(ctx, notes)
}
