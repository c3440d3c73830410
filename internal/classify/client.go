// Package classify is the trust boundary around the AI classifier. It sends
// movement data to the model and strictly validates everything that comes
// back; raw model text never crosses into the ledger.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvalenz/finledger/internal/domain"
)

// Client talks to the Gemini model in three modes: movement classification,
// raw email-body parsing, and repayment matching.
type Client struct {
	genai *genai.Client
	model string
	log   zerolog.Logger
}

// NewClient creates a classifier client. Credentials come from the
// environment, same as every other Google client in this repo.
func NewClient(ctx context.Context, model string, log zerolog.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("classify: create genai client: %w", err)
	}
	return &Client{genai: gc, model: model, log: log}, nil
}

// Request carries the movement fields the classifier sees.
type Request struct {
	Description       string
	Amount            string
	Currency          string
	SourceDescription string
	Type              domain.Type
	Direction         domain.Direction
}

// Classify asks the model to categorize one movement and decide whether it
// needs splitting. Any validation failure discards the whole result; the
// movement stays unclassified this run and is retried on the next one.
func (c *Client) Classify(ctx context.Context, req Request) (*Result, error) {
	raw, err := c.generate(ctx, classifyPrompt(req))
	if err != nil {
		return nil, err
	}
	res, err := parseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("classify: invalid model response: %w", err)
	}
	return res, nil
}

// ParseEmail extracts transaction fields from a raw bank notification email
// body.
func (c *Client) ParseEmail(ctx context.Context, body string) (*EmailResult, error) {
	raw, err := c.generate(ctx, emailPrompt(body))
	if err != nil {
		return nil, err
	}
	res, err := parseEmailResult(raw)
	if err != nil {
		return nil, fmt.Errorf("classify: invalid email parse response: %w", err)
	}
	return res, nil
}

// MatchRepayment asks the model to pick at most one pending debit for the
// repayment. It implements ledger.MatchOracle.
func (c *Client) MatchRepayment(ctx context.Context, repayment *domain.Movement, candidates []*domain.Movement) (int64, bool, error) {
	raw, err := c.generate(ctx, matchPrompt(repayment, candidates))
	if err != nil {
		return 0, false, err
	}
	id, ok, err := parseMatchResult(raw)
	if err != nil {
		return 0, false, fmt.Errorf("classify: invalid match response: %w", err)
	}
	return id, ok, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (map[string]any, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("classify: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("classify: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	return parsed, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the strict-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost JSON object if junk remains around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
