// Package vision asks a multimodal model whether a proof screenshot shows the
// requested engagement action.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/engagehub/backend/internal/config"
)

// Request describes the work the proof is supposed to show.
type Request struct {
	AssignmentID uuid.UUID
	ProofURL     string
	Platform     string
	ActionType   string
	TargetURL    string
	CommentText  *string
}

type Verdict struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Analyzer is the external analysis collaborator. Any error means the
// analysis did not happen; it never means the proof was judged invalid.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Verdict, error)
}

var ErrMalformedVerdict = errors.New("malformed verdict")

const verdictSchema = `{
  "type": "object",
  "required": ["success", "confidence", "rationale"],
  "properties": {
    "success":    {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale":  {"type": "string", "minLength": 1}
  }
}`

const systemPrompt = `You verify social media engagement proofs. You receive a screenshot and the action the worker was paid to perform. ` +
	`Decide whether the screenshot clearly shows that action completed on the target. ` +
	`Answer with a single JSON object: {"success": boolean, "confidence": number between 0 and 1, "rationale": short string}. No other text.`

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	schema     *jsonschema.Schema
}

func NewClient(baseURL, apiKey, model string) (*Client, error) {
	schema, err := jsonschema.CompileString("https://engagehub.dev/schemas/vision-verdict", verdictSchema)
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: config.VisionRequestTimeout},
		schema:     schema,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Analyze(ctx context.Context, req Request) (*Verdict, error) {
	if req.ProofURL == "" {
		return nil, fmt.Errorf("analyze %s: no proof url", req.AssignmentID)
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: describe(req)},
				{Type: "image_url", ImageURL: &imageURL{URL: req.ProofURL}},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedVerdict)
	}
	return c.parseVerdict(chat.Choices[0].Message.Content)
}

func (c *Client) parseVerdict(content string) (*Verdict, error) {
	raw := stripFences(content)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	return &v, nil
}

func describe(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\nAction: %s\nTarget: %s\n", req.Platform, req.ActionType, req.TargetURL)
	if req.CommentText != nil && *req.CommentText != "" {
		fmt.Fprintf(&b, "Required comment text: %q\n", *req.CommentText)
	}
	return b.String()
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
