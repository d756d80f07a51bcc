package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxPromptChars bounds how much document text is sent per request,
// staying inside the model's context window.
const maxPromptChars = 100000

const extractionSystemPrompt = `You are a bibliographic assistant. From the document text, extract a strict JSON object with keys: "title" (string), "authors" (array of strings), "abstract" (string, a concise summary of findings, methodology and conclusions if none is present), "publication_date" (string, ISO date or empty), "keywords" (array of 5-10 specific noun phrases). Output JSON only, in English.`

// NLPClient calls an OpenAI-compatible chat completion endpoint and asks
// for bibliographic fields as a single JSON object.
type NLPClient struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

// Fields is the partial metadata the model returns. Any field may be
// empty; the extractor fills the gaps.
type Fields struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Abstract        string   `json:"abstract"`
	PublicationDate string   `json:"publication_date"`
	Keywords        []string `json:"keywords"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract asks the model for bibliographic fields of the document text.
func (c *NLPClient) Extract(ctx context.Context, text string) (*Fields, error) {
	if c.BaseURL == "" || c.Model == "" {
		return nil, fmt.Errorf("nlp: base URL and model required")
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: "Extract the bibliographic metadata of the following document.\n\n" + text},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nlp: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("nlp: malformed response: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("nlp: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("nlp: empty response")
	}

	var fields Fields
	content := payload.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, fmt.Errorf("nlp: response is not the requested JSON object: %w", err)
	}
	return &fields, nil
}

func (c *NLPClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
