package language

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// Client calls a Microsoft-Translator-v3-compatible endpoint.
type Client struct {
	Endpoint string
	APIKey   string
	Region   string

	HTTPClient *http.Client
}

type translateRequest struct {
	Text string `json:"text"`
}

type translateResponse struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

type translateError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TranslateChunk translates one chunk of text to English. Errors are
// classified: network failures, 408/429 and 5xx responses are retryable;
// 4xx responses (unsupported language among them) are permanent.
func (c *Client) TranslateChunk(ctx context.Context, text, sourceLang string) (string, error) {
	if c.Endpoint == "" {
		return "", domain.NewPermanentServiceError(domain.StatusTranslating, "translator endpoint not configured", nil)
	}
	if c.APIKey == "" {
		return "", domain.NewPermanentServiceError(domain.StatusTranslating, "translator API key not configured", nil)
	}

	params := url.Values{}
	params.Set("api-version", "3.0")
	params.Set("to", English)
	if sourceLang != "" {
		params.Set("from", sourceLang)
	}

	body, err := json.Marshal([]translateRequest{{Text: text}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.Endpoint+"/translate?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.APIKey)
	if c.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.Region)
	}
	req.Header.Set("X-ClientTraceId", uuid.New().String())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", domain.NewTransientServiceError(domain.StatusTranslating, "translation request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", domain.NewTransientServiceError(domain.StatusTranslating, "failed to read translation response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("translator returned HTTP %d", resp.StatusCode)
		var apiErr translateError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
		}
		if retryableStatus(resp.StatusCode) {
			return "", domain.NewTransientServiceError(domain.StatusTranslating, msg, nil)
		}
		return "", domain.NewPermanentServiceError(domain.StatusTranslating, msg, nil)
	}

	var payload []translateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", domain.NewPermanentServiceError(domain.StatusTranslating, "malformed translation response", err)
	}
	if len(payload) == 0 || len(payload[0].Translations) == 0 {
		return "", domain.NewPermanentServiceError(domain.StatusTranslating, "empty translation response", nil)
	}
	return payload[0].Translations[0].Text, nil
}

// retryableStatus reports whether the HTTP status signals a transient
// condition (throttling, timeouts, server-side failures).
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
