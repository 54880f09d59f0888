// Package gemini implements llm.Provider for the Google Generative
// Language API (Gemini generation + embedding models).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pageask/pageask/internal/llm"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel      = "gemini-2.5-flash"
	defaultEmbedModel = "embedding-001"

	// Chunks and queries must be embedded identically or similarity
	// scores are meaningless, so a single task type covers both.
	embedTaskType = "RETRIEVAL_DOCUMENT"
)

// Client talks to the Generative Language REST API.
type Client struct {
	apiKey     string
	model      string
	embedModel string
	baseURL    string
	http       *http.Client
}

// New creates a Gemini provider. Empty model names fall back to the
// defaults the service was built against.
func New(apiKey, model, baseURL, embedModel string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	var contents []content
	for _, m := range prompt.Messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}

	body := map[string]any{
		"contents": contents,
	}
	if prompt.SystemPrompt != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: prompt.SystemPrompt}}}
	}

	genConfig := map[string]any{}
	if opts != nil {
		if opts.MaxTokens != nil {
			genConfig["maxOutputTokens"] = *opts.MaxTokens
		}
		if opts.Temperature != nil {
			genConfig["temperature"] = *opts.Temperature
		}
		if opts.TopP != nil {
			genConfig["topP"] = *opts.TopP
		}
		if len(opts.StopSeqs) > 0 {
			genConfig["stopSequences"] = opts.StopSeqs
		}
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	respBody, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		ModelVersion  string `json:"modelVersion"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	text := ""
	stop := ""
	if len(result.Candidates) > 0 {
		for _, p := range result.Candidates[0].Content.Parts {
			text += p.Text
		}
		stop = result.Candidates[0].FinishReason
	}

	return &llm.Response{
		Content:      text,
		Model:        result.ModelVersion,
		InputTokens:  result.UsageMetadata.PromptTokenCount,
		OutputTokens: result.UsageMetadata.CandidatesTokenCount,
		StopReason:   stop,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	type part struct {
		Text string `json:"text"`
	}
	type embedRequest struct {
		Model    string `json:"model"`
		Content  struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		TaskType string `json:"taskType"`
	}

	requests := make([]embedRequest, len(texts))
	for i, t := range texts {
		requests[i].Model = "models/" + c.embedModel
		requests[i].Content.Parts = []part{{Text: t}}
		requests[i].TaskType = embedTaskType
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.baseURL, c.embedModel)
	respBody, err := c.post(ctx, url, map[string]any{"requests": requests})
	if err != nil {
		return nil, err
	}

	var result struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		embeddings[i] = e.Values
	}
	return embeddings, nil
}

// post issues one API call and returns the raw body. A 429 comes back as
// *llm.QuotaError so callers can classify it without string matching.
func (c *Client) post(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &llm.QuotaError{
			Provider: "gemini",
			Err:      fmt.Errorf("%s: %s", resp.Status, respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: %s: %s", resp.Status, respBody)
	}
	return respBody, nil
}
