package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brightfield-labs/writing-desk/internal/observability"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// ResponsesModelClient backs orchestrator.ModelClient with the Responses API,
// reusing this package's SSE line parser. It implements only what the
// orchestrator needs: stream-open, stream-resume, and retrieve.
type ResponsesModelClient struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewResponsesModelClient builds a client from OPENAI_API_KEY (required),
// OPENAI_BASE_URL (defaults to api.openai.com), and OPENAI_MODEL (defaults to
// o4-mini-deep-research, the provider's research/letter model).
func NewResponsesModelClient(log *logger.Logger) (*ResponsesModelClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "o4-mini-deep-research"
	}
	return &ResponsesModelClient{
		log:        log.With("component", "ResponsesModelClient"),
		httpClient: &http.Client{Timeout: 0}, // streaming: governed by StreamAdapter's inactivity budget, not a blanket client timeout
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type responsesStreamBody struct {
	Model              string `json:"model"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	StartingAfter      *int64 `json:"starting_after,omitempty"`
	Stream             bool   `json:"stream"`
	Input              []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input,omitempty"`
	Reasoning *struct {
		Effort string `json:"effort"`
	} `json:"reasoning,omitempty"`
}

func (c *ResponsesModelClient) open(ctx context.Context, body responsesStreamBody) (orchestrator.ProviderStream, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/responses", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if m := observability.Current(); m != nil {
			m.ObserveLLMRequest(body.Model, "/v1/responses", "transport_error", time.Since(start), 0, 0)
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if m := observability.Current(); m != nil {
			m.ObserveLLMRequest(body.Model, "/v1/responses", strconv.Itoa(resp.StatusCode), time.Since(start), 0, 0)
		}
		return nil, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	s := newSSEProviderStream(c.log, resp.Body)
	s.start()
	return s, nil
}

// CreateStream opens a fresh Responses API stream for req.
func (c *ResponsesModelClient) CreateStream(ctx context.Context, req orchestrator.StreamRequest) (orchestrator.ProviderStream, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	body := responsesStreamBody{Model: model, Stream: true}
	if req.System != "" {
		body.Input = append(body.Input, struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "system", Content: req.System})
	}
	body.Input = append(body.Input, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: req.Input})
	if effort := orchestrator.ClampEffort(c.log, model, req.Effort); effort != "" {
		body.Reasoning = &struct {
			Effort string `json:"effort"`
		}{Effort: effort}
	}
	return c.open(ctx, body)
}

// ResumeStream reconnects to an in-flight response by id, optionally
// starting after a known sequence-number cursor; an empty cursor resumes
// from the beginning of the response's event log.
func (c *ResponsesModelClient) ResumeStream(ctx context.Context, responseID, cursor string, extras map[string]any) (orchestrator.ProviderStream, error) {
	body := responsesStreamBody{Model: c.model, Stream: true, PreviousResponseID: responseID}
	if cursor != "" {
		if n, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			body.StartingAfter = &n
		}
	}
	return c.open(ctx, body)
}

type retrieveResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage map[string]any `json:"usage,omitempty"`
}

// Retrieve fetches the provider's current view of responseID, for
// BackgroundPoller use once live streaming has given up.
func (c *ResponsesModelClient) Retrieve(ctx context.Context, responseID string) (orchestrator.ProviderResponse, error) {
	url := c.baseURL + "/v1/responses/" + responseID
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return orchestrator.ProviderResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orchestrator.ProviderResponse{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return orchestrator.ProviderResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return orchestrator.ProviderResponse{}, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var rr retrieveResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return orchestrator.ProviderResponse{}, fmt.Errorf("decode retrieve response: %w", err)
	}
	var content strings.Builder
	for _, item := range rr.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" {
					content.WriteString(c.Text)
				}
			}
		}
	}
	out := orchestrator.ProviderResponse{ID: rr.ID, State: rr.Status, Content: content.String(), Usage: rr.Usage}
	if rr.Error != nil {
		out.Error = rr.Error.Message
	}
	return out, nil
}

// sseProviderStream adapts this package's line-oriented streamSSE parser
// into orchestrator.ProviderStream's pull-based Next/Close shape, running
// the parse loop on its own goroutine and forwarding decoded events over a
// channel.
type sseProviderStream struct {
	log  *logger.Logger
	body io.ReadCloser

	events chan orchestrator.ProviderEvent
	errc   chan error
	done   chan struct{}
}

func newSSEProviderStream(log *logger.Logger, body io.ReadCloser) *sseProviderStream {
	return &sseProviderStream{
		log:    log,
		body:   body,
		events: make(chan orchestrator.ProviderEvent, 16),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *sseProviderStream) start() {
	go func() {
		defer close(s.events)
		err := streamSSE(s.body, func(event, data string) error {
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				return nil
			}
			var obj map[string]any
			if err := json.Unmarshal([]byte(data), &obj); err != nil {
				return nil // tolerate malformed lines; not every SSE frame is a JSON payload we care about
			}
			evType := strings.TrimSpace(event)
			if t, ok := obj["type"].(string); ok && t != "" {
				evType = t
			}
			ev := orchestrator.ProviderEvent{Type: evType, Raw: obj}
			if n, ok := obj["sequence_number"].(float64); ok {
				seq := int64(n)
				ev.SequenceNumber = &seq
			}
			if cur, ok := obj["cursor"].(string); ok {
				ev.Cursor = cur
			}
			if resp, ok := obj["response"].(map[string]any); ok {
				if id, ok := resp["id"].(string); ok {
					ev.ResponseID = id
				}
			}
			if id, ok := obj["response_id"].(string); ok && id != "" {
				ev.ResponseID = id
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return fmt.Errorf("stream closed by consumer")
			}
			return nil
		})
		if err != nil {
			select {
			case s.errc <- err:
			default:
			}
		}
	}()
}

func (s *sseProviderStream) Next(ctx context.Context) (orchestrator.ProviderEvent, bool, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			select {
			case err := <-s.errc:
				return orchestrator.ProviderEvent{}, false, err
			default:
				return orchestrator.ProviderEvent{}, false, nil
			}
		}
		return ev, true, nil
	case err := <-s.errc:
		return orchestrator.ProviderEvent{}, false, err
	case <-ctx.Done():
		return orchestrator.ProviderEvent{}, false, ctx.Err()
	case <-s.done:
		return orchestrator.ProviderEvent{}, false, nil
	}
}

func (s *sseProviderStream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.body.Close()
}
