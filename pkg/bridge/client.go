package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// GenerateRequest is the payload sent to the server's generate endpoint.
// The field names mirror the server's JSON schema.
type GenerateRequest struct {
	Prompt       string   `json:"prompt,omitempty"`
	System       string   `json:"system,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	EndSession   bool     `json:"endSession,omitempty"`
	ResetContext bool     `json:"resetContext,omitempty"`
	ModelName    string   `json:"modelName,omitempty"`
	ModelURI     string   `json:"modelUri,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
}

// GenerateResponse is the server's reply.
type GenerateResponse struct {
	GeneratedText string `json:"generatedText"`
	Message       string `json:"message"`
	Provider      string `json:"provider"`
	SessionID     string `json:"sessionId"`
	Model         string `json:"model"`
	Transcript    string `json:"transcript"`
}

// ClientOption is a functional option for Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// Client talks to the bridge server's generate endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate sends a JSON request: text turns and session directives.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal request: %w", err)
	}
	return c.post(ctx, "application/json", bytes.NewReader(body))
}

// GenerateAudio sends a multipart request carrying the captured clip
// alongside the request fields.
func (c *Client) GenerateAudio(ctx context.Context, req GenerateRequest, clip Clip) (*GenerateResponse, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"prompt":      req.Prompt,
		"system":      req.System,
		"sessionId":   req.SessionID,
		"modelName":   req.ModelName,
		"modelUri":    req.ModelURI,
		"audioFormat": clip.Format,
	}
	if req.EndSession {
		fields["endSession"] = "true"
	}
	if req.ResetContext {
		fields["resetContext"] = "true"
	}
	if req.Temperature != nil {
		fields["temperature"] = strconv.FormatFloat(*req.Temperature, 'f', -1, 64)
	}
	if req.MaxTokens != nil {
		fields["maxTokens"] = strconv.Itoa(*req.MaxTokens)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("bridge: build form: %w", err)
		}
	}

	part, err := w.CreatePart(audioPartHeader(clip.Format))
	if err != nil {
		return nil, fmt.Errorf("bridge: build form: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("bridge: build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bridge: build form: %w", err)
	}

	return c.post(ctx, w.FormDataContentType(), buf)
}

// audioPartHeader builds the MIME header for the audio file part, carrying
// the clip's container as its content type.
func audioPartHeader(format string) textproto.MIMEHeader {
	contentType := "audio/webm"
	filename := "clip.webm"
	if format == "oggopus" {
		contentType = "audio/ogg"
		filename = "clip.ogg"
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	return h
}

func (c *Client) post(ctx context.Context, contentType string, body io.Reader) (*GenerateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", body)
	if err != nil {
		return nil, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<10)).Decode(&errBody); err == nil && errBody.Error != "" {
			return nil, fmt.Errorf("bridge: server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return nil, fmt.Errorf("bridge: server returned %d", resp.StatusCode)
	}

	out := &GenerateResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("bridge: decode response: %w", err)
	}
	return out, nil
}
