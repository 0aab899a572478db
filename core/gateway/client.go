package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pathChat                = "/api/chat"
	pathAudioChat           = "/api/audio-chat"
	pathSpeechToText        = "/api/speech-to-text"
	pathTextToSpeech        = "/api/text-to-speech"
	pathConversationHistory = "/api/conversation-history"
	pathHealth              = "/api/health"
	pathStatus              = "/api/status"

	audioFormField = "audio"

	// MaxUploadSize mirrors the backend's audio upload limit.
	MaxUploadSize = 10 * 1024 * 1024
)

// Client is a stateless request/response client for the assistant backend.
//
// Every call issues exactly one HTTP request and waits for its terminal
// response. The client does not retry, cache or stream.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every call. Zero (the default) leaves the deadline to the
// caller's context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) endpoint(path string) string {
	return c.baseURL.JoinPath(path).String()
}

type response struct {
	body        []byte
	contentType string
}

// do sends one request and returns the body of a 2xx response. Everything else
// is reported as a *NetworkError.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*response, error) {
	span := trace.SpanFromContext(ctx)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("error creating HTTP request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, recordNetworkError(span, &NetworkError{Op: op, Err: err})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recordNetworkError(span, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetAttributes(attribute.String("response.error", string(respBody)))
		return nil, recordNetworkError(span, &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	return &response{body: respBody, contentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		encoded, err := jsonBody(payload)
		if err != nil {
			return err
		}
		body = encoded
		contentType = "application/json"
	}

	resp, err := c.do(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}

	return decodeJSON(ctx, op, resp, out)
}

func jsonBody(payload any) (io.Reader, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}
	return bytes.NewReader(encoded), nil
}

func decodeJSON(ctx context.Context, op string, resp *response, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return recordNetworkError(trace.SpanFromContext(ctx), &NetworkError{
			Op:  op,
			Err: fmt.Errorf("error unmarshalling JSON: %w", err),
		})
	}
	return nil
}

// multipartAudio builds a form with the clip under the "audio" field, the
// layout the backend's upload endpoints expect.
func multipartAudio(data []byte, mimeType, filename string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, audioFormField, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("error creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("error writing audio to multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing multipart body: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

func recordNetworkError(span trace.Span, err *NetworkError) *NetworkError {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
