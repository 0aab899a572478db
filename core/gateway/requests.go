package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reply is the assistant's answer to one turn.
type Reply struct {
	Text string
	// AudioURL references the spoken reply, either an http(s) URL or a data URL.
	// Empty when the backend could not synthesize speech.
	AudioURL string
}

func (r *Reply) HasAudio() bool { return r != nil && r.AudioURL != "" }

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url,omitempty"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type historyResponse struct {
	Messages []historyMessage `json:"messages"`
}

type clearHistoryResponse struct {
	Message string `json:"message"`
}

// HealthStatus is the payload of GET /api/health.
type HealthStatus struct {
	Status            string         `json:"status"`
	ConversationCount int            `json:"conversation_count"`
	APIService        map[string]any `json:"api_service,omitempty"`
	Error             string         `json:"error,omitempty"`
}

func (h *HealthStatus) IsHealthy() bool { return h != nil && h.Status == "healthy" }

// ServiceStatus is the payload of GET /api/status.
type ServiceStatus struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Features  map[string]bool   `json:"features"`
	Endpoints map[string]string `json:"endpoints"`
}

// SendText sends a typed user turn and waits for the assistant's reply.
func (c *Client) SendText(ctx context.Context, text string) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "send text turn")
	defer span.End()
	span.SetAttributes(attribute.Int("request.text_length", len(text)))

	var resp chatResponse
	if err := c.doJSON(ctx, "send text", http.MethodPost, pathChat, chatRequest{Text: text}, &resp); err != nil {
		return nil, err
	}

	return toReply(ctx, "send text", resp)
}

// SendAudio sends a recorded user turn. The backend transcribes it, generates
// the reply and synthesizes speech in one round trip.
func (c *Client) SendAudio(ctx context.Context, clip *audio.Clip) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "send audio turn")
	defer span.End()

	resp, err := c.uploadClip(ctx, "send audio", pathAudioChat, clip)
	if err != nil {
		return nil, err
	}

	var body chatResponse
	if err := decodeJSON(ctx, "send audio", resp, &body); err != nil {
		return nil, err
	}

	return toReply(ctx, "send audio", body)
}

// Transcribe converts a clip to text without producing a reply.
func (c *Client) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	ctx, span := tracer.Start(ctx, "transcribe")
	defer span.End()

	resp, err := c.uploadClip(ctx, "transcribe", pathSpeechToText, clip)
	if err != nil {
		return "", err
	}

	var body transcriptionResponse
	if err := decodeJSON(ctx, "transcribe", resp, &body); err != nil {
		return "", err
	}
	return body.Text, nil
}

// Synthesize converts text into a spoken clip.
func (c *Client) Synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		span.RecordError(ErrEmptyText)
		span.SetStatus(codes.Error, ErrEmptyText.Error())
		return nil, ErrEmptyText
	}

	payload, err := jsonBody(chatRequest{Text: text})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "synthesize", http.MethodPost, pathTextToSpeech, payload, "application/json")
	if err != nil {
		return nil, err
	}

	mimeType := resp.contentType
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = audio.MimeTypeMP3
	}
	span.SetAttributes(
		attribute.Int("response.audio_bytes", len(resp.body)),
		attribute.String("response.mime_type", mimeType),
	)

	return &audio.Clip{Data: resp.body, MimeType: mimeType}, nil
}

// FetchHistory returns the backend's conversation history, oldest first.
func (c *Client) FetchHistory(ctx context.Context) ([]conversations.Turn, error) {
	ctx, span := tracer.Start(ctx, "fetch history")
	defer span.End()

	var body historyResponse
	if err := c.doJSON(ctx, "fetch history", http.MethodGet, pathConversationHistory, nil, &body); err != nil {
		return nil, err
	}

	turns := make([]conversations.Turn, 0, len(body.Messages))
	for _, message := range body.Messages {
		role := conversations.TurnRole(strings.ToLower(message.Role))
		if !role.IsValid() {
			logger.WarnContext(ctx, "skipping history message with unknown role", "role", message.Role)
			continue
		}
		turns = append(turns, conversations.Turn{
			Role:      role,
			Content:   message.Content,
			CreatedAt: parseTimestamp(message.Timestamp),
		})
	}
	span.SetAttributes(attribute.Int("response.turns", len(turns)))

	return turns, nil
}

// ClearHistory deletes the backend's conversation history and returns its
// acknowledgement message.
func (c *Client) ClearHistory(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "clear history")
	defer span.End()

	var body clearHistoryResponse
	if err := c.doJSON(ctx, "clear history", http.MethodDelete, pathConversationHistory, nil, &body); err != nil {
		return "", err
	}
	return body.Message, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, span := tracer.Start(ctx, "health")
	defer span.End()

	var body HealthStatus
	if err := c.doJSON(ctx, "health", http.MethodGet, pathHealth, nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	ctx, span := tracer.Start(ctx, "status")
	defer span.End()

	var body ServiceStatus
	if err := c.doJSON(ctx, "status", http.MethodGet, pathStatus, nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *Client) uploadClip(ctx context.Context, op, path string, clip *audio.Clip) (*response, error) {
	if clip.IsEmpty() {
		return nil, ErrEmptyClip
	}
	if len(clip.Data) > MaxUploadSize {
		return nil, ErrClipTooLarge
	}

	body, contentType, err := multipartAudio(clip.Data, clip.MimeType, "recording."+clip.Extension())
	if err != nil {
		return nil, err
	}

	return c.do(ctx, op, http.MethodPost, path, body, contentType)
}

// copyFields maps wire responses onto the exported types.
var copyFields = copier.Copy

func toReply(ctx context.Context, op string, resp chatResponse) (*Reply, error) {
	reply := &Reply{}
	if err := copyFields(reply, &resp); err != nil {
		return nil, recordNetworkError(trace.SpanFromContext(ctx), &NetworkError{
			Op:  op,
			Err: fmt.Errorf("error mapping reply: %w", err),
		})
	}
	return reply, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
