// Package backendstub is an in-process stand-in for the assistant backend. It
// serves the same HTTP surface with canned behaviour: replies echo the user,
// transcriptions describe the upload and speech is a short tone.
//
// It exists for offline runs of the client and for end-to-end tests.
package backendstub

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/audio/encoding"
)

const (
	maxUploadSize   = 10 * 1024 * 1024
	timestampLayout = "2006-01-02T15:04:05.000000"
	serviceVersion  = "1.0.0"
)

type Option func(*Server)

// WithoutSpeech makes chat replies omit audio_url, as the real backend does
// when synthesis fails.
func WithoutSpeech() Option {
	return func(s *Server) { s.speech = false }
}

// WithReply replaces the echo reply.
func WithReply(reply func(text string) string) Option {
	return func(s *Server) {
		if reply != nil {
			s.reply = reply
		}
	}
}

// WithLatency delays every chat and audio-chat reply.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

type Server struct {
	app     *fiber.App
	speech  bool
	reply   func(text string) string
	latency time.Duration

	mu      sync.Mutex
	history []message
}

type message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type textRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Text     string  `json:"text"`
	AudioURL *string `json:"audio_url"`
}

func New(opts ...Option) *Server {
	s := &Server{
		speech: true,
		reply:  func(text string) string { return "You said: " + text },
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "synapse-voice backend stub",
		BodyLimit:             maxUploadSize + 1024*1024,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

// App exposes the fiber app, mostly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) routes() {
	api := s.app.Group("/api")
	api.Post("/chat", s.chat)
	api.Post("/audio-chat", s.audioChat)
	api.Post("/speech-to-text", s.speechToText)
	api.Post("/text-to-speech", s.textToSpeech)
	api.Get("/conversation-history", s.conversationHistory)
	api.Delete("/conversation-history", s.clearConversationHistory)
	api.Get("/health", s.health)
	api.Get("/status", s.status)
}

func (s *Server) chat(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid JSON body")
	}
	if req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Text cannot be empty")
	}

	return c.JSON(s.respond(c, req.Text))
}

func (s *Server) audioChat(c *fiber.Ctx) error {
	data, err := readUpload(c)
	if err != nil {
		return err
	}

	return c.JSON(s.respond(c, describeUpload(data)))
}

func (s *Server) speechToText(c *fiber.Ctx) error {
	data, err := readUpload(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"text": describeUpload(data)})
}

func (s *Server) textToSpeech(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid JSON body")
	}
	if req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Text cannot be empty")
	}

	clip, err := speak(req.Text)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Error generating speech: %v", err))
	}

	c.Set(fiber.HeaderContentType, clip.MimeType)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename=speech.wav")
	return c.Send(clip.Data)
}

func (s *Server) conversationHistory(c *fiber.Ctx) error {
	s.mu.Lock()
	messages := append([]message{}, s.history...)
	s.mu.Unlock()

	return c.JSON(fiber.Map{"messages": messages})
}

func (s *Server) clearConversationHistory(c *fiber.Ctx) error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()

	return c.JSON(fiber.Map{"message": "Conversation history cleared"})
}

func (s *Server) health(c *fiber.Ctx) error {
	s.mu.Lock()
	count := len(s.history)
	s.mu.Unlock()

	return c.JSON(fiber.Map{
		"status":             "healthy",
		"conversation_count": count,
		"api_service":        fiber.Map{"stub": true, "speech": s.speech},
	})
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "Synapse Trader API (stub)",
		"version": serviceVersion,
		"status":  "running",
		"features": fiber.Map{
			"chat":           true,
			"audio_chat":     true,
			"speech_to_text": true,
			"text_to_speech": true,
		},
		"endpoints": fiber.Map{
			"chat":                 "/api/chat",
			"audio_chat":           "/api/audio-chat",
			"speech_to_text":       "/api/speech-to-text",
			"text_to_speech":       "/api/text-to-speech",
			"conversation_history": "/api/conversation-history",
			"health":               "/api/health",
		},
	})
}

func (s *Server) respond(c *fiber.Ctx, userText string) chatResponse {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-c.Context().Done():
		}
	}

	replyText := s.reply(userText)
	s.record(userText, replyText)

	resp := chatResponse{Text: replyText}
	if s.speech {
		if clip, err := speak(replyText); err == nil {
			dataURL := "data:" + clip.MimeType + ";base64," + base64.StdEncoding.EncodeToString(clip.Data)
			resp.AudioURL = &dataURL
		}
	}
	return resp
}

func (s *Server) record(userText, replyText string) {
	now := time.Now().Format(timestampLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		message{Role: "user", Content: userText, Timestamp: now},
		message{Role: "assistant", Content: replyText, Timestamp: now},
	)
}

func readUpload(c *fiber.Ctx) ([]byte, error) {
	header, err := c.FormFile("audio")
	if err != nil {
		return nil, fiber.NewError(fiber.StatusUnprocessableEntity, "audio file is required")
	}
	if header.Size > maxUploadSize {
		return nil, fiber.NewError(fiber.StatusBadRequest, "File too large (max 10MB)")
	}

	file, err := header.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "could not read audio file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "could not read audio file")
	}
	if len(data) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Empty audio file")
	}
	return data, nil
}

func describeUpload(data []byte) string {
	clip := &audio.Clip{Data: data}
	format := encoding.DetectFormat(clip)
	if format == "" {
		format = "audio"
	}
	return fmt.Sprintf("voice message (%s, %d bytes)", format, len(data))
}

// speak renders a tone whose length follows the text, 40ms per character
// capped at two seconds.
func speak(text string) (*audio.Clip, error) {
	info := audio.GetDefaultEncodingInfo()
	duration := min(time.Duration(len(text))*40*time.Millisecond, 2*time.Second)
	samples := int(duration.Seconds() * float64(info.SampleRate))

	pcm := make([]byte, samples*2)
	for i := range samples {
		fade := 1 - float64(i)/float64(samples)
		v := int16(4000 * fade * math.Sin(2*math.Pi*440*float64(i)/float64(info.SampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	return encoding.EncodeWAV(pcm, info)
}

// errorHandler renders errors as {"detail": "..."} like the real backend.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}
