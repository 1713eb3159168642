package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"routechat/internal/media"
	"routechat/internal/models"
	"routechat/internal/route"
	"routechat/internal/session"
	"routechat/internal/specialist"
	"routechat/internal/storage"
	"routechat/internal/worker"
)

// Coordinator routes one inbound message and returns its relayed chunk
// stream. Synchronous errors mean nothing was invoked or recorded.
type Coordinator interface {
	Handle(ctx context.Context, msg models.InboundMessage) (<-chan models.StreamChunk, error)
}

// History reads back committed exchanges for listing endpoints.
type History interface {
	ListMessages(ctx context.Context, key session.Key) ([]storage.StoredMessage, error)
	ListConversations(ctx context.Context, userID string) ([]storage.Conversation, error)
}

// Handler wires HTTP routes to the coordinator, history store, and media store.
type Handler struct {
	coordinator   Coordinator
	history       History
	media         media.Store
	streamTimeout time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(coordinator Coordinator, history History, mediaStore media.Store, streamTimeout time.Duration) *Handler {
	if streamTimeout <= 0 {
		streamTimeout = 2 * time.Minute
	}
	return &Handler{
		coordinator:   coordinator,
		history:       history,
		media:         mediaStore,
		streamTimeout: streamTimeout,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	api := engine.Group("/api")
	api.GET("/healthz", h.healthz)
	api.POST("/chat", h.chat)
	api.POST("/uploads", h.uploadMedia)
	api.GET("/conversations/:user_id", h.listConversations)
	api.GET("/conversations/:user_id/:conversation_id/messages", h.listMessages)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusForError maps a synchronous routing failure to an HTTP status. These
// all happen before any stream started, so a plain JSON error is safe.
func statusForError(err error) int {
	var ue *specialist.UpstreamError
	switch {
	case errors.Is(err, models.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedMediaType):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, route.ErrUnroutableTarget):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrPoolBusy):
		return http.StatusTooManyRequests
	case errors.As(err, &ue):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) chat(c *gin.Context) {
	var msg models.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()

	chunks, err := h.coordinator.Handle(streamCtx, msg)
	if err != nil {
		status := statusForError(err)
		body := gin.H{"error": err.Error()}
		if status == http.StatusTooManyRequests {
			body = gin.H{"error": "server is busy, please retry"}
		}
		c.JSON(status, body)
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{
		"user_id":         msg.UserID,
		"conversation_id": msg.ConversationID,
		"parts":           len(msg.Parts),
	}); err != nil {
		return
	}

	for chunk := range chunks {
		if !chunk.Terminal() {
			if err := sendEvent("stream", gin.H{"content": chunk.Delta}); err != nil {
				return
			}
			continue
		}
		switch chunk.Outcome {
		case models.OutcomeComplete:
			_ = sendEvent("done", gin.H{"outcome": chunk.Outcome})
		case models.OutcomeCancelled:
			_ = sendEvent("done", gin.H{"outcome": chunk.Outcome})
		case models.OutcomeError:
			payload := gin.H{"message": chunk.Err.Error()}
			var ue *specialist.UpstreamError
			if errors.As(chunk.Err, &ue) {
				payload["reason"] = ue.Reason
				payload["retryable"] = ue.Retryable
			}
			_ = sendEvent("error", payload)
		}
		return
	}
}

func (h *Handler) uploadMedia(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	userID := strings.TrimSpace(c.PostForm("user_id"))
	conversationID := strings.TrimSpace(c.PostForm("conversation_id"))
	if userID == "" || conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and conversation_id are required"})
		return
	}
	// These become storage path components; never let them carry traversal.
	if !safePathComponent(userID) || !safePathComponent(conversationID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id or conversation_id"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if !safePathComponent(filepath.Base(file.Filename)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}
	if file.Size > models.MaxMediaBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	kind, ok := media.KindForMIME(contentType)
	if !ok {
		// Sniffing cannot identify every container; fall back to the
		// declared type before rejecting.
		contentType = file.Header.Get("Content-Type")
		kind, ok = media.KindForMIME(contentType)
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	name := filepath.Join(userID, conversationID, filepath.Base(file.Filename))
	part := models.MediaPart(kind, name, contentType, file.Size)
	if err := part.Validate(); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer src.Close()

	ref, err := h.media.Save(c.Request.Context(), name, src, file.Size, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ref":       ref,
		"kind":      kind,
		"mime":      contentType,
		"size":      file.Size,
		"file_name": filepath.Base(file.Filename),
	})
}

// safePathComponent accepts only names that stay a single path element.
func safePathComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

func (h *Handler) listMessages(c *gin.Context) {
	key := session.Key{
		UserID:         c.Param("user_id"),
		ConversationID: c.Param("conversation_id"),
	}
	if key.UserID == "" || key.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and conversation_id are required"})
		return
	}
	messages, err := h.history.ListMessages(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]storage.StoredMessage, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) listConversations(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	conversations, err := h.history.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conversations == nil {
		conversations = make([]storage.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}
