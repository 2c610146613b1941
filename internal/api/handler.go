package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/blob"
	"github.com/Boon40/PlantMore/internal/classify"
	"github.com/Boon40/PlantMore/internal/db"
	"github.com/Boon40/PlantMore/internal/models"
)

// Enqueuer accepts classification jobs for background processing.
type Enqueuer interface {
	Enqueue(job classify.Job) bool
}

// Replier generates the assistant answer for the text chat endpoint.
type Replier interface {
	Reply(ctx context.Context, history []models.Message, content string) (string, error)
}

type Handler struct {
	db             *db.Database
	blobs          *blob.Store
	classifier     Enqueuer
	llm            Replier
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewHandler(database *db.Database, blobs *blob.Store, classifier Enqueuer, llm Replier, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		db:             database,
		blobs:          blobs,
		classifier:     classifier,
		llm:            llm,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes builds the full API surface.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /api/chats", h.listChats)
	mux.HandleFunc("POST /api/chats", h.createChat)
	mux.HandleFunc("GET /api/chats/{id}", h.getChat)
	mux.HandleFunc("PATCH /api/chats/{id}", h.renameChat)
	mux.HandleFunc("DELETE /api/chats/{id}", h.deleteChat)
	mux.HandleFunc("POST /api/chats/{id}/favorite", h.setFavourite(true))
	mux.HandleFunc("DELETE /api/chats/{id}/favorite", h.setFavourite(false))

	mux.HandleFunc("POST /api/messages", h.createMessage)
	mux.HandleFunc("GET /api/messages", h.listMessages)
	mux.HandleFunc("DELETE /api/messages/{id}", h.deleteMessage)

	mux.HandleFunc("POST /api/images", h.createImage)
	mux.HandleFunc("GET /api/images", h.listImages)
	mux.HandleFunc("DELETE /api/images/{id}", h.deleteImage)
	mux.HandleFunc("POST /api/images/upload", h.uploadImage)
	mux.HandleFunc("POST /api/images/{id}/classify", h.classifyImage)

	mux.HandleFunc("POST /api/chat", h.chat)

	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(h.blobs.Root()))))

	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.db.ListConversations(r.Context())
	if err != nil {
		h.storeError(w, err, "listing conversations")
		return
	}
	h.writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	chat, err := h.db.CreateConversation(r.Context(), req.Title)
	if err != nil {
		h.storeError(w, err, "creating conversation")
		return
	}
	h.writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) getChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	chat, err := h.db.GetConversation(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "getting conversation")
		return
	}
	h.writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) renameChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	chat, err := h.db.RenameConversation(r.Context(), id, req.Title)
	if err != nil {
		h.storeError(w, err, "renaming conversation")
		return
	}
	h.writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) setFavourite(favourite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.idParam(w, r)
		if !ok {
			return
		}
		chat, err := h.db.SetFavourite(r.Context(), id, favourite)
		if err != nil {
			h.storeError(w, err, "updating favourite")
			return
		}
		h.writeJSON(w, http.StatusOK, chat)
	}
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	urls, err := h.db.DeleteConversation(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "deleting conversation")
		return
	}
	h.deleteBlobs(urls)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID int64  `json:"conversation_id"`
		Text           string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == 0 {
		h.writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if _, err := h.db.GetConversation(r.Context(), req.ConversationID); err != nil {
		h.storeError(w, err, "resolving conversation")
		return
	}

	// image-only messages carry no caption
	var text *string
	if req.Text != "" {
		text = &req.Text
	}
	msg, err := h.db.CreateMessage(r.Context(), req.ConversationID, models.RoleUser, text)
	if err != nil {
		h.storeError(w, err, "creating message")
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	messages, err := h.db.ListMessagesByConversation(r.Context(), convID)
	if err != nil {
		h.storeError(w, err, "listing messages")
		return
	}
	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	urls, err := h.db.DeleteMessage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "deleting message")
		return
	}
	h.deleteBlobs(urls)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID int64  `json:"message_id"`
		ImageURL  string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == 0 || req.ImageURL == "" {
		h.writeError(w, http.StatusBadRequest, "message_id and image_url are required")
		return
	}
	if _, err := h.db.GetMessage(r.Context(), req.MessageID); err != nil {
		h.storeError(w, err, "resolving message")
		return
	}

	img, err := h.db.CreateImage(r.Context(), req.MessageID, req.ImageURL)
	if err != nil {
		h.storeError(w, err, "creating image")
		return
	}
	h.writeJSON(w, http.StatusCreated, img)
}

func (h *Handler) listImages(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(r.URL.Query().Get("message_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	images, err := h.db.ListImagesByMessage(r.Context(), messageID)
	if err != nil {
		h.storeError(w, err, "listing images")
		return
	}
	h.writeJSON(w, http.StatusOK, images)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	url, err := h.db.DeleteImage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "deleting image")
		return
	}
	h.deleteBlobs([]string{url})
	w.WriteHeader(http.StatusNoContent)
}

// uploadImage stores the file, records the image row, and optionally hands
// the image to the background classifier. The response is written before
// any classification work happens; the client learns of the reply by
// polling the message list.
func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	messageID, err := strconv.ParseInt(r.FormValue("message_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	msg, err := h.db.GetMessage(r.Context(), messageID)
	if err != nil {
		h.storeError(w, err, "resolving message")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading file")
		return
	}

	url, err := h.blobs.Save(data, header.Filename)
	if err != nil {
		h.logger.Error("saving blob", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	img, err := h.db.CreateImage(r.Context(), messageID, url)
	if err != nil {
		// keep stores consistent: the row never existed, drop the file
		if delErr := h.blobs.Delete(url); delErr != nil {
			h.logger.Error("removing orphan blob", zap.Error(delErr))
		}
		h.storeError(w, err, "creating image")
		return
	}

	if autoClassify(r.FormValue("auto_classify")) {
		if path, err := h.blobs.Path(url); err == nil {
			h.classifier.Enqueue(classify.Job{ConversationID: msg.ConvID, ImagePath: path})
		}
	}

	h.writeJSON(w, http.StatusCreated, img)
}

func (h *Handler) classifyImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	img, err := h.db.GetImage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "getting image")
		return
	}
	msg, err := h.db.GetMessage(r.Context(), img.MessageID)
	if err != nil {
		h.storeError(w, err, "resolving message")
		return
	}
	path, err := h.blobs.Path(img.ImageURL)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "image file not found")
		return
	}

	h.classifier.Enqueue(classify.Job{ConversationID: msg.ConvID, ImagePath: path})
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID int64  `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == 0 || req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "conversation_id and content are required")
		return
	}

	history, err := h.db.ListMessagesByConversation(r.Context(), req.ConversationID)
	if err != nil {
		h.storeError(w, err, "listing messages")
		return
	}

	if _, err := h.db.CreateMessage(r.Context(), req.ConversationID, models.RoleUser, &req.Content); err != nil {
		h.storeError(w, err, "saving user message")
		return
	}

	replyText, err := h.llm.Reply(r.Context(), history, req.Content)
	if err != nil {
		h.logger.Error("generating chat reply", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reply, err := h.db.CreateMessage(r.Context(), req.ConversationID, models.RoleAssistant, &replyText)
	if err != nil {
		h.storeError(w, err, "saving reply")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reply": replyText, "message": reply})
}

// deleteBlobs removes files after a committed row delete. Failures leave
// orphan files on disk; they are logged and never retried.
func (h *Handler) deleteBlobs(urls []string) {
	var errs error
	for _, url := range urls {
		if err := h.blobs.Delete(url); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		h.logger.Error("cleaning up blobs after delete", zap.Error(errs))
	}
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) storeError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error(action, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encoding response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("encoding error response", zap.Error(err))
	}
}

func autoClassify(v string) bool {
	return v == "true" || v == "1"
}
