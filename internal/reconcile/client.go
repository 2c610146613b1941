package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/Boon40/PlantMore/internal/models"
)

// Client is the HTTP implementation of the API surface the reconciliation
// loop consumes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{}}
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.do(ctx, http.MethodGet, "/api/chats", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/api/chats", map[string]string{"title": title}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameConversation(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/chats/%d", id), map[string]string{"title": title}, http.StatusOK, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetFavourite(ctx context.Context, id int64, favourite bool) (*models.Conversation, error) {
	method := http.MethodPost
	if !favourite {
		method = http.MethodDelete
	}
	var out models.Conversation
	err := c.do(ctx, method, fmt.Sprintf("/api/chats/%d/favorite", id), nil, http.StatusOK, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d", id), nil, http.StatusNoContent, nil)
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, http.MethodGet, "/api/messages?conversation_id="+strconv.FormatInt(conversationID, 10), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) CreateMessage(ctx context.Context, conversationID int64, text string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/api/messages",
		map[string]any{"conversation_id": conversationID, "text": text}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteImage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/images/%d", id), nil, http.StatusNoContent, nil)
}

func (c *Client) ClassifyImage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/images/%d/classify", id), nil, http.StatusAccepted, nil)
}

// UploadImage sends the file as multipart form data, optionally asking the
// server to classify it in the background.
func (c *Client) UploadImage(ctx context.Context, messageID int64, filename string, data []byte, autoClassify bool) (*models.Image, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("message_id", strconv.FormatInt(messageID, 10)); err != nil {
		return nil, err
	}
	if autoClassify {
		if err := mw.WriteField("auto_classify", "true"); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/images/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}
	var out models.Image
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, wantStatus int, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, body, wantStatus, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
		return fmt.Errorf("api: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %d", resp.StatusCode)
}
