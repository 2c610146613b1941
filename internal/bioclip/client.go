package bioclip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Boon40/PlantMore/internal/models"
)

const (
	DefaultClassifyTimeout = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
)

// Client talks to the BioClip classification service. It holds no state
// between calls; every failure mode is folded into the returned result so
// callers never have to distinguish transport errors from service errors.
type Client struct {
	baseURL         string
	classifyTimeout time.Duration
	healthTimeout   time.Duration
	httpClient      *http.Client
}

type Health struct {
	Available   bool   `json:"available"`
	ModelLoaded bool   `json:"model_loaded"`
	Error       string `json:"error,omitempty"`
}

func NewClient(baseURL string, classifyTimeout, healthTimeout time.Duration) *Client {
	if classifyTimeout <= 0 {
		classifyTimeout = DefaultClassifyTimeout
	}
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthTimeout
	}
	return &Client{
		baseURL:         baseURL,
		classifyTimeout: classifyTimeout,
		healthTimeout:   healthTimeout,
		httpClient:      &http.Client{},
	}
}

// Classify asks the service to identify the image at imagePath, which must
// be an absolute path readable by the service. The call is bounded by the
// classify timeout; the in-flight request is cancelled when it fires.
func (c *Client) Classify(ctx context.Context, imagePath string) models.ClassificationResult {
	ctx, cancel := context.WithTimeout(ctx, c.classifyTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"image_path": imagePath})
	if err != nil {
		return failure(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return failure(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure("classification timeout - service may be busy or unavailable")
		}
		return failure(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error != "" {
			return failure(errBody.Error)
		}
		return failure(fmt.Sprintf("service returned %d", resp.StatusCode))
	}

	var wire struct {
		Success    bool    `json:"success"`
		Prediction string  `json:"prediction"`
		Confidence float64 `json:"confidence"`
		TopK       []struct {
			Label      string  `json:"label"`
			Plant      string  `json:"plant"` // older service builds use this key
			Confidence float64 `json:"confidence"`
		} `json:"top_k"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return failure(fmt.Sprintf("decoding response: %v", err))
	}

	result := models.ClassificationResult{
		Success:    wire.Success,
		Prediction: wire.Prediction,
		Confidence: wire.Confidence,
		Error:      wire.Error,
	}
	for _, e := range wire.TopK {
		label := e.Label
		if label == "" {
			label = e.Plant
		}
		result.TopK = append(result.TopK, models.TopKEntry{Label: label, Confidence: e.Confidence})
	}
	return result
}

// CheckHealth probes service liveness with the shorter health timeout.
func (c *Client) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{Error: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Health{Error: "health check timeout"}
		}
		return Health{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Error: fmt.Sprintf("service returned %d", resp.StatusCode)}
	}

	var wire struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Health{Error: fmt.Sprintf("decoding response: %v", err)}
	}
	return Health{
		Available:   wire.Status == "ok",
		ModelLoaded: wire.ModelLoaded,
		Error:       wire.Error,
	}
}

func failure(msg string) models.ClassificationResult {
	return models.ClassificationResult{Success: false, Error: msg}
}
