package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/Ethaniconic/Swalambh-mvp/pkg/config"
)

// Errors surfaced to the HTTP layer.
var (
	ErrInvalidType = errors.New("invalid file type")
	ErrTooLarge    = errors.New("file too large (max 10MB)")
	ErrEngine      = errors.New("analysis engine unavailable")
	ErrDisabled    = errors.New("explanation service not configured")
)

const maxImageBytes = 10 * 1024 * 1024

var acceptedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
}

// Service relays triage inputs to the external classifier and explainer
// engines. Both are opaque HTTP collaborators; their payloads pass through
// unmodified.
type Service struct {
	client *http.Client
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	timeout := cfg.EngineTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Service{
		client: &http.Client{Timeout: timeout},
		logger: logger,
		cfg:    cfg,
	}
}

// Predict validates the image and forwards it with the symptom text to the
// classifier engine, returning the engine's risk payload verbatim.
func (s Service) Predict(ctx context.Context, src io.Reader, contentType, originalName, symptoms string) (json.RawMessage, error) {
	if _, ok := acceptedTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(src, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxImageBytes {
		return nil, ErrTooLarge
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(originalName))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.WriteField("symptoms", symptoms); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.EngineURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("engine request failed", "error", err)
		return nil, ErrEngine
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrEngine
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("engine returned error", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrEngine, resp.StatusCode)
	}
	if !json.Valid(payload) {
		return nil, ErrEngine
	}
	return json.RawMessage(payload), nil
}

// Explain forwards a triage report to the explainer engine and returns its
// plain-language explanation.
func (s Service) Explain(ctx context.Context, report json.RawMessage) (string, error) {
	if strings.TrimSpace(s.cfg.ExplainURL) == "" {
		return "", ErrDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ExplainURL, bytes.NewReader(report))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ExplainAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.ExplainAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("explainer request failed", "error", err)
		return "", ErrEngine
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("explainer returned error", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: status %d", ErrEngine, resp.StatusCode)
	}
	var parsed struct {
		Explanation string `json:"explanation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", ErrEngine
	}
	return parsed.Explanation, nil
}
