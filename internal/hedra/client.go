package hedra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Video generation statuses reported by the Hedra API.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Client talks to the Hedra video-generation API on behalf of one user.
// Every user brings their own API key, so clients are built per request
// through a Factory.
type Client struct {
	apiKey     string
	baseURL    string
	modelID    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Factory builds a Client bound to the given API key.
type Factory func(apiKey string) *Client

// NewFactory returns a Factory sharing base URL, model ID and timeout.
func NewFactory(baseURL, modelID string, timeout time.Duration, logger zerolog.Logger) Factory {
	httpClient := &http.Client{Timeout: timeout}
	lg := logger.With().Str("client", "Hedra").Logger()
	return func(apiKey string) *Client {
		return &Client{
			apiKey:     apiKey,
			baseURL:    strings.TrimRight(baseURL, "/"),
			modelID:    modelID,
			httpClient: httpClient,
			logger:     lg,
		}
	}
}

// GenerationInput describes one video to generate.
type GenerationInput struct {
	ImageID     string
	AudioID     string
	AspectRatio string
	Resolution  string
	TextPrompt  string
}

// VideoStatus is the state of one generation job.
type VideoStatus struct {
	Status string `json:"status"`
	Files  []struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	} `json:"files"`
	Error string `json:"error"`
}

// BulkItem is one image to process in a bulk request.
type BulkItem struct {
	Filename string
	Data     []byte
}

// BulkRequest generates one video per image, sharing a single audio track.
type BulkRequest struct {
	Images      []BulkItem
	Audio       BulkItem
	AspectRatio string
	Resolution  string
	Prompt      string
}

// BulkResult identifies one accepted generation job.
type BulkResult struct {
	JobID         string
	ImageFilename string
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hedra %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("hedra %s %s: status %d: %s", method, path, resp.StatusCode, string(detail))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode hedra response: %w", err)
		}
	}
	return nil
}

// CreateAsset registers an image or audio asset and returns its ID.
func (c *Client) CreateAsset(ctx context.Context, name, kind string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	payload := map[string]string{"name": name, "type": kind}
	if err := c.doJSON(ctx, http.MethodPost, "/assets", payload, &out); err != nil {
		return "", fmt.Errorf("create %s asset: %w", kind, err)
	}
	return out.ID, nil
}

// UploadAsset uploads file contents to a previously created asset.
func (c *Client) UploadAsset(ctx context.Context, assetID, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/assets/%s/upload", c.baseURL, assetID), &buf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload asset %s: %w", assetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload asset %s: status %d: %s", assetID, resp.StatusCode, string(detail))
	}
	return nil
}

// UploadImage creates and uploads an image asset in one step.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	assetID, err := c.CreateAsset(ctx, filename, "image")
	if err != nil {
		return "", err
	}
	if err := c.UploadAsset(ctx, assetID, filename, data); err != nil {
		return "", err
	}
	return assetID, nil
}

// UploadAudio creates and uploads an audio asset in one step.
func (c *Client) UploadAudio(ctx context.Context, filename string, data []byte) (string, error) {
	assetID, err := c.CreateAsset(ctx, filename, "audio")
	if err != nil {
		return "", err
	}
	if err := c.UploadAsset(ctx, assetID, filename, data); err != nil {
		return "", err
	}
	return assetID, nil
}

// GenerateVideo starts a generation job and returns its ID.
func (c *Client) GenerateVideo(ctx context.Context, in GenerationInput) (string, error) {
	payload := map[string]any{
		"type":              "video",
		"ai_model_id":       c.modelID,
		"start_keyframe_id": in.ImageID,
		"audio_id":          in.AudioID,
		"generated_video_inputs": map[string]string{
			"text_prompt":  in.TextPrompt,
			"resolution":   in.Resolution,
			"aspect_ratio": in.AspectRatio,
		},
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/generations", payload, &out); err != nil {
		return "", fmt.Errorf("generate video: %w", err)
	}
	return out.ID, nil
}

// GetVideoStatus fetches the state of a generation job.
func (c *Client) GetVideoStatus(ctx context.Context, generationID string) (*VideoStatus, error) {
	var out VideoStatus
	if err := c.doJSON(ctx, http.MethodGet, "/generations/"+generationID+"/status", nil, &out); err != nil {
		return nil, fmt.Errorf("get video status: %w", err)
	}
	return &out, nil
}

// DownloadFile fetches a finished video file by its signed URL.
func (c *Client) DownloadFile(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// GenerateBulk uploads the shared audio once, then uploads each image and
// starts a generation for it. A failing image skips that item rather than
// aborting the batch; the caller settles quota against the returned count.
func (c *Client) GenerateBulk(ctx context.Context, req BulkRequest) ([]BulkResult, error) {
	audioID, err := c.UploadAudio(ctx, req.Audio.Filename, req.Audio.Data)
	if err != nil {
		return nil, fmt.Errorf("upload shared audio: %w", err)
	}
	c.logger.Info().Str("audio_id", audioID).Msg("Shared audio uploaded")

	var results []BulkResult
	for _, img := range req.Images {
		imageID, err := c.UploadImage(ctx, img.Filename, img.Data)
		if err != nil {
			c.logger.Error().Err(err).Str("image", img.Filename).Msg("Image upload failed, skipping item")
			continue
		}
		jobID, err := c.GenerateVideo(ctx, GenerationInput{
			ImageID:     imageID,
			AudioID:     audioID,
			AspectRatio: req.AspectRatio,
			Resolution:  req.Resolution,
			TextPrompt:  req.Prompt,
		})
		if err != nil {
			c.logger.Error().Err(err).Str("image", img.Filename).Msg("Generation dispatch failed, skipping item")
			continue
		}
		c.logger.Info().Str("image", img.Filename).Str("job_id", jobID).Msg("Generation started")
		results = append(results, BulkResult{JobID: jobID, ImageFilename: img.Filename})
	}
	return results, nil
}
