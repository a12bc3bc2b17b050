package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultEngineURL = "http://localhost:8000"

// Client talks to the detection engine over HTTP.
type Client struct {
	baseURL string
	maxSide int
	client  *http.Client
}

// NewClient creates a new engine client. Frames whose longer side exceeds
// maxSide are downscaled before upload; zero disables downscaling.
func NewClient(baseURL string, maxSide int) *Client {
	if baseURL == "" {
		baseURL = defaultEngineURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		maxSide: maxSide,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// loadModelRequest is the body of POST /models/load
type loadModelRequest struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// faceDetection is a single face as returned by the engine
type faceDetection struct {
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64      `json:"det_score"`
	Landmarks [][2]float64 `json:"landmarks"`
	Embedding []float32    `json:"embedding"`
}

// detectResponse represents the response from the detect endpoint
type detectResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
}

// Ready checks the engine health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	_, err = c.do(req)
	return err
}

// LoadModel asks the engine to load a model's weights.
func (c *Client) LoadModel(ctx context.Context, model Model) error {
	reqBody, err := json.Marshal(loadModelRequest{Name: model.Name, URI: model.URI})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/load", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("could not load model %s: %w", model.Name, err)
	}
	return nil
}

// Detect uploads a frame and returns the faces found in it, in frame coordinates.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	upload, factor, err := prepareFrame(frame, c.maxSide)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect", upload)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	detections := make([]Detection, 0, len(resp.Faces))
	for i, f := range resp.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, expected 4", i, len(f.BBox))
		}
		d := Detection{
			Box:        Box{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Score:      f.DetScore,
			Descriptor: f.Embedding,
		}
		for _, p := range f.Landmarks {
			d.Landmarks = append(d.Landmarks, Point{X: p[0], Y: p[1]})
		}
		detections = append(detections, scaleDetection(d, factor))
	}
	return detections, nil
}

// postMultipartImage posts the frame as a multipart "file" part.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
