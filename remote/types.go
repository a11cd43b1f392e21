package remote

import (
	"encoding/base64"
	"fmt"
	"os"
)

// Task statuses reported by GET /status/{uid}.
const (
	StatusProcessing = "processing"
	StatusTexturing  = "texturing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Params are the generation options passed verbatim to the service.
type Params struct {
	RemoveBackground  bool    `json:"remove_background" yaml:"remove_background"`
	Texture           bool    `json:"texture" yaml:"texture"`
	Seed              int     `json:"seed" yaml:"seed"`
	OctreeResolution  int     `json:"octree_resolution" yaml:"octree_resolution"`
	NumInferenceSteps int     `json:"num_inference_steps" yaml:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale" yaml:"guidance_scale"`
	NumChunks         int     `json:"num_chunks" yaml:"num_chunks"`
	FaceCount         int     `json:"face_count" yaml:"face_count"`
}

// DefaultParams returns the server's documented defaults.
func DefaultParams() Params {
	return Params{
		RemoveBackground:  true,
		Texture:           false,
		Seed:              1234,
		OctreeResolution:  256,
		NumInferenceSteps: 5,
		GuidanceScale:     5.0,
		NumChunks:         8000,
		FaceCount:         40000,
	}
}

// GenerationRequest is the body of POST /send and POST /generate.
type GenerationRequest struct {
	// Image is plain base64, not a data URL.
	Image string `json:"image"`
	Params
}

// NewGenerationRequest encodes image bytes into a request.
func NewGenerationRequest(image []byte, params Params) *GenerationRequest {
	return &GenerationRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Params: params,
	}
}

// RequestFromImageFile reads an image file into a request.
func RequestFromImageFile(path string, params Params) (*GenerationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return NewGenerationRequest(data, params), nil
}

// SubmitResponse is returned by POST /send.
type SubmitResponse struct {
	UID string `json:"uid"`
}

// StatusResponse is returned by GET /status/{uid}.
type StatusResponse struct {
	Status      string `json:"status"`
	ModelBase64 string `json:"model_base64,omitempty"`
	Message     string `json:"message,omitempty"`
}

// HasModel reports whether a payload is attached.
func (s *StatusResponse) HasModel() bool {
	return s.ModelBase64 != ""
}

// DecodeModel decodes the base64 model payload.
func (s *StatusResponse) DecodeModel() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s.ModelBase64)
	if err != nil {
		return nil, fmt.Errorf("decode model payload: %w", err)
	}
	return data, nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
}

// Healthy reports whether the server declared itself healthy.
func (h *HealthResponse) Healthy() bool {
	return h.Status == "healthy"
}
