package server

import "github.com/nvr-ai/go-anomaly/models/postprocess"

// DetectionRequest is the JSON body of a detection request.
type DetectionRequest struct {
	// ImageBase64 is the encoded image, optionally as a data URI.
	ImageBase64 string `json:"image_base64" validate:"required"`
}

// ErrorResponse reports a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FailureResponse reports a detection that could not complete. Anomalies is
// always the empty list.
type FailureResponse struct {
	Anomalies []postprocess.Anomaly `json:"anomalies"`
	Error     string                `json:"error"`
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status string `json:"status"`
}
