package models

import "time"

// GCSEvent is the data payload of a Cloud Storage "object finalized" CloudEvent.
type GCSEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        string            `json:"size"`
	TimeCreated time.Time         `json:"timeCreated"`
	Metadata    map[string]string `json:"metadata"`
}

// These structs define the JSON payloads exchanged between the dashboard
// page and the web shell API.

// ErrorResponse is returned by API endpoints that fail before reaching the controller.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SelectionResponse is the output of POST /api/selection.
type SelectionResponse struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}
