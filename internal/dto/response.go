package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"email is required"`
}

// PublishActivityResponse represents an accepted activity
type PublishActivityResponse struct {
	Status    string `json:"status" example:"accepted"`
	Timestamp string `json:"timestamp" example:"2024-05-01T10:00:00Z"`
}

// PublishBulkActivitiesResponse represents a bulk publish outcome
type PublishBulkActivitiesResponse struct {
	Accepted int      `json:"accepted" example:"5"`
	Rejected int      `json:"rejected" example:"0"`
	Errors   []string `json:"errors,omitempty" example:"activity 3: timestamp cannot be in the future"`
}

// HealthResponse reports the state of every dependency checked by /health
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks"`
}
