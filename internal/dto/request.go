package dto

// PublishActivityRequest represents a publish activity request
type PublishActivityRequest struct {
	MessageID int64  `json:"message_id" example:"1"`
	Email     string `json:"email" binding:"required" example:"jdoe"`
	Zone      int    `json:"zona" example:"2"`
	State     string `json:"estado" binding:"required" example:"Activo"`
	// Timestamp is optional; the publish instant is used when empty.
	Timestamp string `json:"timestamp,omitempty" example:"2024-05-01T10:00:00Z"`
}

// PublishActivitiesBulkRequest represents a publish bulk activity request
type PublishActivitiesBulkRequest struct {
	Activities []PublishActivityRequest `json:"activities" binding:"required,min=1,max=1000,dive"`
}
