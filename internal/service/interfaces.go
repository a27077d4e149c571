package service

import (
	"context"

	"github.com/pasthortown/message-sender/internal/dto"
)

// ActivityServicer defines the interface for activity publishing
type ActivityServicer interface {
	PublishActivity(ctx context.Context, req *dto.PublishActivityRequest) (string, error)
	PublishActivities(ctx context.Context, reqs []dto.PublishActivityRequest) (int, []string, error)
}
