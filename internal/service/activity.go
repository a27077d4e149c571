package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/dto"
	"github.com/pasthortown/message-sender/internal/queue"
	"github.com/pasthortown/message-sender/internal/timestamp"
)

// WireTimeFormat is the timestamp layout producers put on the queue.
const WireTimeFormat = "2006-01-02T15:04:05Z"

// ErrInvalidActivity is returned for requests that would produce an unusable message.
var ErrInvalidActivity = errors.New("service: invalid activity")

// activityMessage is the queue body consumed by the ingestion pipeline
type activityMessage struct {
	MessageID int64  `json:"message_id"`
	Email     string `json:"email"`
	Zone      int    `json:"zona"`
	State     string `json:"estado"`
	Timestamp string `json:"timestamp"`
}

// ActivityService publishes activity events to the queue
type ActivityService struct {
	publisher queue.QueuePublisher
	log       *zap.Logger

	now func() time.Time
}

// NewActivityService creates a new activity service
func NewActivityService(publisher queue.QueuePublisher, log *zap.Logger) *ActivityService {
	return &ActivityService{
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// PublishActivity validates one activity and publishes it. It returns the
// timestamp written on the wire.
func (s *ActivityService) PublishActivity(ctx context.Context, req *dto.PublishActivityRequest) (string, error) {
	msg, err := s.buildMessage(req)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal activity: %w", err)
	}

	if err := s.publisher.Publish(ctx, body); err != nil {
		return "", fmt.Errorf("failed to publish activity to queue: %w", err)
	}

	return msg.Timestamp, nil
}

// PublishActivities publishes each activity independently and reports how
// many were accepted along with one error line per rejected activity.
func (s *ActivityService) PublishActivities(ctx context.Context, reqs []dto.PublishActivityRequest) (int, []string, error) {
	accepted := 0
	var errs []string

	for i := range reqs {
		if _, err := s.PublishActivity(ctx, &reqs[i]); err != nil {
			errs = append(errs, fmt.Sprintf("activity %d: %s", i, err.Error()))
			s.log.Warn("Failed to publish activity in bulk",
				zap.Int("index", i),
				zap.String("email", reqs[i].Email),
				zap.Error(err))
			continue
		}
		accepted++
	}

	return accepted, errs, nil
}

func (s *ActivityService) buildMessage(req *dto.PublishActivityRequest) (*activityMessage, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidActivity)
	}

	now := s.now().UTC()
	ts := now
	if req.Timestamp != "" {
		ts = timestamp.Normalize(req.Timestamp)
		if timestamp.IsSentinel(ts) {
			s.log.Warn("Timestamp validation failed: unparseable timestamp",
				zap.String("timestamp", req.Timestamp),
				zap.String("email", email))
			return nil, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidActivity, req.Timestamp)
		}
		if ts.After(now.Add(time.Second)) {
			s.log.Warn("Timestamp validation failed: future timestamp",
				zap.Time("timestamp", ts),
				zap.Time("current_time", now),
				zap.String("email", email))
			return nil, fmt.Errorf("%w: timestamp cannot be in the future: %s", ErrInvalidActivity, ts.Format(WireTimeFormat))
		}
	}

	return &activityMessage{
		MessageID: req.MessageID,
		Email:     email,
		Zone:      req.Zone,
		State:     req.State,
		Timestamp: ts.Format(WireTimeFormat),
	}, nil
}
