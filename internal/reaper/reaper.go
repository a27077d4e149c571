// Package reaper removes identities whose latest recorded activity is older
// than the retention window.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/repository"
)

// Config configures the inactivity reaper
type Config struct {
	RetentionMonths int
	// DryRun computes candidates without deleting anything.
	DryRun bool
}

// Result summarizes one reaper pass
type Result struct {
	StartedAt  time.Time `json:"started_at"`
	Cutoff     time.Time `json:"cutoff"`
	Scanned    int       `json:"scanned"`
	Candidates []string  `json:"candidates"`
	Deleted    int64     `json:"deleted"`
	DryRun     bool      `json:"dry_run"`
}

// InactivityReaper deletes identity rows of users inactive past the retention window
type InactivityReaper struct {
	records    repository.RecordRepository
	identities repository.IdentityRepository
	config     Config
	log        *zap.Logger

	now func() time.Time
}

// NewInactivityReaper creates a new inactivity reaper
func NewInactivityReaper(
	records repository.RecordRepository,
	identities repository.IdentityRepository,
	config Config,
	log *zap.Logger,
) *InactivityReaper {
	return &InactivityReaper{
		records:    records,
		identities: identities,
		config:     config,
		log:        log,
		now:        time.Now,
	}
}

// Cutoff returns the instant before which an identity counts as inactive:
// now minus RetentionMonths calendar months. A day that does not exist in
// the target month is clamped to its last day (June 30 minus four months is
// February 29 in a leap year), and the time of day is kept.
func (r *InactivityReaper) Cutoff(now time.Time) time.Time {
	now = now.UTC()
	year, month, day := now.Date()

	target := time.Date(year, month-time.Month(r.config.RetentionMonths), 1, 0, 0, 0, 0, time.UTC)
	ty, tm, _ := target.Date()
	lastDay := time.Date(ty, tm+1, 0, 0, 0, 0, 0, time.UTC).Day()

	return time.Date(ty, tm, min(day, lastDay),
		now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), time.UTC)
}

// Run scans last activity once and deletes all stale identities in a single
// call. Identities with no activity records are never candidates.
func (r *InactivityReaper) Run(ctx context.Context) (*Result, error) {
	now := r.now().UTC()
	result := &Result{
		StartedAt: now,
		Cutoff:    r.Cutoff(now),
		DryRun:    r.config.DryRun,
	}

	activity, err := r.records.LastActivity(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to compute last activity: %w", err)
	}
	result.Scanned = len(activity)

	for _, a := range activity {
		if a.LastActivity.Before(result.Cutoff) {
			result.Candidates = append(result.Candidates, a.Email)
		}
	}

	if len(result.Candidates) == 0 {
		r.log.Debug("No inactive identities",
			zap.Int("scanned", result.Scanned),
			zap.Time("cutoff", result.Cutoff))
		return result, nil
	}

	if r.config.DryRun {
		r.log.Info("Dry run, skipping delete",
			zap.Int("candidates", len(result.Candidates)),
			zap.Strings("emails", result.Candidates),
			zap.Time("cutoff", result.Cutoff))
		return result, nil
	}

	deleted, err := r.identities.DeleteByIdentity(ctx, result.Candidates)
	if err != nil {
		r.log.Error("Failed to delete inactive identities",
			zap.Int("candidates", len(result.Candidates)),
			zap.Error(err))
		return result, err
	}
	result.Deleted = deleted

	r.log.Info("Deleted inactive identities",
		zap.Int("scanned", result.Scanned),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int64("rows", deleted),
		zap.Time("cutoff", result.Cutoff))

	return result, nil
}
