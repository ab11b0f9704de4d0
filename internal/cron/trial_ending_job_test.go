package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memGraceRepo struct {
	rows map[uuid.UUID]*models.GracePeriod
}

func (s *memGraceRepo) WithTx(tx *gorm.DB) graceperiods.Repository { return s }

func (s *memGraceRepo) Create(ctx context.Context, gracePeriod *models.GracePeriod) error {
	for _, row := range s.rows {
		if row.BoxID == gracePeriod.BoxID && row.Reason == gracePeriod.Reason && !row.Resolved {
			return errors.New(`duplicate key value violates unique constraint "ux_grace_periods_open_reason"`)
		}
	}
	if gracePeriod.ID == uuid.Nil {
		gracePeriod.ID = uuid.New()
	}
	s.rows[gracePeriod.ID] = gracePeriod
	return nil
}

func (s *memGraceRepo) Update(ctx context.Context, gracePeriod *models.GracePeriod) error {
	s.rows[gracePeriod.ID] = gracePeriod
	return nil
}

func (s *memGraceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.GracePeriod, error) {
	return s.rows[id], nil
}

func (s *memGraceRepo) FindOpen(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, now time.Time) (*models.GracePeriod, error) {
	for _, row := range s.rows {
		if row.BoxID == boxID && row.Reason == reason && !row.Resolved && row.EndsAt.After(now) {
			return row, nil
		}
	}
	return nil, nil
}

func (s *memGraceRepo) FindUnresolved(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason) (*models.GracePeriod, error) {
	for _, row := range s.rows {
		if row.BoxID == boxID && row.Reason == reason && !row.Resolved {
			return row, nil
		}
	}
	return nil, nil
}

func (s *memGraceRepo) ListOpenByBox(ctx context.Context, boxID uuid.UUID, now time.Time) ([]models.GracePeriod, error) {
	return nil, nil
}

type memUsageRepo struct{}

func (memUsageRepo) WithTx(tx *gorm.DB) usageevents.Repository { return memUsageRepo{} }

func (memUsageRepo) Append(ctx context.Context, event *models.UsageEvent) error { return nil }

func (memUsageRepo) ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.UsageEvent, error) {
	return nil, nil
}

func TestTrialEndingOpensWindowOnce(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	trialEnd := sweepNow.Add(3 * 24 * time.Hour)
	box := &models.Box{
		ID:                 uuid.New(),
		Status:             enums.BoxStatusActive,
		SubscriptionStatus: enums.BoxSubscriptionStatusTrial,
		TrialEndsAt:        &trialEnd,
	}
	boxRepo := newSweepBoxRepo(box)

	graceRepo := &memGraceRepo{rows: map[uuid.UUID]*models.GracePeriod{}}
	grace, err := graceperiods.NewManager(graceperiods.ManagerParams{
		Repo:      graceRepo,
		UsageRepo: memUsageRepo{},
		Logger:    logg,
		Now:       func() time.Time { return sweepNow },
	})
	require.NoError(t, err)

	job, err := NewTrialEndingJob(TrialEndingJobParams{
		Logger: logg,
		Boxes:  boxRepo,
		Grace:  grace,
		Now:    func() time.Time { return sweepNow },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	var windows int
	for _, row := range graceRepo.rows {
		if row.BoxID == box.ID && row.Reason == enums.GracePeriodReasonTrialEnding {
			windows++
			assert.Equal(t, enums.GracePeriodSeverityCritical, row.Severity)
		}
	}
	assert.Equal(t, 1, windows)
}
