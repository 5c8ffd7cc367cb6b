package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/schedule"
)

func pinTime(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = prev })
}

func seedSchedule(t *testing.T, repo *fakeScheduleRepo) *models.Schedule {
	t.Helper()
	rec, err := schedule.ParseRecurrence("daily", "02:00", "UTC", "", 0)
	if err != nil {
		t.Fatalf("ParseRecurrence: %v", err)
	}
	sched := &models.Schedule{
		ConnectionID: uuid.New(),
		Recurrence:   rec,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), sched); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return sched
}

func TestUpdateScheduleRecomputesNextRun(t *testing.T) {
	now := time.Date(2024, 6, 5, 9, 30, 0, 0, time.UTC)
	pinTime(t, now)

	repo := newFakeScheduleRepo()
	sched := seedSchedule(t, repo)
	svc := NewScheduleService(repo, zap.NewNop())

	updated, err := svc.Update(context.Background(), sched.ConnectionID, &UpdateScheduleRequest{
		Frequency: "daily",
		TimeOfDay: "14:00",
		Timezone:  "UTC",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// 14:00 has not passed yet at the pinned 09:30, so the new slot lands
	// today rather than waiting out the old next_run.
	want := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)
	if updated.NextRun == nil || !updated.NextRun.Equal(want) {
		t.Errorf("next_run = %v, want %v", updated.NextRun, want)
	}
}

func TestUpdateScheduleIgnoresStaleLastRun(t *testing.T) {
	now := time.Date(2024, 6, 5, 9, 30, 0, 0, time.UTC)
	pinTime(t, now)

	repo := newFakeScheduleRepo()
	sched := seedSchedule(t, repo)
	lastRun := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	sched.LastRun = &lastRun

	svc := NewScheduleService(repo, zap.NewNop())
	updated, err := svc.Update(context.Background(), sched.ConnectionID, &UpdateScheduleRequest{
		Frequency: "daily",
		TimeOfDay: "14:00",
		Timezone:  "UTC",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Anchoring on the June 1 last_run would put next_run on June 2,
	// already in the past; the update must schedule from now instead.
	want := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)
	if updated.NextRun == nil || !updated.NextRun.Equal(want) {
		t.Errorf("next_run = %v, want %v", updated.NextRun, want)
	}
}

func TestUpdateScheduleDeactivationClearsNextRun(t *testing.T) {
	pinTime(t, time.Date(2024, 6, 5, 9, 30, 0, 0, time.UTC))

	repo := newFakeScheduleRepo()
	sched := seedSchedule(t, repo)
	svc := NewScheduleService(repo, zap.NewNop())

	updated, err := svc.Update(context.Background(), sched.ConnectionID, &UpdateScheduleRequest{
		Frequency: "daily",
		TimeOfDay: "02:00",
		Timezone:  "UTC",
		IsActive:  false,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.NextRun != nil {
		t.Errorf("next_run = %v, want nil for an inactive schedule", updated.NextRun)
	}
}

func TestUpdateScheduleRejectsInvalidRecurrence(t *testing.T) {
	repo := newFakeScheduleRepo()
	sched := seedSchedule(t, repo)
	svc := NewScheduleService(repo, zap.NewNop())

	_, err := svc.Update(context.Background(), sched.ConnectionID, &UpdateScheduleRequest{
		Frequency: "fortnightly",
		IsActive:  true,
	})
	if err == nil {
		t.Fatal("Update accepted an unknown frequency")
	}
	if got := apperrors.CategoryOf(err); got != apperrors.CategoryConfig {
		t.Errorf("category = %q, want config", got)
	}
}

func TestUpdateScheduleNotFound(t *testing.T) {
	svc := NewScheduleService(newFakeScheduleRepo(), zap.NewNop())

	_, err := svc.Update(context.Background(), uuid.New(), &UpdateScheduleRequest{
		Frequency: "daily",
		IsActive:  true,
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Update = %v, want ErrNotFound", err)
	}
}
