package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTrigger(t *testing.T, s *Store, userID string, fireAt time.Time) Trigger {
	t.Helper()
	tr, err := s.CreateTrigger(context.Background(), Trigger{
		UserID: userID, Title: "Stretch", Body: "It's time!", Kind: ScheduleDaily, Hour: 9, Minute: 0, FireAt: fireAt,
	})
	if err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	return tr
}

func TestClaimDueTriggers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := createTrigger(t, s, "u1", now.Add(-time.Minute))
	createTrigger(t, s, "u1", now.Add(time.Hour))

	got, err := s.ClaimDueTriggers(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("claimed = %+v, want only %s", got, due.ID)
	}
	if got[0].Status != TriggerDelivering {
		t.Errorf("status = %q, want %q", got[0].Status, TriggerDelivering)
	}

	again, err := s.ClaimDueTriggers(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueTriggers again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed twice: %+v", again)
	}
}

func TestClaimDueTriggersLimit(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		createTrigger(t, s, "u1", now.Add(-time.Duration(i+1)*time.Minute))
	}

	got, err := s.ClaimDueTriggers(context.Background(), now, 2)
	if err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].FireAt.Before(got[1].FireAt) {
		t.Errorf("expected oldest first: %v, %v", got[0].FireAt, got[1].FireAt)
	}
}

func TestClaimSkipsCancelled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := createTrigger(t, s, "u1", now.Add(-time.Minute))
	if err := s.CancelTrigger(ctx, "u1", tr.ID); err != nil {
		t.Fatalf("CancelTrigger: %v", err)
	}
	got, err := s.ClaimDueTriggers(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("claimed cancelled trigger: %+v", got)
	}
}

func TestCancelUnknownTrigger(t *testing.T) {
	s := openTestStore(t)
	if err := s.CancelTrigger(context.Background(), "u1", "nope"); err != nil {
		t.Errorf("CancelTrigger unknown: %v", err)
	}
}

func TestCompleteTriggerRearms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := createTrigger(t, s, "u1", now.Add(-time.Minute))
	if _, err := s.ClaimDueTriggers(ctx, now, 1); err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	next := now.Add(24 * time.Hour)
	if err := s.CompleteTrigger(ctx, tr.ID, &next); err != nil {
		t.Fatalf("CompleteTrigger: %v", err)
	}

	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Status != TriggerPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.FireAt.Sub(next).Abs() > time.Millisecond {
		t.Errorf("fire_at = %v, want %v", got.FireAt, next)
	}
}

func TestCompleteTriggerFired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := createTrigger(t, s, "u1", now.Add(-time.Minute))
	if _, err := s.ClaimDueTriggers(ctx, now, 1); err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	if err := s.CompleteTrigger(ctx, tr.ID, nil); err != nil {
		t.Fatalf("CompleteTrigger: %v", err)
	}
	got, _ := s.GetTrigger(ctx, tr.ID)
	if got.Status != TriggerFired {
		t.Errorf("status = %q, want fired", got.Status)
	}

	if err := s.CompleteTrigger(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteTriggerKeepsCancel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := createTrigger(t, s, "u1", now.Add(-time.Minute))
	if _, err := s.ClaimDueTriggers(ctx, now, 1); err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}
	if err := s.CancelTrigger(ctx, "u1", tr.ID); err != nil {
		t.Fatalf("CancelTrigger: %v", err)
	}
	next := now.Add(time.Hour)
	if err := s.CompleteTrigger(ctx, tr.ID, &next); err != nil {
		t.Fatalf("CompleteTrigger: %v", err)
	}
	got, _ := s.GetTrigger(ctx, tr.ID)
	if got.Status != TriggerCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestFailTriggerBackoffAndMax(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr, err := s.CreateTrigger(ctx, Trigger{UserID: "u1", Title: "t", Body: "b", Kind: ScheduleOnce, FireAt: now.Add(-time.Minute), MaxAttempts: 2})
	if err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if _, err := s.ClaimDueTriggers(ctx, now, 1); err != nil {
		t.Fatalf("ClaimDueTriggers: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailTrigger(ctx, tr.ID, "webhook down"); err != nil {
		t.Fatalf("FailTrigger: %v", err)
	}
	got, _ := s.GetTrigger(ctx, tr.ID)
	if got.Status != TriggerPending || got.Attempts != 1 || got.LastError != "webhook down" {
		t.Errorf("after first failure: %+v", got)
	}
	if !got.FireAt.After(before) {
		t.Errorf("fire_at %v should be after %v", got.FireAt, before)
	}

	if err := s.FailTrigger(ctx, tr.ID, "still down"); err != nil {
		t.Fatalf("FailTrigger: %v", err)
	}
	got, _ = s.GetTrigger(ctx, tr.ID)
	if got.Status != TriggerFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestListTriggersExcludesCancelled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := createTrigger(t, s, "u1", now.Add(time.Hour))
	createTrigger(t, s, "u1", now.Add(2*time.Hour))
	if err := s.CancelTrigger(ctx, "u1", a.ID); err != nil {
		t.Fatalf("CancelTrigger: %v", err)
	}
	list, err := s.ListTriggers(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestDeliveries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, title := range []string{"old", "new"} {
		if _, err := s.SaveDelivery(ctx, Delivery{TriggerID: "t", UserID: "u1", Title: title, Body: "b", DeliveredAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SaveDelivery: %v", err)
		}
	}
	got, err := s.ListDeliveries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(got) != 2 || got[0].Title != "new" {
		t.Errorf("deliveries = %+v, want newest first", got)
	}
	got, _ = s.ListDeliveries(ctx, "u1", 1)
	if len(got) != 1 {
		t.Errorf("limit ignored: %d", len(got))
	}
}

func TestPermissions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetPermission(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.SetPermission(ctx, "u1", true); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	granted, err := s.GetPermission(ctx, "u1")
	if err != nil || !granted {
		t.Errorf("GetPermission = %v, %v; want true", granted, err)
	}
	if err := s.SetPermission(ctx, "u1", false); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	granted, _ = s.GetPermission(ctx, "u1")
	if granted {
		t.Error("expected revoked permission")
	}
}
