package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maphy9/mind-flow/internal/storage"
)

type dailyCall struct {
	title, body  string
	hour, minute int
}

type onceCall struct {
	title, body string
	when        int64
}

type fakeScheduler struct {
	granted     bool
	requestable bool
	permErr     error
	scheduleErr error
	cancelErr   map[string]error

	daily     []dailyCall
	once      []onceCall
	cancelled []string
	requests  int
	next      int

	// slow holds ScheduleDaily open so overlapping calls can be counted.
	slow         time.Duration
	active, peak atomic.Int32
}

func (f *fakeScheduler) CheckPermission(context.Context, string) (bool, error) {
	return f.granted, f.permErr
}

func (f *fakeScheduler) RequestPermission(context.Context, string) (bool, error) {
	f.requests++
	if f.requestable {
		f.granted = true
	}
	return f.granted, nil
}

func (f *fakeScheduler) ScheduleDaily(_ context.Context, _ string, title, body string, hour, minute int) (string, error) {
	if f.slow > 0 {
		n := f.active.Add(1)
		defer f.active.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(f.slow)
	}
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.daily = append(f.daily, dailyCall{title, body, hour, minute})
	f.next++
	return fmt.Sprintf("n%d", f.next), nil
}

func (f *fakeScheduler) ScheduleOnce(_ context.Context, _ string, title, body string, when int64) (string, error) {
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.once = append(f.once, onceCall{title, body, when})
	f.next++
	return fmt.Sprintf("n%d", f.next), nil
}

func (f *fakeScheduler) Cancel(_ context.Context, _ string, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr[id]
}

type outcomeCounter map[string]int

func (o outcomeCounter) ObserveReminder(outcome string) { o[outcome]++ }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, sched *fakeScheduler) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := NewManager(s, sched, nil)
	m.SetClock(func() time.Time { return testNow })
	return m, s
}

func TestSchedule_Daily(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	res, err := m.Schedule(ctx, "u1", "Drink water", "18:00")
	require.NoError(t, err)

	assert.Equal(t, OutcomeScheduled, res.Outcome)
	r := res.Reminder
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, storage.ScheduleDaily, r.ScheduleType)
	require.NotNil(t, r.Hour)
	require.NotNil(t, r.Minute)
	assert.Equal(t, 18, *r.Hour)
	assert.Equal(t, 0, *r.Minute)
	assert.Nil(t, r.When)
	assert.True(t, r.Enabled)
	assert.Equal(t, []string{"n1"}, r.NotificationIDs)
	assert.Equal(t, []dailyCall{{"Drink water", "It's time!", 18, 0}}, sched.daily)

	stored, err := s.GetReminder(ctx, "u1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, stored.NotificationIDs)
	assert.Equal(t, "18:00", stored.RawTime)
}

func TestSchedule_Once(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	m, _ := newTestManager(t, sched)

	res, err := m.Schedule(context.Background(), "u1", "Tea", "in 10 minutes")
	require.NoError(t, err)

	want := testNow.Add(10 * time.Minute).UnixMilli()
	r := res.Reminder
	assert.Equal(t, storage.ScheduleOnce, r.ScheduleType)
	require.NotNil(t, r.When)
	assert.Equal(t, want, *r.When)
	assert.Equal(t, []onceCall{{"Tea", "Reminder", want}}, sched.once)
}

func TestSchedule_PermissionDenied(t *testing.T) {
	sched := &fakeScheduler{granted: false}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	res, err := m.Schedule(ctx, "u1", "Walk", "07:30")
	require.NoError(t, err)

	assert.Equal(t, OutcomePermissionDenied, res.Outcome)
	assert.Equal(t, 1, sched.requests)
	assert.True(t, res.Reminder.Enabled)
	assert.Empty(t, res.Reminder.NotificationIDs)
	assert.Empty(t, sched.daily)

	stored, err := s.GetReminder(ctx, "u1", res.Reminder.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Empty(t, stored.NotificationIDs)
}

func TestSchedule_RequestsPermissionWhenNotYetGranted(t *testing.T) {
	sched := &fakeScheduler{requestable: true}
	m, _ := newTestManager(t, sched)

	res, err := m.Schedule(context.Background(), "u1", "Walk", "07:30")
	require.NoError(t, err)
	assert.Equal(t, OutcomeScheduled, res.Outcome)
	assert.Equal(t, 1, sched.requests)
}

func TestSchedule_UnparsedTime(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	m, _ := newTestManager(t, sched)

	res, err := m.Schedule(context.Background(), "u1", "Call mom", "sometime soon")
	require.NoError(t, err)

	r := res.Reminder
	assert.Equal(t, OutcomeUnscheduled, res.Outcome)
	assert.Equal(t, storage.ScheduleDaily, r.ScheduleType)
	assert.Nil(t, r.Hour)
	assert.Nil(t, r.Minute)
	assert.True(t, r.Enabled)
	assert.Empty(t, r.NotificationIDs)
	assert.Empty(t, sched.daily)
	assert.NotEmpty(t, res.Warnings)
}

func TestSchedule_SchedulerFailureStillCreatesRecord(t *testing.T) {
	sched := &fakeScheduler{granted: true, scheduleErr: errors.New("no slots")}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	res, err := m.Schedule(ctx, "u1", "Stretch", "09:00")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnscheduled, res.Outcome)
	assert.Empty(t, res.Reminder.NotificationIDs)

	list, err := s.ListReminders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSchedule_EmptyTitle(t *testing.T) {
	m, _ := newTestManager(t, &fakeScheduler{granted: true})
	_, err := m.Schedule(context.Background(), "u1", "   ", "09:00")
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestSchedule_NoDedup(t *testing.T) {
	m, s := newTestManager(t, &fakeScheduler{granted: true})
	ctx := context.Background()

	a, err := m.Schedule(ctx, "u1", "Drink water", "09:00")
	require.NoError(t, err)
	b, err := m.Schedule(ctx, "u1", "Drink water", "09:00")
	require.NoError(t, err)
	assert.NotEqual(t, a.Reminder.ID, b.Reminder.ID)

	list, err := s.ListReminders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSchedule_SerialisedPerUser(t *testing.T) {
	sched := &fakeScheduler{granted: true, slow: 5 * time.Millisecond}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Schedule(ctx, "u1", fmt.Sprintf("task %d", i), "09:00")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sched.peak.Load())
	assert.Len(t, sched.daily, 5)
	list, err := s.ListReminders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestToggle_DisableCancelsAll(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	h, mi := 8, 15
	r, err := s.CreateReminder(ctx, storage.Reminder{
		UserID: "u1", Title: "Meds", RawTime: "08:15", ScheduleType: storage.ScheduleDaily,
		Hour: &h, Minute: &mi, Enabled: true, NotificationIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	res, err := m.Toggle(ctx, "u1", r.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.ElementsMatch(t, []string{"a", "b"}, sched.cancelled)

	stored, err := s.GetReminder(ctx, "u1", r.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Empty(t, stored.NotificationIDs)
}

func TestToggle_CancelFailuresSwallowed(t *testing.T) {
	sched := &fakeScheduler{granted: true, cancelErr: map[string]error{"a": errors.New("gone")}}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	r, err := s.CreateReminder(ctx, storage.Reminder{
		UserID: "u1", Title: "x", ScheduleType: storage.ScheduleDaily, Enabled: true, NotificationIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	res, err := m.Toggle(ctx, "u1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CancelFailures)
	assert.Equal(t, []string{"a", "b"}, sched.cancelled)
	assert.False(t, res.Reminder.Enabled)
}

func TestToggle_ReEnableUsesStoredSchedule(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	created, err := m.Schedule(ctx, "u1", "Meds", "08:15")
	require.NoError(t, err)

	_, err = m.Toggle(ctx, "u1", created.Reminder.ID)
	require.NoError(t, err)
	res, err := m.Toggle(ctx, "u1", created.Reminder.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeScheduled, res.Outcome)
	assert.True(t, res.Reminder.Enabled)
	assert.Equal(t, []string{"n2"}, res.Reminder.NotificationIDs)
	require.Len(t, sched.daily, 2)
	assert.Equal(t, sched.daily[0], sched.daily[1])

	stored, err := s.GetReminder(ctx, "u1", created.Reminder.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, []string{"n2"}, stored.NotificationIDs)
}

func TestToggle_ReEnablePermissionDenied(t *testing.T) {
	sched := &fakeScheduler{granted: false}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	r, err := s.CreateReminder(ctx, storage.Reminder{UserID: "u1", Title: "x", ScheduleType: storage.ScheduleDaily})
	require.NoError(t, err)

	res, err := m.Toggle(ctx, "u1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermissionDenied, res.Outcome)
	assert.True(t, res.Reminder.Enabled)
	assert.Empty(t, res.Reminder.NotificationIDs)
}

func TestToggle_NotFound(t *testing.T) {
	m, _ := newTestManager(t, &fakeScheduler{})
	_, err := m.Toggle(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemove(t *testing.T) {
	sched := &fakeScheduler{granted: true, cancelErr: map[string]error{"n1": errors.New("already fired")}}
	m, s := newTestManager(t, sched)
	ctx := context.Background()

	created, err := m.Schedule(ctx, "u1", "Tea", "in 5 minutes")
	require.NoError(t, err)

	res, err := m.Remove(ctx, "u1", created.Reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, res.Outcome)
	assert.Equal(t, 1, res.CancelFailures)
	assert.Equal(t, []string{"n1"}, sched.cancelled)

	_, err = s.GetReminder(ctx, "u1", created.Reminder.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.Remove(ctx, "u1", created.Reminder.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecorderObservesOutcomes(t *testing.T) {
	sched := &fakeScheduler{granted: true}
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	rec := outcomeCounter{}
	m := NewManager(s, sched, rec)
	ctx := context.Background()

	res, err := m.Schedule(ctx, "u1", "a", "09:00")
	require.NoError(t, err)
	_, err = m.Toggle(ctx, "u1", res.Reminder.ID)
	require.NoError(t, err)
	_, err = m.Remove(ctx, "u1", res.Reminder.ID)
	require.NoError(t, err)

	assert.Equal(t, outcomeCounter{"scheduled": 1, "disabled": 1, "removed": 1}, rec)
}
