package queue

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixedCapacity struct {
	limit int
}

func (f fixedCapacity) DailyCapacity(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.limit, nil
}

type mapDirectory struct {
	patients map[uuid.UUID]*PatientInfo
}

func (d *mapDirectory) Lookup(_ context.Context, id uuid.UUID) (*PatientInfo, error) {
	info, ok := d.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return info, nil
}

func newTestService() (*Service, *fakeClock) {
	store := NewMemoryStore(NewPrefixTable(map[string]string{"clinic-x": "X"}, ""))
	svc := NewService(store, store, store)
	clock := &fakeClock{t: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, clock
}

func testDate() time.Time {
	return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
}

func TestWalkInLifecycle(t *testing.T) {
	svc, clock := newTestService()
	ctx := context.Background()

	a, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	if err != nil {
		t.Fatalf("issue A: %v", err)
	}
	b, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	if err != nil {
		t.Fatalf("issue B: %v", err)
	}
	if a.QueueCode == b.QueueCode {
		t.Fatalf("codes must be distinct, both %s", a.QueueCode)
	}
	if b.QueueNumber <= a.QueueNumber {
		t.Fatalf("codes must be increasing: A=%d B=%d", a.QueueNumber, b.QueueNumber)
	}

	called, err := svc.CallNext(ctx, "clinic-x", testDate())
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.ID != a.ID {
		t.Fatalf("call next should return A (%s), got %s", a.QueueCode, called.QueueCode)
	}

	if _, err := svc.Skip(ctx, a.ID, "not in waiting area"); err != nil {
		t.Fatalf("skip A: %v", err)
	}

	called, err = svc.CallNext(ctx, "clinic-x", testDate())
	if err != nil {
		t.Fatalf("call next after skip: %v", err)
	}
	if called.ID != b.ID {
		t.Fatalf("call next should return B, got %s", called.QueueCode)
	}

	recalled, err := svc.Recall(ctx, a.ID)
	if err != nil {
		t.Fatalf("recall A: %v", err)
	}
	if recalled.State != StateCalled {
		t.Fatalf("recalled state = %s, want %s", recalled.State, StateCalled)
	}

	clock.Advance(30 * time.Second)
	if _, err := svc.StartServing(ctx, a.ID); err != nil {
		t.Fatalf("serve A: %v", err)
	}
	done, err := svc.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("complete A: %v", err)
	}
	if done.State != StateCompleted || done.CompletedAt == nil {
		t.Fatalf("A should be completed with timestamp, got %+v", done)
	}

	_, err = svc.Complete(ctx, a.ID)
	var invalid *InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("second complete should fail with invalid transition, got %v", err)
	}
	if invalid.Current != StateCompleted || invalid.Requested != StateCompleted {
		t.Errorf("error should name states, got %+v", invalid)
	}
}

func TestTransitionGuards(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ticket, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var invalid *InvalidStateTransitionError
	if _, err := svc.StartServing(ctx, ticket.ID); !errors.As(err, &invalid) {
		t.Errorf("serve from waiting should fail, got %v", err)
	}
	if _, err := svc.Skip(ctx, ticket.ID, ""); !errors.As(err, &invalid) {
		t.Errorf("skip from waiting should fail, got %v", err)
	}
	if _, err := svc.Complete(ctx, ticket.ID); !errors.As(err, &invalid) {
		t.Errorf("complete from waiting should fail, got %v", err)
	}

	if _, err := svc.Cancel(ctx, ticket.ID, "left"); err != nil {
		t.Fatalf("cancel from waiting: %v", err)
	}
	if _, err := svc.Recall(ctx, ticket.ID); !errors.As(err, &invalid) {
		t.Errorf("call after cancel should fail, got %v", err)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CallNext(context.Background(), "clinic-x", testDate())
	if !errors.Is(err, ErrNoWaitingTicket) {
		t.Fatalf("expected ErrNoWaitingTicket, got %v", err)
	}
}

func TestCallSpecific(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	b, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})

	called, err := svc.CallSpecific(ctx, "clinic-x", testDate(), b.QueueNumber)
	if err != nil {
		t.Fatalf("call specific: %v", err)
	}
	if called.ID != b.ID {
		t.Errorf("called wrong ticket: %s", called.QueueCode)
	}

	if _, err := svc.CallSpecific(ctx, "clinic-x", testDate(), 99); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("unknown number should be not found, got %v", err)
	}
}

func TestDailyCapacity(t *testing.T) {
	svc, _ := newTestService()
	svc.SetCapacityProvider(fixedCapacity{limit: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn}); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
	}
	_, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("third issue should exceed capacity, got %v", err)
	}
}

func TestDailyCapacityConcurrentIssue(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(map[string]string{"clinic-x": "X"}, ""))
	svc := NewService(store, store, store)
	svc.SetCapacityProvider(fixedCapacity{limit: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	var issued, rejected int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
			switch {
			case err == nil:
				atomic.AddInt32(&issued, 1)
			case errors.Is(err, ErrCapacityExceeded):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected issue error: %v", err)
			}
		}()
	}
	wg.Wait()

	if issued != 5 || rejected != 5 {
		t.Fatalf("issued %d / rejected %d, want 5/5", issued, rejected)
	}
	count, err := store.CountForDate(ctx, "clinic-x", testDate())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("tickets stored = %d, want exactly the capacity", count)
	}
}

func TestPatientDecoration(t *testing.T) {
	svc, _ := newTestService()
	pid := uuid.New()
	svc.SetPatientDirectory(&mapDirectory{patients: map[uuid.UUID]*PatientInfo{
		pid: {Name: "Siti Rahma", MRN: "MRN-00042"},
	}})
	ctx := context.Background()

	ticket, err := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceAppointment, PatientID: &pid})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ticket.PatientName != "Siti Rahma" || ticket.PatientMRN != "MRN-00042" {
		t.Errorf("ticket not decorated: %+v", ticket)
	}

	unknown := uuid.New()
	ticket, err = svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn, PatientID: &unknown})
	if err != nil {
		t.Fatalf("issue with unknown patient: %v", err)
	}
	if ticket.PatientName != "" {
		t.Errorf("unknown patient should leave decoration empty, got %q", ticket.PatientName)
	}
}

func TestQueueStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	c, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})

	svc.CallNext(ctx, "clinic-x", testDate()) // A called
	svc.StartServing(ctx, a.ID)
	svc.CallSpecific(ctx, "clinic-x", testDate(), c.QueueNumber)
	svc.Skip(ctx, c.ID, "")

	status, err := svc.QueueStatus(ctx, "clinic-x", testDate())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Waiting) != 1 || len(status.Serving) != 1 || len(status.Skipped) != 1 {
		t.Fatalf("status = %d waiting / %d serving / %d skipped, want 1/1/1",
			len(status.Waiting), len(status.Serving), len(status.Skipped))
	}
	if status.Serving[0].ID != a.ID || status.Skipped[0].ID != c.ID {
		t.Errorf("wrong tickets in status buckets")
	}
}

func TestStatisticsFromLedger(t *testing.T) {
	svc, clock := newTestService()
	ctx := context.Background()

	// Three tickets: one responds after 10s, one after 30s, one never.
	a, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	b, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	c, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})

	svc.CallNext(ctx, "clinic-x", testDate())
	clock.Advance(10 * time.Second)
	svc.StartServing(ctx, a.ID)

	svc.CallNext(ctx, "clinic-x", testDate())
	clock.Advance(30 * time.Second)
	svc.StartServing(ctx, b.ID)

	svc.CallNext(ctx, "clinic-x", testDate())
	svc.Skip(ctx, c.ID, "no show")

	stats, err := svc.Statistics(ctx, "clinic-x", testDate())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalCalls != 3 || stats.Responded != 2 || stats.NoResponse != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", stats.TotalCalls, stats.Responded, stats.NoResponse)
	}
	if math.Abs(stats.AverageResponseSeconds-20) > 1e-9 {
		t.Errorf("average = %v, want 20", stats.AverageResponseSeconds)
	}
}

func TestRecallLedgerTyping(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	svc.CallNext(ctx, "clinic-x", testDate())
	svc.Skip(ctx, a.ID, "")
	svc.Recall(ctx, a.ID)

	detail, err := svc.GetTicket(ctx, a.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if len(detail.Calls) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(detail.Calls))
	}
	// Most recent first.
	if detail.Calls[0].CallType != CallRecall {
		t.Errorf("latest entry should be recall, got %s", detail.Calls[0].CallType)
	}
	if detail.Calls[1].CallType != CallNormal || detail.Calls[1].ResponseStatus != ResponseNoResponse {
		t.Errorf("first entry should be a normal no-response call, got %+v", detail.Calls[1])
	}
}
