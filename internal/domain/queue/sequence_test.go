package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFormatCode(t *testing.T) {
	cases := []struct {
		prefix string
		number int
		want   string
	}{
		{"A", 1, "A001"},
		{"A", 42, "A042"},
		{"ENT", 7, "ENT007"},
		{"Q", 1234, "Q1234"},
	}
	for _, tc := range cases {
		if got := FormatCode(tc.prefix, tc.number); got != tc.want {
			t.Errorf("FormatCode(%q, %d) = %q, want %q", tc.prefix, tc.number, got, tc.want)
		}
	}
}

func TestPrefixTable(t *testing.T) {
	table := NewPrefixTable(map[string]string{"clinic-ent": "E", "clinic-derm": "D"}, "")
	if got := table.Resolve("clinic-ent"); got != "E" {
		t.Errorf("Resolve(clinic-ent) = %q, want E", got)
	}
	if got := table.Resolve("clinic-unknown"); got != "Q" {
		t.Errorf("fallback = %q, want Q", got)
	}
}

func TestMemoryAllocatorConcurrent(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(nil, ""))
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	const n = 100
	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := store.Next(context.Background(), "clinic-1", date)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, n)
	for number := range results {
		if seen[number] {
			t.Errorf("duplicate number %d", number)
		}
		seen[number] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Errorf("missing number %d", i)
		}
	}
}

func TestMemoryAllocatorKeysIndependent(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(nil, ""))
	ctx := context.Background()
	day1 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := store.Next(ctx, "clinic-1", day1); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if n, _ := store.Next(ctx, "clinic-2", day1); n != 1 {
		t.Errorf("other resource should start at 1, got %d", n)
	}
	if n, _ := store.Next(ctx, "clinic-1", day2); n != 1 {
		t.Errorf("other day should start at 1, got %d", n)
	}
	if n, _ := store.Current(ctx, "clinic-1", day1); n != 3 {
		t.Errorf("Current = %d, want 3", n)
	}
}

func TestMemoryAllocatorReset(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(nil, ""))
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	store.Next(ctx, "clinic-1", date)
	store.Next(ctx, "clinic-1", date)
	if err := store.Reset(ctx, "clinic-1", date); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := store.Current(ctx, "clinic-1", date); n != 0 {
		t.Errorf("Current after reset = %d, want 0", n)
	}
	if n, _ := store.Next(ctx, "clinic-1", date); n != 1 {
		t.Errorf("Next after reset = %d, want 1", n)
	}
}

func TestMemoryIssueConcurrent(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(map[string]string{"clinic-1": "A"}, ""))
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	const n = 50
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := store.Issue(context.Background(), IssueInput{ResourceID: "clinic-1", Date: date, Source: SourceWalkIn})
			if err != nil {
				t.Errorf("Issue: %v", err)
				return
			}
			codes <- ticket.QueueCode
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, n)
	for code := range codes {
		if seen[code] {
			t.Errorf("duplicate queue code %s", code)
		}
		seen[code] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct codes, want %d", len(seen), n)
	}
	if !seen["A001"] || !seen[FormatCode("A", n)] {
		t.Errorf("codes should span A001..%s", FormatCode("A", n))
	}
}
