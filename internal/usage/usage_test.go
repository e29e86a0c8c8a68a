package usage

import "testing"

func TestBillableMinutes(t *testing.T) {
	cases := []struct {
		secs   int
		status string
		want   int
	}{
		{0, "completed", 0},
		{1, "completed", 1},
		{45, "completed", 1},
		{60, "completed", 1},
		{61, "completed", 2},
		{120, "done", 2},
		{121, "DONE", 3},
		{45, " Completed ", 1},
		{-5, "completed", 0},
		{600, "failed", 0},
		{600, "in_progress", 0},
		{600, "", 0},
	}
	for _, tc := range cases {
		if got := BillableMinutes(tc.secs, tc.status); got != tc.want {
			t.Fatalf("BillableMinutes(%d, %q) = %d, want %d", tc.secs, tc.status, got, tc.want)
		}
	}
}

func TestBillableMinutes_FailedIsAlwaysZero(t *testing.T) {
	for d := 0; d < 1000; d += 7 {
		if got := BillableMinutes(d, "failed"); got != 0 {
			t.Fatalf("expected 0 for failed call of %ds, got %d", d, got)
		}
	}
}

type call struct {
	status string
	secs   int
}

func (c call) BillingStatus() string    { return c.status }
func (c call) BillingDurationSecs() int { return c.secs }

func TestSum(t *testing.T) {
	calls := []call{
		{"done", 50}, {"done", 50}, {"completed", 61}, {"failed", 300}, {"initiated", 0},
	}
	got := Sum(calls)
	if got.Calls != 5 || got.BillableCalls != 3 || got.BillableMinutes != 4 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.DurationSecs != 461 {
		t.Fatalf("expected 461 duration secs, got %d", got.DurationSecs)
	}
}

func TestRefundFor(t *testing.T) {
	if got := RefundFor(20, 8); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := RefundFor(5, 8); got != 0 {
		t.Fatalf("expected refund floored at 0, got %d", got)
	}
	if got := RefundFor(10, -3); got != 10 {
		t.Fatalf("expected refund capped at original, got %d", got)
	}
	if got := RefundFor(0, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
