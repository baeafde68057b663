package billing

import (
	"testing"

	"callflow-platform/internal/calls"
)

func TestBillableMinutes(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{119, 2},
		{120, 2},
		{125, 3},
		{3600, 60},
	}
	for _, tc := range cases {
		if got := BillableMinutes(tc.seconds); got != tc.want {
			t.Errorf("BillableMinutes(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}

func TestReconcile_CompletedChargesExtraMinutes(t *testing.T) {
	sess := calls.CallSession{
		RatePerMinuteMinor: 50,
		ChargedMinor:       50,
		MinutesCharged:     1,
	}
	out := Reconcile(sess, calls.StatusCompleted, 125)
	if out.ActualMinutes != 3 {
		t.Fatalf("actual minutes = %d, want 3", out.ActualMinutes)
	}
	if out.AdditionalMinor != 100 {
		t.Fatalf("additional = %d, want 100", out.AdditionalMinor)
	}
	if out.TotalMinor != 150 {
		t.Fatalf("total = %d, want 150", out.TotalMinor)
	}
	if out.BillingStatus != calls.BillingStatusCharged {
		t.Fatalf("billing status = %s, want charged", out.BillingStatus)
	}
}

func TestReconcile_CompletedWithinOptimisticMinute(t *testing.T) {
	sess := calls.CallSession{
		RatePerMinuteMinor: 50,
		ChargedMinor:       50,
		MinutesCharged:     1,
	}
	out := Reconcile(sess, calls.StatusCompleted, 42)
	if out.AdditionalMinor != 0 {
		t.Fatalf("additional = %d, want 0", out.AdditionalMinor)
	}
	if out.TotalMinor != 50 {
		t.Fatalf("total = %d, want 50", out.TotalMinor)
	}
}

func TestReconcile_FailedRefundsInFull(t *testing.T) {
	sess := calls.CallSession{
		RatePerMinuteMinor: 50,
		ChargedMinor:       50,
		MinutesCharged:     1,
	}
	out := Reconcile(sess, calls.StatusFailed, 0)
	if out.RefundMinor != 50 {
		t.Fatalf("refund = %d, want 50", out.RefundMinor)
	}
	if out.TotalMinor != 0 {
		t.Fatalf("total = %d, want 0", out.TotalMinor)
	}
	if out.BillingStatus != calls.BillingStatusRefunded {
		t.Fatalf("billing status = %s, want refunded", out.BillingStatus)
	}
}

func TestReconcile_KeepsChargeForUnconnectedOutcomes(t *testing.T) {
	sess := calls.CallSession{
		RatePerMinuteMinor: 80,
		ChargedMinor:       80,
		MinutesCharged:     1,
	}
	for _, st := range []calls.Status{calls.StatusBusy, calls.StatusNoAnswer, calls.StatusCanceled} {
		out := Reconcile(sess, st, 0)
		if out.RefundMinor != 0 || out.AdditionalMinor != 0 {
			t.Fatalf("%s: expected no money movement, got %+v", st, out)
		}
		if out.TotalMinor != 80 {
			t.Fatalf("%s: total = %d, want 80", st, out.TotalMinor)
		}
	}
}
