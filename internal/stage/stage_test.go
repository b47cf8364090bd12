package stage

import "testing"

func TestLabel(t *testing.T) {
	if got := Composite.Label(); got != "Composite" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := Name("").Label(); got != "" {
		t.Fatalf("expected empty label, got %q", got)
	}
}

func TestNewReportsFollowsOrder(t *testing.T) {
	reports := NewReports()
	if len(reports) != len(Order) {
		t.Fatalf("expected %d reports, got %d", len(Order), len(reports))
	}
	for i, r := range reports {
		if r.Name != Order[i] {
			t.Fatalf("report %d: expected %s, got %s", i, Order[i], r.Name)
		}
		if r.Status != StatusPending {
			t.Fatalf("report %d: expected pending, got %s", i, r.Status)
		}
	}
}
