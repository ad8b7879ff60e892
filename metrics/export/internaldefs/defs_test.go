package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/adminauth"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	if len(CounterDefs) != len(adminauth.MetricIDs())-len(HistogramDefs) {
		t.Fatalf("expected %d counters, got %d", len(adminauth.MetricIDs())-len(HistogramDefs), len(CounterDefs))
	}
	seen := map[string]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, Prefix) || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		seen[def.Name] = true
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(HistogramBounds) != len(adminauth.HistogramBounds)+1 {
		t.Fatalf("bucket labels out of step with engine bounds")
	}
}

type postureOnly struct{ warnings []string }

func (p postureOnly) SecurityReport() adminauth.SecurityReport {
	return adminauth.SecurityReport{Warnings: p.warnings}
}

func TestSecurityWarnings(t *testing.T) {
	if n, ok := SecurityWarnings(postureOnly{warnings: []string{"a", "b"}}); !ok || n != 2 {
		t.Fatalf("expected 2 warnings, got %d (%v)", n, ok)
	}
	if _, ok := SecurityWarnings(struct{}{}); ok {
		t.Fatal("a source without a report must not report warnings")
	}
}
