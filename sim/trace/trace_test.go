package trace

import (
	"testing"

	"github.com/board-sim/board-sim/sim/sampling"
)

func TestRunTrace_RecordAttempt_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for attempts
	rt := NewRunTrace(TraceConfig{Level: TraceLevelAttempts})

	// WHEN an attempt is recorded
	rt.RecordAttempt(AttemptRecord{
		Turn:      1,
		TaskID:    "vorkath",
		Trials:    1,
		Successes: 1,
		Elapsed:   2.5,
		Clock:     2.5,
		Items:     []sampling.Item{{Name: "Dragon bones", Quantity: 1}},
	})

	// THEN the trace contains one record with correct data
	if len(rt.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(rt.Attempts))
	}
	if rt.Attempts[0].TaskID != "vorkath" {
		t.Errorf("expected task vorkath, got %s", rt.Attempts[0].TaskID)
	}
	if rt.Truncated {
		t.Error("expected truncated=false")
	}
}

func TestRunTrace_MaxRecords_Truncates(t *testing.T) {
	// GIVEN a trace capped at 2 records
	rt := NewRunTrace(TraceConfig{Level: TraceLevelAttempts, MaxRecords: 2})

	// WHEN 3 attempts are recorded
	for i := 1; i <= 3; i++ {
		rt.RecordAttempt(AttemptRecord{Turn: i, TaskID: "zulrah"})
	}

	// THEN only 2 are kept and the trace is marked truncated
	if len(rt.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(rt.Attempts))
	}
	if !rt.Truncated {
		t.Error("expected truncated=true")
	}
}

func TestIsValidTraceLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"none", true},
		{"attempts", true},
		{"", true},
		{"decisions", false},
	}
	for _, tt := range tests {
		if got := IsValidTraceLevel(tt.level); got != tt.want {
			t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestTraceConfig_Enabled(t *testing.T) {
	if (TraceConfig{}).Enabled() {
		t.Error("zero config must not enable tracing")
	}
	if !(TraceConfig{Level: TraceLevelAttempts}).Enabled() {
		t.Error("attempts level must enable tracing")
	}
}
