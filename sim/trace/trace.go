package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelAttempts captures every task attempt.
	TraceLevelAttempts TraceLevel = "attempts"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelAttempts: true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level      TraceLevel
	MaxRecords int // stop recording after this many attempts; 0 = unlimited
}

// Enabled reports whether attempts should be recorded.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelAttempts
}

// RunTrace collects attempt records during one run.
type RunTrace struct {
	Config    TraceConfig
	Attempts  []AttemptRecord
	Truncated bool
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(config TraceConfig) *RunTrace {
	return &RunTrace{
		Config:   config,
		Attempts: make([]AttemptRecord, 0),
	}
}

// RecordAttempt appends an attempt record, respecting MaxRecords.
func (rt *RunTrace) RecordAttempt(record AttemptRecord) {
	if rt.Config.MaxRecords > 0 && len(rt.Attempts) >= rt.Config.MaxRecords {
		rt.Truncated = true
		return
	}
	rt.Attempts = append(rt.Attempts, record)
}
