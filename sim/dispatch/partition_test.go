package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func TestResolvePartition(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		explicit *int
		count    int
		want     Partition
	}{
		{"underscore suffix", "svc_worker_2", nil, 3, Partition{Index: 1, Count: 3, Enabled: true}},
		{"dash suffix", "svc-2", nil, 3, Partition{Index: 1, Count: 3, Enabled: true}},
		{"first replica", "sim-1", nil, 3, Partition{Index: 0, Count: 3, Enabled: true}},
		{"no suffix", "svc", nil, 3, Partition{}},
		{"digits without separator", "svc2", nil, 3, Partition{}},
		{"derived index equals count", "svc-4", nil, 3, Partition{}},
		{"derived index above count", "svc-9", nil, 3, Partition{}},
		{"replica zero", "svc-0", nil, 3, Partition{}},
		{"explicit wins over suffix", "svc-3", intPtr(0), 3, Partition{Index: 0, Count: 3, Enabled: true}},
		{"explicit without host", "", intPtr(2), 3, Partition{Index: 2, Count: 3, Enabled: true}},
		{"explicit out of range", "svc-1", intPtr(3), 3, Partition{}},
		{"zero worker count", "svc-1", nil, 0, Partition{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolvePartition(tc.host, tc.explicit, tc.count))
		})
	}
}

func TestPartition_Owns(t *testing.T) {
	p := Partition{Index: 1, Count: 3, Enabled: true}
	assert.True(t, p.Owns(1))
	assert.True(t, p.Owns(4))
	assert.False(t, p.Owns(3))
	assert.False(t, p.Owns(5))

	assert.True(t, Partition{}.Owns(5), "disabled partition owns everything")
}

func TestPartition_Split(t *testing.T) {
	p := Partition{Index: 0, Count: 2, Enabled: true}
	ids := []int64{1, 2, 3, 4}

	owned, foreign := p.Split(ids, 0)
	assert.Equal(t, []int64{2, 4}, owned)
	assert.Equal(t, []int64{1, 3}, foreign)

	owned, foreign = p.Split(ids, 2)
	assert.Equal(t, ids, owned, "hopped past every worker")
	assert.Empty(t, foreign)

	owned, foreign = Partition{}.Split(ids, 0)
	assert.Equal(t, ids, owned)
	assert.Empty(t, foreign)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig("worker-1")
	assert.NoError(t, valid.Validate())
	assert.Equal(t, 4, valid.MaxConcurrent)
	assert.Equal(t, 200*time.Millisecond, valid.PollInterval)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no worker id", func(c *Config) { c.WorkerID = "" }},
		{"zero capacity", func(c *Config) { c.MaxConcurrent = 0 }},
		{"huge capacity", func(c *Config) { c.MaxConcurrent = MaxConcurrentLimit + 1 }},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }},
		{"negative delay", func(c *Config) { c.RunDelay = -time.Second }},
		{"zero lease", func(c *Config) { c.LeaseTTL = 0 }},
		{"bad partition", func(c *Config) { c.Partition = Partition{Index: 3, Count: 3, Enabled: true} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig("worker-1")
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
