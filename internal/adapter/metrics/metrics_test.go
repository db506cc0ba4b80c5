package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RulesReloads.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RulesReloads))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RulesReloads))
}

func TestTrackDedupKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	keys := 3
	m.TrackDedupKeys(func() int { return keys })

	expected := `
# HELP hostwatch_analysis_dedup_keys Keys tracked by the alert deduplicator.
# TYPE hostwatch_analysis_dedup_keys gauge
hostwatch_analysis_dedup_keys 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hostwatch_analysis_dedup_keys"))

	keys = 5
	expected = strings.Replace(expected, "keys 3", "keys 5", 1)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hostwatch_analysis_dedup_keys"))
}
