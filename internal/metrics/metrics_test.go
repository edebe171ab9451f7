package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLang(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pt", Lang("PT_NAA"))
	assert.Equal(t, "en", Lang("EN_KJV"))
	assert.Equal(t, "kjv", Lang("KJV"))
	assert.Equal(t, "all", Lang(""))
}

func TestObserveRetrieve(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRetrieve("success", "PT_NAA", 0.05)
	m.ObserveRetrieve("success", "PT_NAA", 0.08)
	m.ObserveRetrieve("degraded", "", 0.3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetrieveTotal.WithLabelValues("success", "PT_NAA", "pt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrieveTotal.WithLabelValues("degraded", "all", "all")))

	count := testutil.CollectAndCount(m.RetrieveLatency)
	require.Equal(t, 2, count)

	// A nil receiver is a no-op so handlers can run without metrics wired.
	var none *Metrics
	none.ObserveRetrieve("success", "PT_NAA", 0.01)
}
