package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAdmit("online", "ok", time.Now())
	m.ObserveAdmit("online", "ok", time.Now())
	m.ObserveAdmit("walkin", "conflict", time.Now())
	m.IncrementRetry()
	m.IncrementTransition("serve", "ok")
	m.IncrementWalkinReset()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Admissions.WithLabelValues("online", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Admissions.WithLabelValues("walkin", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmitRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("serve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WalkinResets))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
