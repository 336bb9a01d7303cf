// Package cache provides the byte cache used to optionally memoize
// GitHub user-info lookups between requests presenting the same token.
package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cacher is able to get and set key value pairs.
type Cacher interface {
	Get(string) ([]byte, bool, error)
	Set(string, []byte) error
}

// Instrumented wraps a Cacher with hit/miss/error counters.
type Instrumented struct {
	next Cacher

	readsTotal  *prometheus.CounterVec
	writesTotal *prometheus.CounterVec
}

// NewInstrumented registers cache read/write counters against reg and
// wraps next with them.
func NewInstrumented(next Cacher, reg prometheus.Registerer) *Instrumented {
	i := &Instrumented{
		next: next,
		readsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_reads_total",
				Help: "The number of read requests made to the cache.",
			}, []string{"result"},
		),
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_writes_total",
				Help: "The number of write requests made to the cache.",
			}, []string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(i.readsTotal, i.writesTotal)
	}

	return i
}

func (i *Instrumented) Get(key string) ([]byte, bool, error) {
	raw, ok, err := i.next.Get(key)
	switch {
	case err != nil:
		i.readsTotal.WithLabelValues("error").Inc()
	case ok:
		i.readsTotal.WithLabelValues("hit").Inc()
	default:
		i.readsTotal.WithLabelValues("miss").Inc()
	}
	return raw, ok, err
}

func (i *Instrumented) Set(key string, value []byte) error {
	err := i.next.Set(key, value)
	if err != nil {
		i.writesTotal.WithLabelValues("error").Inc()
		return err
	}
	i.writesTotal.WithLabelValues("success").Inc()
	return nil
}
