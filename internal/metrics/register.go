// Package metrics registers collectors that may outlive the component that
// created them, such as store metrics on a registry shared across reopens.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register adds c to reg and returns the collector to use. When an
// identical collector is already registered, that one is returned so a
// reopened component keeps counting where the last one stopped. A
// collector that conflicts with a different registration is returned
// unregistered.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	return c
}
