package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register registra los collectors en reg (DefaultRegisterer si es nil),
// ignorando los que ya estaban registrados.
func Register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
