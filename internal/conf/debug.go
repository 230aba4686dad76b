package conf

import (
	"fmt"
	"net"
)

// Debug configures the optional debug surface. The endpoint exposes
// runtime internals; keep it on localhost unless it is protected some
// other way.
type Debug struct {
	// Pprof is the bind address of the pprof HTTP endpoint, e.g.
	// "127.0.0.1:6060". Empty leaves it disabled.
	Pprof string `yaml:"pprof"`
}

func (d *Debug) setDefaults() {}

func (d *Debug) validate() []error {
	var errs []error
	if d.Pprof == "" {
		return errs
	}
	if _, err := net.ResolveTCPAddr("tcp", d.Pprof); err != nil {
		errs = append(errs, fmt.Errorf("debug pprof address %q is invalid: %v", d.Pprof, err))
	}
	return errs
}
