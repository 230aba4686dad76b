package conf

import "fmt"

// Run configures the debugserver session of `idev run`.
type Run struct {
	// RecvBuf is the fixed capacity of the packet receive buffer in
	// bytes. It is allocated once per session and never grows; a single
	// packet larger than this is a fatal condition.
	RecvBuf int `yaml:"recvbuf"`

	// PollMs is the bounded wait of one receive attempt.
	PollMs int `yaml:"poll_ms"`

	// IdleTimeoutSec is how long a mandatory read may stay empty before
	// the session is torn down.
	IdleTimeoutSec int `yaml:"idle_timeout"`
}

func (r *Run) setDefaults() {
	if r.RecvBuf == 0 {
		r.RecvBuf = 16 * 1024
	}
	if r.PollMs == 0 {
		r.PollMs = 500
	}
	if r.IdleTimeoutSec == 0 {
		r.IdleTimeoutSec = 10
	}
}

func (r *Run) validate() []error {
	var errs []error
	if r.RecvBuf < 64 {
		errs = append(errs, fmt.Errorf("run recvbuf must be at least 64 bytes"))
	}
	if r.PollMs < 1 {
		errs = append(errs, fmt.Errorf("run poll_ms must be positive"))
	}
	if r.IdleTimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("run idle_timeout must be positive"))
	}
	return errs
}
