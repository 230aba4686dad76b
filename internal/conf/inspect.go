package conf

import "fmt"

// Inspect configures the WebInspector relay of `idev inspect`.
type Inspect struct {
	// TimeoutMs bounds each receive on the device channel. Expiry is a
	// liveness poll, not an error.
	TimeoutMs int `yaml:"timeout_ms"`

	// MaxMessage caps one framed message. A length prefix of zero or
	// above this tears the connection down.
	MaxMessage int `yaml:"max_message"`

	// XML switches the local-facing serialization from binary plist to
	// the XML form. The device side is always binary.
	XML bool `yaml:"xml"`
}

func (i *Inspect) setDefaults() {
	if i.TimeoutMs == 0 {
		i.TimeoutMs = 1000
	}
	if i.MaxMessage == 0 {
		i.MaxMessage = 128 * 1024
	}
}

func (i *Inspect) validate() []error {
	var errs []error
	if i.TimeoutMs < 1 {
		errs = append(errs, fmt.Errorf("inspect timeout_ms must be positive"))
	}
	if i.MaxMessage < 16 {
		errs = append(errs, fmt.Errorf("inspect max_message must be at least 16 bytes"))
	}
	return errs
}
