package conf

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type Conf struct {
	Log     Log     `yaml:"log"`
	Usbmux  Usbmux  `yaml:"usbmux"`
	Debug   Debug   `yaml:"debug"`
	Run     Run     `yaml:"run"`
	Inspect Inspect `yaml:"inspect"`
}

type Log struct {
	// Level is one of: debug, info, warn, error, none.
	Level string `yaml:"level"`
}

type Usbmux struct {
	// Socket is the usbmuxd endpoint. A value containing ":" is dialed
	// as TCP, anything else as a unix socket path.
	Socket string `yaml:"socket"`
}

func Default() *Conf {
	c := &Conf{}
	c.setDefaults()
	return c
}

func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	c := &Conf{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.setDefaults()

	if errs := c.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return c, nil
}

func (c *Conf) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Usbmux.Socket == "" {
		c.Usbmux.Socket = "/var/run/usbmuxd"
	}
	c.Debug.setDefaults()
	c.Run.setDefaults()
	c.Inspect.setDefaults()
}

func (c *Conf) validate() []error {
	var errs []error

	switch c.Log.Level {
	case "debug", "info", "warn", "error", "none":
	default:
		errs = append(errs, fmt.Errorf("log level must be one of: debug, info, warn, error, none"))
	}

	errs = append(errs, c.Debug.validate()...)
	errs = append(errs, c.Run.validate()...)
	errs = append(errs, c.Inspect.validate()...)
	return errs
}
