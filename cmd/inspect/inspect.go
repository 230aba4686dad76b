package inspect

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"idev/internal/conf"
	"idev/internal/diag"
	"idev/internal/flog"
	"idev/internal/relay"
	"idev/internal/usbmux"

	"github.com/spf13/cobra"
)

const webinspectorService = "com.apple.webinspector"

var (
	confPath  string
	udid      string
	timeoutMs int
	xmlOut    bool
	debug     bool
)

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "", "Path to an optional configuration file.")
	Cmd.Flags().StringVarP(&udid, "udid", "u", "", "Target a specific device by its 40-digit UDID.")
	Cmd.Flags().IntVarP(&timeoutMs, "timeout", "t", 0, "Device receive timeout in milliseconds.")
	Cmd.Flags().BoolVarP(&xmlOut, "xml", "x", false, "Exchange XML plists with local clients instead of binary.")
	Cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable verbose logging.")
}

var Cmd = &cobra.Command{
	Use:   "inspect [flags] PORT",
	Short: "Proxies the device's WebInspector service on a local TCP port.",
	Long: `The 'inspect' command exposes the WebInspector service of a connected
iOS device on a local TCP port. Clients exchange length-prefixed plist
messages; the device side always uses binary plists, the local side uses
binary or, with --xml, XML.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(run(args[0]))
	},
}

func run(portArg string) int {
	port, err := strconv.Atoi(portArg)
	if err != nil || port <= 0 || port > 65535 {
		flog.Errorf("invalid port %q", portArg)
		return 1
	}

	cfg, err := loadConf()
	if err != nil {
		flog.Errorf("%v", err)
		return 1
	}
	if debug {
		flog.SetLevel(flog.Debug)
	} else {
		flog.SetLevel(flog.ParseLevel(cfg.Log.Level))
	}
	diag.StartPprof(cfg.Debug.Pprof)

	if udid != "" && len(udid) != 40 {
		flog.Errorf("invalid udid %s (must be 40 characters)", udid)
		return 1
	}
	if timeoutMs > 0 {
		cfg.Inspect.TimeoutMs = timeoutMs
	}
	if xmlOut {
		cfg.Inspect.XML = true
	}

	mux := usbmux.New(cfg.Usbmux.Socket)
	dev, err := mux.DeviceBySerial(udid)
	if err != nil {
		flog.Errorf("%v", err)
		return 1
	}
	flog.Infof("proxying WebInspector of device %s on port %d", dev.Serial, port)

	r := relay.New(relay.Config{
		Timeout:    time.Duration(cfg.Inspect.TimeoutMs) * time.Millisecond,
		XML:        cfg.Inspect.XML,
		MaxMessage: cfg.Inspect.MaxMessage,
		OpenChannel: func() (*relay.Channel, error) {
			c, err := mux.ServiceConn(dev, webinspectorService)
			if err != nil {
				return nil, err
			}
			return relay.NewChannel(c, cfg.Inspect.MaxMessage), nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.ListenAndServe(ctx, port); err != nil {
		flog.Errorf("%v", err)
		return 1
	}
	return 0
}

func loadConf() (*conf.Conf, error) {
	if confPath == "" {
		return conf.Default(), nil
	}
	cfg, err := conf.LoadFromFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
