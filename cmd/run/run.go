package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"idev/internal/conf"
	"idev/internal/diag"
	"idev/internal/flog"
	"idev/internal/gdbwire"
	"idev/internal/usbmux"

	"github.com/spf13/cobra"
)

var (
	confPath string
	udid     string
	bundleID string
	envKV    []string
	debug    bool
)

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "", "Path to an optional configuration file.")
	Cmd.Flags().StringVarP(&udid, "udid", "u", "", "Target a specific device by its 40-digit UDID.")
	Cmd.Flags().StringVarP(&bundleID, "start", "s", "", "Bundle id of the app to start (required).")
	Cmd.Flags().StringArrayVarP(&envKV, "env", "D", nil, "Environment variable for the app as NAME=VALUE (repeatable).")
	Cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Log every packet exchanged with the device.")
	_ = Cmd.MarkFlagRequired("start")
}

var Cmd = &cobra.Command{
	Use:   "run -s BUNDLEID [flags] [-- ARG...]",
	Short: "Runs an app on the device and relays its output.",
	Long: `The 'run' command starts an app on a connected iOS device through its
debugserver service, relays the app's standard output to this terminal,
and exits with the app's exit status. Arguments after '--' are passed to
the app.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(run(args))
	},
}

func run(args []string) int {
	cfg, err := loadConf()
	if err != nil {
		flog.Errorf("%v", err)
		return 2
	}
	if debug {
		flog.SetLevel(flog.Debug)
	} else {
		flog.SetLevel(flog.ParseLevel(cfg.Log.Level))
	}
	diag.StartPprof(cfg.Debug.Pprof)

	if udid != "" && len(udid) != 40 {
		flog.Errorf("invalid udid %s (must be 40 characters)", udid)
		return 2
	}
	for _, e := range envKV {
		if !strings.Contains(e, "=") {
			flog.Errorf("invalid env entry %q (must be NAME=VALUE)", e)
			return 2
		}
	}

	mux := usbmux.New(cfg.Usbmux.Socket)
	dev, err := mux.DeviceBySerial(udid)
	if err != nil {
		flog.Errorf("%v", err)
		return -1
	}

	appPath, err := mux.AppPath(dev, bundleID)
	if err != nil {
		flog.Errorf("%v", err)
		return -1
	}
	flog.Infof("running %s on device %s", appPath, dev.Serial)

	conn, err := mux.ServiceConn(dev, "com.apple.debugserver")
	if err != nil {
		flog.Errorf("start debugserver: %v", err)
		return -1
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := gdbwire.NewSession(gdbwire.NewNetTransport(conn), gdbwire.Options{
		BufSize:      cfg.Run.RecvBuf,
		PollInterval: time.Duration(cfg.Run.PollMs) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.Run.IdleTimeoutSec) * time.Second,
		Debug:        debug,
	})
	code, err := s.Run(ctx, appPath, args, envKV)
	if err != nil {
		flog.Errorf("app session: %v", err)
		return 1
	}
	return code
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
