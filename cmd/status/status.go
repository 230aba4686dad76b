package status

import (
	"fmt"
	"log"

	"idev/internal/conf"
	"idev/internal/usbmux"

	"github.com/spf13/cobra"
)

var confPath string

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "", "Path to an optional configuration file.")
}

var Cmd = &cobra.Command{
	Use:   "status",
	Short: "Lists the devices currently attached to usbmuxd",
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(); err != nil {
			log.Fatalf("%v", err)
		}
	},
}

func run() error {
	cfg := conf.Default()
	if confPath != "" {
		loaded, err := conf.LoadFromFile(confPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	devices, err := usbmux.New(cfg.Usbmux.Socket).ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices attached.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s (id %d)\n", d.Serial, d.ID)
	}
	return nil
}
