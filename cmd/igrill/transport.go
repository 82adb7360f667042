package main

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/igrill/internal/device"
	goble "github.com/srg/igrill/internal/device/go-ble"
	"github.com/srg/igrill/internal/device/tinygo"
	"github.com/srg/igrill/pkg/config"
)

// Transport is what the commands need from a BLE stack: GATT links and an
// advertisement source.
type Transport interface {
	device.Transport
	Scanner() (device.ScanningDevice, error)
}

// TransportFactory builds the transport selected by the configuration.
// Tests replace it.
var TransportFactory = func(cfg *config.Config, logger *logrus.Logger) (Transport, error) {
	switch cfg.Transport {
	case config.TransportTinyGo:
		return tinygo.NewTransport(logger), nil
	default:
		return goble.NewTransport(logger), nil
	}
}

// loadConfig reads the file named by --config, or the default file if it
// exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// deviceFlags are shared by poll and watch.
type deviceFlags struct {
	address string
	model   string
	mode    string
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Device address (overrides configured devices)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Device model tag, see 'igrill models'")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Poll mode (notify, active)")
}

// devices returns the thermometers to use: the one named on the command line
// or the configured ones.
func (f *deviceFlags) devices(cfg *config.Config) ([]config.DeviceConfig, error) {
	if f.address == "" && f.model == "" {
		if len(cfg.Devices) == 0 {
			return nil, ErrNoDevices
		}
		out := make([]config.DeviceConfig, len(cfg.Devices))
		copy(out, cfg.Devices)
		if f.mode != "" {
			for i := range out {
				out[i].Mode = f.mode
			}
		}
		return out, nil
	}

	d := config.DeviceConfig{
		Address: strings.TrimSpace(f.address),
		Model:   f.model,
		Mode:    f.mode,
	}
	check := *cfg
	check.Devices = []config.DeviceConfig{d}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return check.Devices, nil
}
