package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/poller"
	"github.com/srg/igrill/pkg/config"
	"github.com/srg/igrill/pkg/igrill"
)

// newManager builds a manager over the configured transport and registers
// devs. On error nothing is left open.
func newManager(cfg *config.Config, devs []config.DeviceConfig, opts igrill.Options, logger *logrus.Logger) (*igrill.Manager, Transport, error) {
	transport, err := TransportFactory(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts.Connection = cfg.ConnectionOptions()
	opts.Poller = *cfg.PollerOptions(config.DeviceConfig{})
	m := igrill.NewManager(transport, &opts, logger)

	for _, d := range devs {
		modeName := cfg.Mode
		if d.Mode != "" {
			modeName = d.Mode
		}
		mode, err := poller.ParseMode(modeName)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("%s: %w", d.Address, err), m.Close())
		}
		if _, err := m.RegisterDevice(d.Address, d.Model, igrill.WithMode(mode)); err != nil {
			return nil, nil, errors.Join(err, m.Close())
		}
	}
	return m, transport, nil
}
