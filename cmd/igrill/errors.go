package main

import (
	"errors"
	"fmt"

	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/pkg/config"
)

// Command-level errors
var (
	// ErrNoDevices is returned when neither the configuration nor the flags
	// name a thermometer.
	ErrNoDevices = errors.New("no devices configured")

	// ErrNoHistory is returned when no history database is configured.
	ErrNoHistory = errors.New("no history database configured (set history_path or pass --db)")
)

// FormatUserError turns err into a one-line message with a hint for the
// failures users can fix themselves.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (try --config with transport: tinygo)", err)
	case errors.Is(err, igrill.ErrUnknownModel):
		return fmt.Sprintf("%v (run 'igrill models' for the supported models)", err)
	case errors.Is(err, ErrNoDevices):
		return fmt.Sprintf("%v: pass --address and --model or add devices to %s", err, config.DefaultPath())
	default:
		return err.Error()
	}
}
