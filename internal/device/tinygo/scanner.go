package tinygo

import (
	"context"
	"sync"

	"github.com/srg/igrill/internal/device"
)

type scanner struct {
	adapter Adapter
}

type advertisement struct {
	r ScanResult
}

func (a advertisement) LocalName() string        { return a.r.LocalName }
func (a advertisement) ManufacturerData() []byte { return a.r.ManufacturerData }
func (a advertisement) Services() []string       { return nil }
func (a advertisement) RSSI() int                { return a.r.RSSI }
func (a advertisement) Addr() string             { return a.r.Address }

// Connectable is not reported by every backend; iGrill units always
// advertise connectable.
func (a advertisement) Connectable() bool { return true }

// Scan blocks until ctx is done and returns ctx.Err(), matching go-ble.
func (s *scanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.adapter.StopScan()
	})
	defer stop()

	var mu sync.Mutex
	seen := make(map[string]struct{})

	err := s.adapter.Scan(func(r ScanResult) {
		if !allowDup {
			mu.Lock()
			_, dup := seen[r.Address]
			seen[r.Address] = struct{}{}
			mu.Unlock()
			if dup {
				return
			}
		}
		handler(advertisement{r: r})
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return device.NormalizeError(err)
}
