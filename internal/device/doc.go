// Package device defines the transport-neutral BLE surface used by the iGrill
// stack: a Transport that opens GATT Channels, advertisement scanning, UUID
// normalization and the shared connection error taxonomy.
//
// Concrete transports live in sub-packages:
//   - go-ble: github.com/go-ble/ble (macOS and Linux HCI)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ over D-Bus, CoreBluetooth, WinRT)
package device
