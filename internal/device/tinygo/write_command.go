//go:build !darwin && !windows

package tinygo

// Write falls back to WriteWithoutResponse, the only write the library
// offers here. On linux BlueZ picks the write type from the characteristic
// properties, so a characteristic that only allows writes with response
// still gets a request.
func (c *tinyCharacteristic) Write(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}
