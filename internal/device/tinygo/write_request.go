//go:build darwin || windows

package tinygo

// Write performs a write with response.
func (c *tinyCharacteristic) Write(p []byte) (int, error) {
	return c.char.Write(p)
}
