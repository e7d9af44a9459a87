// Package gpio drives the fan relay output line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay switches the fan on or off.
type Relay interface {
	// Set drives the relay to the logical state on.
	Set(on bool) error

	// Close drives the relay off and releases the line.
	Close() error
}

// Defaults for a Raspberry Pi relay HAT (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)
