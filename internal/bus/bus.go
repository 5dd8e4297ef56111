// Package bus provides the two-wire bus transport used by all bench
// drivers. Drivers address devices by 7-bit address and 8-bit register;
// the multiplexer uses the raw (register-less) operations.
package bus

import (
	"fmt"
)

// Bus is the byte-oriented transport shared by every device driver.
// All operations block until the transaction completes or fails; a
// failure is a transport-level error (device absent, NACK, bus busy)
// and is not classified any further here.
type Bus interface {
	ReadByte(addr uint16, reg byte) (byte, error)
	WriteByte(addr uint16, reg byte, val byte) error
	ReadBlock(addr uint16, reg byte, n int) ([]byte, error)
	WriteBlock(addr uint16, reg byte, data []byte) error

	// Raw transfers without register addressing, for devices with a
	// single internal register (e.g. the channel multiplexer).
	ReadRaw(addr uint16) (byte, error)
	WriteRaw(addr uint16, val byte) error

	Close() error
}

// ReadWordBE reads a 16-bit big-endian register.
func ReadWordBE(b Bus, addr uint16, reg byte) (uint16, error) {
	buf, err := b.ReadBlock(addr, reg, 2)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// ReadWordS16BE reads a 16-bit big-endian register and sign-extends it.
func ReadWordS16BE(b Bus, addr uint16, reg byte) (int16, error) {
	raw, err := ReadWordBE(b, addr, reg)
	if err != nil {
		return 0, err
	}
	return int16(raw), nil
}

// WriteWordBE writes a 16-bit big-endian register.
func WriteWordBE(b Bus, addr uint16, reg byte, val uint16) error {
	return b.WriteBlock(addr, reg, []byte{byte(val >> 8), byte(val)})
}

// Probe reports whether a device answers at the given address.
func Probe(b Bus, addr uint16) bool {
	_, err := b.ReadRaw(addr)
	return err == nil
}

// Scan probes the address range [start, end) and returns every address
// that answered.
func Scan(b Bus, start, end uint16) []uint16 {
	var found []uint16
	for addr := start; addr < end; addr++ {
		if Probe(b, addr) {
			found = append(found, addr)
		}
	}
	return found
}

func wrap(op string, addr uint16, err error) error {
	return fmt.Errorf("i2c %s 0x%02x: %w", op, addr, err)
}
