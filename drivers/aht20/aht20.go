// Package aht20 provides a driver for the AHT20 temperature/humidity sensor.
// It exposes a two-phase measurement API:
//
//	d.Trigger()              // start a measurement (fast)
//	err := d.Collect(&s)     // fetch when ready; returns ErrNotReady while busy
//
// Measure performs trigger + bounded polling until ready or ctx ends.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package aht20

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrNotReady = errors.New("aht20: not ready")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x38 if zero.
	Address uint16
	// PollInterval is the wait between Collect attempts. Default 15 ms.
	PollInterval time.Duration
	// CollectTimeout bounds the total wait in Measure. Default 250 ms.
	CollectTimeout time.Duration
	// ConversionTime is waited after Trigger before the first Collect.
	// Default 80 ms.
	ConversionTime time.Duration
}

func (c *Config) defaults() {
	if c.Address == 0 {
		c.Address = Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Millisecond
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 250 * time.Millisecond
	}
	if c.ConversionTime <= 0 {
		c.ConversionTime = 80 * time.Millisecond
	}
}

// Device wraps an I2C connection to an AHT20 device.
type Device struct {
	bus drivers.I2C
	cfg Config
	buf [7]byte // reuse buffer to avoid allocations
}

// New creates a Device. The I2C bus must already be configured; the
// sensor itself is not touched until Configure.
func New(bus drivers.I2C, cfg Config) *Device {
	cfg.defaults()
	return &Device{bus: bus, cfg: cfg}
}

// Configure calibrates the sensor if it reports uncalibrated.
func (d *Device) Configure() error {
	st, err := d.Status()
	if err == nil && st&statusCalibrated != 0 {
		return nil
	}
	// Tolerate devices that do not ACK immediately.
	if err := d.bus.Tx(d.cfg.Address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// Reset issues a soft reset. Give the device ~20ms afterwards before using.
func (d *Device) Reset() error {
	return d.bus.Tx(d.cfg.Address, []byte{cmdSoftReset}, nil)
}

func (d *Device) Status() (byte, error) {
	data := []byte{0}
	if err := d.bus.Tx(d.cfg.Address, []byte{cmdStatus}, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// Trigger starts a measurement without blocking.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.cfg.Address, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Collect reads one finished measurement into out. ErrNotReady is
// returned while the conversion is still running.
func (d *Device) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.bus.Tx(d.cfg.Address, nil, data); err != nil {
		return err
	}
	if (data[0]&statusCalibrated) == 0 || (data[0]&statusBusy) != 0 {
		return ErrNotReady
	}
	out.RawHumidity = (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	out.RawTemp = (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
	return nil
}

// Measure runs Trigger followed by bounded polling of Collect.
func (d *Device) Measure(ctx context.Context) (Sample, error) {
	var s Sample
	if err := d.Trigger(); err != nil {
		return s, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConversionTime+d.cfg.CollectTimeout)
	defer cancel()

	wait := d.cfg.ConversionTime
	for {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return s, ErrTimeout
		case <-t.C:
		}
		err := d.Collect(&s)
		if err != ErrNotReady {
			return s, err
		}
		wait = d.cfg.PollInterval
	}
}

// Sample holds raw readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// Celsius returns °C.
func (s Sample) Celsius() float32 {
	return (float32(s.RawTemp)*200.0)/0x100000 - 50
}

// RelHumidity returns relative humidity in percent.
func (s Sample) RelHumidity() float32 {
	return (float32(s.RawHumidity) * 100) / 0x100000
}

// Fixed-point variants (tenths of a unit) for callers avoiding floats.

func (s Sample) DeciCelsius() int32 {
	return ((int32(s.RawTemp) * 2000) / 0x100000) - 500
}

func (s Sample) DeciRelHumidity() int32 {
	return (int32(s.RawHumidity) * 1000) / 0x100000
}
