// Package driver contains ChannelController implementations. The real
// controller lives on the companion real-time core; the Dummy variant here
// prints operations to stdout for host testing.
package driver

import (
	"fmt"
	"io"
	"os"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
)

// Protocol limits enforced before a command reaches the hardware.
const (
	MaxCurrentAmps  = 100.0
	MaxVoltageVolts = 5.0
)

// Dummy writes each operation to an io.Writer instead of driving hardware.
type Dummy struct {
	W io.Writer
}

func NewDummy() *Dummy {
	return &Dummy{W: os.Stdout}
}

func (d *Dummy) ConstantCurrent(ch domain.ChannelID, amps float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if amps < -MaxCurrentAmps || amps > MaxCurrentAmps {
		return fmt.Errorf("constant current %.3f A on channel %d: %w", amps, ch, domain.ErrCurrentRange)
	}
	fmt.Fprintf(d.w(), "channel %d: constant current %.3f A\n", ch, amps)
	return nil
}

func (d *Dummy) ConstantVoltage(ch domain.ChannelID, volts float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if volts < 0 || volts > MaxVoltageVolts {
		return fmt.Errorf("constant voltage %.3f V on channel %d: %w", volts, ch, domain.ErrVoltageRange)
	}
	fmt.Fprintf(d.w(), "channel %d: constant voltage %.3f V\n", ch, volts)
	return nil
}

func (d *Dummy) Rest(ch domain.ChannelID) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	fmt.Fprintf(d.w(), "channel %d: rest\n", ch)
	return nil
}

func (d *Dummy) Off(ch domain.ChannelID) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	fmt.Fprintf(d.w(), "channel %d: off\n", ch)
	return nil
}

func (d *Dummy) w() io.Writer {
	if d.W != nil {
		return d.W
	}
	return os.Stdout
}

func checkChannel(ch domain.ChannelID) error {
	if !ch.Valid() {
		return fmt.Errorf("channel %d: %w", ch, domain.ErrChannelRange)
	}
	return nil
}

var _ ports.ChannelController = (*Dummy)(nil)
