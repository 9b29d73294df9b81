package driver

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
)

func TestDummyPrintsOperations(t *testing.T) {
	var out bytes.Buffer
	d := &Dummy{W: &out}

	if err := d.ConstantCurrent(1, 2.0); err != nil {
		t.Fatalf("constant current: %v", err)
	}
	if err := d.ConstantVoltage(1, 4.2); err != nil {
		t.Fatalf("constant voltage: %v", err)
	}
	if err := d.Rest(1); err != nil {
		t.Fatalf("rest: %v", err)
	}
	if err := d.Off(1); err != nil {
		t.Fatalf("off: %v", err)
	}

	got := out.String()
	for _, want := range []string{"constant current 2.000 A", "constant voltage 4.200 V", "rest", "off"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestDummyRejectsOutOfRange(t *testing.T) {
	var out bytes.Buffer
	d := &Dummy{W: &out}

	if err := d.ConstantCurrent(domain.MaxChannels, 1); !errors.Is(err, domain.ErrChannelRange) {
		t.Fatalf("expected ErrChannelRange, got %v", err)
	}
	if err := d.ConstantCurrent(0, MaxCurrentAmps+1); !errors.Is(err, domain.ErrCurrentRange) {
		t.Fatalf("expected ErrCurrentRange, got %v", err)
	}
	if err := d.ConstantVoltage(0, MaxVoltageVolts+1); !errors.Is(err, domain.ErrVoltageRange) {
		t.Fatalf("expected ErrVoltageRange, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("rejected commands must not reach the output")
	}
}
