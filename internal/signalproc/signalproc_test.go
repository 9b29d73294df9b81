package signalproc

import (
	"math"
	"testing"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
)

func TestPushAndFilterWindowedMean(t *testing.T) {
	p := New(4)

	var avg float64
	var ok bool
	for i, v := range []float64{3.0, 3.2, 3.4, 3.6} {
		avg, ok = p.PushAndFilter(0, domain.Frame{
			domain.KeyVoltage:   v,
			domain.KeyTimestamp: float64(i),
		})
		if !ok {
			t.Fatalf("expected filter output for sample %d", i)
		}
	}
	if math.Abs(avg-3.3) > 1e-9 {
		t.Fatalf("windowed mean = %f, want 3.3", avg)
	}

	// Window slides: a fifth sample evicts the first.
	avg, _ = p.PushAndFilter(0, domain.Frame{
		domain.KeyVoltage:   3.8,
		domain.KeyTimestamp: 4,
	})
	if math.Abs(avg-3.5) > 1e-9 {
		t.Fatalf("windowed mean after slide = %f, want 3.5", avg)
	}
}

func TestPushAndFilterRequiresVoltageAndTimestamp(t *testing.T) {
	p := New(4)
	if _, ok := p.PushAndFilter(1, domain.Frame{domain.KeyCurrent: 2}); ok {
		t.Fatalf("frame without voltage/timestamp should be skipped")
	}
}

func TestFitCurvatureRecoversQuadratic(t *testing.T) {
	p := New(8)

	// v(t) = 3 + 0.1 t + 0.02 t²
	for i := 0; i < 8; i++ {
		ts := float64(i)
		v := 3 + 0.1*ts + 0.02*ts*ts
		p.PushAndFilter(2, domain.Frame{
			domain.KeyVoltage:   v,
			domain.KeyTimestamp: ts,
		})
	}
	curv, ok := p.FitCurvature(2)
	if !ok {
		t.Fatalf("expected fit to succeed")
	}
	if math.Abs(curv-0.02) > 1e-6 {
		t.Fatalf("curvature = %f, want 0.02", curv)
	}
}

func TestFitCurvatureNeedsEnoughSamples(t *testing.T) {
	p := New(8)
	p.PushAndFilter(3, domain.Frame{domain.KeyVoltage: 3, domain.KeyTimestamp: 0})
	p.PushAndFilter(3, domain.Frame{domain.KeyVoltage: 3.1, domain.KeyTimestamp: 1})
	if _, ok := p.FitCurvature(3); ok {
		t.Fatalf("fit should fail with fewer than three samples")
	}
}

func TestResetDropsWindow(t *testing.T) {
	p := New(8)
	for i := 0; i < 4; i++ {
		p.PushAndFilter(4, domain.Frame{
			domain.KeyVoltage:   3,
			domain.KeyTimestamp: float64(i),
		})
	}
	p.Reset(4)
	if _, ok := p.FitCurvature(4); ok {
		t.Fatalf("fit should fail after reset")
	}
}
