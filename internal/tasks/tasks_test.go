package tasks

import (
	"sync"
	"testing"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/callback"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/channeltable"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/signalproc"
)

type countingObs struct {
	ports.Nop
	mu       sync.Mutex
	counters map[string]float64
}

func newCountingObs() *countingObs {
	return &countingObs{counters: map[string]float64{}}
}

func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	o.counters[name] += v
	o.mu.Unlock()
}

func (o *countingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func TestCallbackEvalPanicIsContained(t *testing.T) {
	tab := channeltable.New()
	obs := newCountingObs()
	reg := callback.New()

	h, err := reg.Register(1, func(domain.ChannelID, domain.Snapshot, callback.Handle) {
		panic("callback bug")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var entry callback.Registration
	reg.ForEach(1, func(r callback.Registration) { entry = r })

	task := &CallbackEval{Table: tab, Obs: obs, Channel: 1, Registration: entry}
	task.Execute() // must not propagate the panic

	if got := obs.counter("cycler_callback_errors_total"); got != 1 {
		t.Fatalf("callback error counter = %f, want 1", got)
	}
	// The panicking callback stays registered for the next cycle.
	if reg.Len(1) != 1 {
		t.Fatalf("panicking callback must not be unregistered")
	}
	_ = h
}

func TestCallbackEvalReadsCurrentTable(t *testing.T) {
	tab := channeltable.New()
	reg := callback.New()

	if _, err := tab.UpdateFrom(2, domain.Frame{domain.KeyVoltage: 3.5}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var seen float64
	if _, err := reg.Register(2, func(_ domain.ChannelID, snap domain.Snapshot, _ callback.Handle) {
		seen = snap[domain.KeyVoltage]
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Advance the table after registration; the evaluation must observe
	// the newer value, not a captured one.
	if _, err := tab.UpdateFrom(2, domain.Frame{domain.KeyVoltage: 4.0}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reg.ForEach(2, func(r callback.Registration) {
		task := &CallbackEval{Table: tab, Obs: ports.Nop{}, Channel: 2, Registration: r}
		task.Execute()
	})
	if seen != 4.0 {
		t.Fatalf("callback saw %f, want the current table value 4.0", seen)
	}
}

func TestFilterTaskStoresSmoothedVoltage(t *testing.T) {
	tab := channeltable.New()
	proc := signalproc.New(4)

	for i := 0; i < 4; i++ {
		f := domain.Frame{
			domain.KeyVoltage:   3.0 + float64(i)*0.2,
			domain.KeyTimestamp: float64(i),
		}
		task := &Filter{Proc: proc, Table: tab, Channel: 3, Frame: f}
		task.Execute()
	}

	got := tab.Get(3, domain.KeyVoltageFiltered)
	if got < 3.29 || got > 3.31 {
		t.Fatalf("filtered voltage = %f, want about 3.3", got)
	}
}

func TestFitTaskStoresCurvature(t *testing.T) {
	tab := channeltable.New()
	proc := signalproc.New(8)

	for i := 0; i < 8; i++ {
		ts := float64(i)
		f := domain.Frame{
			domain.KeyVoltage:   3 + 0.05*ts*ts,
			domain.KeyTimestamp: ts,
		}
		(&Filter{Proc: proc, Table: tab, Channel: 4, Frame: f}).Execute()
	}
	(&Fit{Proc: proc, Table: tab, Channel: 4}).Execute()

	got := tab.Get(4, domain.KeyFitCurvature)
	if got < 0.049 || got > 0.051 {
		t.Fatalf("fit curvature = %f, want about 0.05", got)
	}
}
