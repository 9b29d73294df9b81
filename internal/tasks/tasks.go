// Package tasks defines the concrete task variants executed by the
// dispatcher: hardware control commands on the control plane, and
// callback-evaluation / signal-processing work on the data plane.
package tasks

import (
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/callback"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/channeltable"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/dispatch"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/signalproc"
)

// ConstantCurrent switches a channel to constant-current control.
type ConstantCurrent struct {
	Driver  ports.ChannelController
	Obs     ports.Observability
	Channel domain.ChannelID
	Amps    float64
}

func (t *ConstantCurrent) Execute() {
	reportDriverErr(t.Obs, "constant_current", t.Channel,
		t.Driver.ConstantCurrent(t.Channel, t.Amps))
}

func (t *ConstantCurrent) Priority() dispatch.Priority { return dispatch.Normal }

// ConstantVoltage switches a channel to constant-voltage control. Prio is
// Normal for caller-submitted commands and High when the task is
// materialised by a CV-transition callback, bounding the interval between
// threshold crossing and the CV command.
type ConstantVoltage struct {
	Driver  ports.ChannelController
	Obs     ports.Observability
	Channel domain.ChannelID
	Volts   float64
	Prio    dispatch.Priority
}

func (t *ConstantVoltage) Execute() {
	reportDriverErr(t.Obs, "constant_voltage", t.Channel,
		t.Driver.ConstantVoltage(t.Channel, t.Volts))
}

func (t *ConstantVoltage) Priority() dispatch.Priority { return t.Prio }

// Rest opens the circuit on a channel.
type Rest struct {
	Driver  ports.ChannelController
	Obs     ports.Observability
	Channel domain.ChannelID
}

func (t *Rest) Execute() {
	reportDriverErr(t.Obs, "rest", t.Channel, t.Driver.Rest(t.Channel))
}

func (t *Rest) Priority() dispatch.Priority { return dispatch.Normal }

// Off turns a channel off. Termination paths submit it at High priority so
// hardware shutoff is not queued behind data-plane work.
type Off struct {
	Driver  ports.ChannelController
	Obs     ports.Observability
	Channel domain.ChannelID
	Prio    dispatch.Priority
}

func (t *Off) Execute() {
	reportDriverErr(t.Obs, "off", t.Channel, t.Driver.Off(t.Channel))
}

func (t *Off) Priority() dispatch.Priority { return t.Prio }

// CallbackEval runs one registered callback against the channel's current
// snapshot. The callback reads the table as it stands at execution time,
// which may be newer than the frame that triggered scheduling. A panicking
// callback is caught here, logged, and left registered for the next cycle.
type CallbackEval struct {
	Table        *channeltable.Table
	Obs          ports.Observability
	Channel      domain.ChannelID
	Registration callback.Registration
}

func (t *CallbackEval) Execute() {
	snap, err := t.Table.Snapshot(t.Channel)
	if err != nil {
		t.Obs.LogError("callback_snapshot_failed", err,
			ports.Field{Key: "channel", Value: t.Channel})
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.Obs.IncCounter("cycler_callback_errors_total", 1)
			t.Obs.LogError("callback_panic", nil,
				ports.Field{Key: "channel", Value: t.Channel},
				ports.Field{Key: "panic", Value: r})
		}
	}()
	t.Registration.Fn(t.Channel, snap, t.Registration.Handle)
}

func (t *CallbackEval) Priority() dispatch.Priority { return dispatch.High }

// Filter smooths the channel's voltage trace over a sliding window and
// stores the result back into the table.
type Filter struct {
	Proc    *signalproc.Processor
	Table   *channeltable.Table
	Channel domain.ChannelID
	Frame   domain.Frame
}

func (t *Filter) Execute() {
	if avg, ok := t.Proc.PushAndFilter(t.Channel, t.Frame); ok {
		_ = t.Table.StoreDerived(t.Channel, domain.KeyVoltageFiltered, avg)
	}
}

func (t *Filter) Priority() dispatch.Priority { return dispatch.Normal }

// Fit fits a quadratic to the voltage trace and stores its curvature. It
// reads the processor window as populated by Filter tasks; the frame that
// scheduled it may not be in the window yet, which the staleness contract
// tolerates.
type Fit struct {
	Proc    *signalproc.Processor
	Table   *channeltable.Table
	Channel domain.ChannelID
}

func (t *Fit) Execute() {
	if curv, ok := t.Proc.FitCurvature(t.Channel); ok {
		_ = t.Table.StoreDerived(t.Channel, domain.KeyFitCurvature, curv)
	}
}

func (t *Fit) Priority() dispatch.Priority { return dispatch.Normal }

func reportDriverErr(obs ports.Observability, op string, ch domain.ChannelID, err error) {
	if err == nil {
		return
	}
	obs.IncCounter("cycler_driver_errors_total", 1)
	obs.LogError("driver_command_failed", err,
		ports.Field{Key: "op", Value: op},
		ports.Field{Key: "channel", Value: ch})
}
