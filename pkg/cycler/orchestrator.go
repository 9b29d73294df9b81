package cycler

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/callback"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/dispatch"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/tasks"
)

// StepLimit terminates a test once the named metric reaches its threshold.
type StepLimit struct {
	Metric    string
	Threshold float64
}

// LimitReached reports whether at least one limit's metric is present in
// the snapshot and >= its threshold.
func LimitReached(snap domain.Snapshot, limits []StepLimit) bool {
	for _, l := range limits {
		if v, ok := snap[l.Metric]; ok && v >= l.Threshold {
			return true
		}
	}
	return false
}

// cvTaperFraction of the CC-phase current at which the CV hold reports the
// charge as tapered off.
const cvTaperFraction = 0.05

// RunCCCV charges a channel at constant current until targetVoltage, then
// holds constant voltage. The procedure is purely a composition: a CC
// command plus two reactive callbacks (CV transition, step-limit
// termination) over the live measurement table.
func (s *Service) RunCCCV(ch domain.ChannelID, current, targetVoltage float64, limits []StepLimit) error {
	if !ch.Valid() {
		return fmt.Errorf("runCCCV channel %d: %w", ch, domain.ErrChannelRange)
	}
	if err := s.running(); err != nil {
		return err
	}

	testID := uuid.NewString()
	s.obs.LogInfo("cccv_start",
		ports.Field{Key: "test_id", Value: testID},
		ports.Field{Key: "channel", Value: ch},
		ports.Field{Key: "current", Value: current},
		ports.Field{Key: "target_voltage", Value: targetVoltage})

	s.proc.Reset(ch)
	if err := s.table.Subscribe(ch); err != nil {
		return err
	}

	s.dispatcher.Submit(&tasks.ConstantCurrent{
		Driver: s.driver, Obs: s.obs, Channel: ch, Amps: current,
	})

	// CV transition: fires once when the voltage threshold is crossed.
	// Evaluations of the same registration can overlap on the worker
	// pool, so the transition body is guarded by a Once.
	var transition sync.Once
	if _, err := s.registry.Register(ch, func(c domain.ChannelID, snap domain.Snapshot, self callback.Handle) {
		v, ok := snap[domain.KeyVoltage]
		if !ok || v < targetVoltage {
			return
		}
		transition.Do(func() {
			s.obs.LogInfo("cccv_cv_transition",
				ports.Field{Key: "test_id", Value: testID},
				ports.Field{Key: "channel", Value: c},
				ports.Field{Key: "voltage", Value: v})
			s.dispatcher.Submit(&tasks.ConstantVoltage{
				Driver: s.driver, Obs: s.obs, Channel: c,
				Volts: targetVoltage, Prio: dispatch.High,
			})
			_ = s.registry.Unregister(c, self)
			_, _ = s.registry.Register(c, s.cvHold(testID, current))
		})
	}); err != nil {
		return err
	}

	// Step-limit termination: stays registered across the CC→CV
	// transition.
	var terminate sync.Once
	if _, err := s.registry.Register(ch, func(c domain.ChannelID, snap domain.Snapshot, _ callback.Handle) {
		if !LimitReached(snap, limits) {
			return
		}
		terminate.Do(func() {
			s.obs.LogInfo("cccv_limit_reached",
				ports.Field{Key: "test_id", Value: testID},
				ports.Field{Key: "channel", Value: c})
			s.terminate(c)
		})
	}); err != nil {
		return err
	}

	return nil
}

// cvHold monitors the constant-voltage phase and reports once when the
// charge current has tapered below cvTaperFraction of the CC current.
func (s *Service) cvHold(testID string, ccCurrent float64) callback.Func {
	var tapered sync.Once
	return func(c domain.ChannelID, snap domain.Snapshot, _ callback.Handle) {
		i, ok := snap[domain.KeyCurrent]
		if !ok || ccCurrent == 0 {
			return
		}
		if i <= ccCurrent*cvTaperFraction {
			tapered.Do(func() {
				s.obs.LogInfo("cccv_taper_complete",
					ports.Field{Key: "test_id", Value: testID},
					ports.Field{Key: "channel", Value: c},
					ports.Field{Key: "current", Value: i})
			})
		}
	}
}

// terminate tears down a channel's test: callbacks gone, subscription off,
// hardware shut off ahead of queued data-plane work.
func (s *Service) terminate(ch domain.ChannelID) {
	_ = s.registry.UnregisterAll(ch)
	_ = s.table.Unsubscribe(ch)
	s.dispatcher.Submit(&tasks.Off{
		Driver: s.driver, Obs: s.obs, Channel: ch, Prio: dispatch.High,
	})
}

// RunRest opens the circuit on a channel.
func (s *Service) RunRest(ch domain.ChannelID) error {
	if !ch.Valid() {
		return fmt.Errorf("runRest channel %d: %w", ch, domain.ErrChannelRange)
	}
	if err := s.running(); err != nil {
		return err
	}
	s.dispatcher.Submit(&tasks.Rest{Driver: s.driver, Obs: s.obs, Channel: ch})
	return nil
}

// RunDCIM measures a channel's direct-current internal resistance: rest to
// capture the open-circuit voltage, pulse constant current, read the
// loaded voltage on the first later update whose voltage differs from the
// rest voltage, then shut the channel off. The result
// lands in the table under "resistance".
func (s *Service) RunDCIM(ch domain.ChannelID, current float64) error {
	if !ch.Valid() {
		return fmt.Errorf("runDCIM channel %d: %w", ch, domain.ErrChannelRange)
	}
	if current == 0 {
		return fmt.Errorf("runDCIM channel %d: zero pulse current: %w", ch, domain.ErrCurrentRange)
	}
	if err := s.running(); err != nil {
		return err
	}

	testID := uuid.NewString()
	s.obs.LogInfo("dcim_start",
		ports.Field{Key: "test_id", Value: testID},
		ports.Field{Key: "channel", Value: ch},
		ports.Field{Key: "current", Value: current})

	if err := s.table.Subscribe(ch); err != nil {
		return err
	}
	s.dispatcher.Submit(&tasks.Rest{Driver: s.driver, Obs: s.obs, Channel: ch})

	var (
		mu        sync.Mutex
		restVolts float64
		phase     int // 0: waiting for rest voltage, 1: waiting for loaded voltage
	)
	_, err := s.registry.Register(ch, func(c domain.ChannelID, snap domain.Snapshot, self callback.Handle) {
		v, ok := snap[domain.KeyVoltage]
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch phase {
		case 0:
			restVolts = v
			phase = 1
			s.dispatcher.Submit(&tasks.ConstantCurrent{
				Driver: s.driver, Obs: s.obs, Channel: c, Amps: current,
			})
		case 1:
			if v == restVolts {
				// Pulse effect not visible yet.
				return
			}
			phase = 2
			r := (v - restVolts) / current
			_ = s.table.StoreDerived(c, domain.KeyResistance, r)
			s.obs.LogInfo("dcim_complete",
				ports.Field{Key: "test_id", Value: testID},
				ports.Field{Key: "channel", Value: c},
				ports.Field{Key: "resistance", Value: r})
			_ = s.registry.Unregister(c, self)
			_ = s.table.Unsubscribe(c)
			s.dispatcher.Submit(&tasks.Off{
				Driver: s.driver, Obs: s.obs, Channel: c, Prio: dispatch.High,
			})
		}
	})
	return err
}

// rampSteps is the number of increments RunCurrentRamp uses to reach the
// target current.
const rampSteps = 5

// RunCurrentRamp steps the channel's current toward the target in equal
// increments, each step gated on a fresh table update so the previous
// step's effect is visible before the next command is issued.
func (s *Service) RunCurrentRamp(ch domain.ChannelID, current float64) error {
	if !ch.Valid() {
		return fmt.Errorf("runCurrentRamp channel %d: %w", ch, domain.ErrChannelRange)
	}
	if current == 0 {
		return fmt.Errorf("runCurrentRamp channel %d: zero target current: %w", ch, domain.ErrCurrentRange)
	}
	if err := s.running(); err != nil {
		return err
	}

	testID := uuid.NewString()
	s.obs.LogInfo("ramp_start",
		ports.Field{Key: "test_id", Value: testID},
		ports.Field{Key: "channel", Value: ch},
		ports.Field{Key: "target_current", Value: current})

	if err := s.table.Subscribe(ch); err != nil {
		return err
	}

	step := current / rampSteps
	var (
		mu   sync.Mutex
		next = 1
	)
	s.dispatcher.Submit(&tasks.ConstantCurrent{
		Driver: s.driver, Obs: s.obs, Channel: ch, Amps: step,
	})
	_, err := s.registry.Register(ch, func(c domain.ChannelID, snap domain.Snapshot, self callback.Handle) {
		mu.Lock()
		defer mu.Unlock()
		if next >= rampSteps {
			return
		}
		next++
		amps := step * float64(next)
		s.dispatcher.Submit(&tasks.ConstantCurrent{
			Driver: s.driver, Obs: s.obs, Channel: c, Amps: amps,
		})
		if next == rampSteps {
			s.obs.LogInfo("ramp_complete",
				ports.Field{Key: "test_id", Value: testID},
				ports.Field{Key: "channel", Value: c},
				ports.Field{Key: "current", Value: amps})
			_ = s.registry.Unregister(c, self)
			_ = s.table.Unsubscribe(c)
		}
	})
	return err
}
