package transport

import (
	"math"
	"sync"
	"time"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
)

// Simulator synthesises a plausible charge curve for every channel so the
// service can run end-to-end on a host with no companion core. Voltage
// relaxes exponentially toward the per-channel target; a small sinusoid
// stands in for measurement noise.
type Simulator struct {
	mu      sync.Mutex
	tick    time.Duration
	elapsed float64
	volts   [domain.MaxChannels]float64
	target  [domain.MaxChannels]float64
	amps    [domain.MaxChannels]float64
	closed  bool
}

func NewSimulator(tick time.Duration) *Simulator {
	if tick <= 0 {
		tick = time.Millisecond
	}
	s := &Simulator{tick: tick}
	for i := range s.volts {
		s.volts[i] = 3.0
		s.target[i] = 4.2
		s.amps[i] = 2.0
	}
	return s
}

// SetTarget adjusts the voltage a channel's curve relaxes toward.
func (s *Simulator) SetTarget(ch domain.ChannelID, volts float64) {
	if !ch.Valid() {
		return
	}
	s.mu.Lock()
	s.target[ch] = volts
	s.mu.Unlock()
}

func (s *Simulator) ReadFrames(dst []domain.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrServiceStopped
	}

	time.Sleep(s.tick)
	s.elapsed += s.tick.Seconds()

	for ch := range dst {
		if ch >= domain.MaxChannels {
			break
		}
		s.volts[ch] += (s.target[ch] - s.volts[ch]) * 0.05
		noise := 0.002 * math.Sin(s.elapsed*37+float64(ch))
		dst[ch] = domain.Frame{
			domain.KeyVoltage:     s.volts[ch] + noise,
			domain.KeyCurrent:     s.amps[ch],
			domain.KeyTemperature: 25.0,
			domain.KeyTimestamp:   s.elapsed,
		}
	}
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ ports.FrameSource = (*Simulator)(nil)
