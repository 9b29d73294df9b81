// Package signalproc holds the light signal processing applied to the
// telemetry stream: windowed smoothing of the voltage trace and a
// least-squares polynomial fit of voltage over time. The processor keeps
// its own per-channel sliding window; the channel table stays history-free.
package signalproc

import (
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
)

// DefaultWindow is the number of samples retained per channel.
const DefaultWindow = 16

type sample struct {
	t, v float64
}

// Processor maintains one sliding window of (timestamp, voltage) pairs per
// channel. Push-style updates come from Filter tasks; Fit tasks read the
// window as it stands, which may trail the newest frame by one update.
type Processor struct {
	window int
	chans  [domain.MaxChannels]struct {
		mu   sync.Mutex
		hist []sample
	}
}

func New(window int) *Processor {
	if window < 2 {
		window = DefaultWindow
	}
	return &Processor{window: window}
}

// PushAndFilter appends the frame's voltage sample to the channel window
// and returns the windowed mean. ok is false when the frame carries no
// voltage/timestamp pair.
func (p *Processor) PushAndFilter(ch domain.ChannelID, f domain.Frame) (float64, bool) {
	if !ch.Valid() {
		return 0, false
	}
	v, okV := f[domain.KeyVoltage]
	t, okT := f[domain.KeyTimestamp]
	if !okV || !okT {
		return 0, false
	}

	c := &p.chans[ch]
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hist = append(c.hist, sample{t: t, v: v})
	if len(c.hist) > p.window {
		c.hist = c.hist[len(c.hist)-p.window:]
	}
	vs := make([]float64, len(c.hist))
	for i, s := range c.hist {
		vs[i] = s.v
	}
	return stat.Mean(vs, nil), true
}

// FitCurvature fits v(t) = a0 + a1·t + a2·t² over the channel window by
// least squares and returns a2. ok is false until the window holds enough
// distinct samples to determine the quadratic.
func (p *Processor) FitCurvature(ch domain.ChannelID) (float64, bool) {
	if !ch.Valid() {
		return 0, false
	}
	c := &p.chans[ch]
	c.mu.Lock()
	hist := make([]sample, len(c.hist))
	copy(hist, c.hist)
	c.mu.Unlock()

	if len(hist) < 3 {
		return 0, false
	}
	// Shift timestamps to the window origin to keep the Vandermonde
	// matrix well-conditioned.
	t0 := hist[0].t
	a := mat.NewDense(len(hist), 3, nil)
	b := mat.NewVecDense(len(hist), nil)
	distinct := map[float64]struct{}{}
	for i, s := range hist {
		t := s.t - t0
		distinct[t] = struct{}{}
		a.Set(i, 0, 1)
		a.Set(i, 1, t)
		a.Set(i, 2, t*t)
		b.SetVec(i, s.v)
	}
	if len(distinct) < 3 {
		return 0, false
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return 0, false
	}
	return coef.AtVec(2), true
}

// Reset drops the channel's window, e.g. when a new test begins.
func (p *Processor) Reset(ch domain.ChannelID) {
	if !ch.Valid() {
		return
	}
	c := &p.chans[ch]
	c.mu.Lock()
	c.hist = nil
	c.mu.Unlock()
}
