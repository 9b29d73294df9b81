// Package ingest runs the data-plane loop: one dedicated goroutine that
// reads telemetry frames from the transport, merges them into the channel
// table, and fans work out to the dispatcher. Callbacks never run on the
// ingest goroutine; a slow callback cannot starve ingestion.
package ingest

import (
	"context"
	"time"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/callback"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/channeltable"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/dispatch"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/signalproc"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/tasks"
)

// DefaultInterval is the yield between ingest iterations.
const DefaultInterval = time.Millisecond

// errBackoff is how long the loop waits after a transport read failure.
const errBackoff = 10 * time.Millisecond

type Loop struct {
	Source     ports.FrameSource
	Table      *channeltable.Table
	Registry   *callback.Registry
	Dispatcher *dispatch.Dispatcher
	Proc       *signalproc.Processor
	Obs        ports.Observability
	Interval   time.Duration
}

// Run blocks until the context is cancelled, completing at most the
// iteration in flight.
func (l *Loop) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	buf := make([]domain.Frame, domain.MaxChannels)
	for ctx.Err() == nil {
		if err := l.Source.ReadFrames(buf); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Obs.LogError("ingest_read_failed", err)
			sleepCtx(ctx, errBackoff)
			continue
		}

		for i, f := range buf {
			if len(f) == 0 {
				continue
			}
			ch := domain.ChannelID(i)
			if _, err := l.Table.UpdateFrom(ch, f); err != nil {
				l.Obs.LogError("table_update_failed", err,
					ports.Field{Key: "channel", Value: ch})
				continue
			}
			l.Obs.IncCounter("cycler_frames_ingested_total", 1)

			frame := f.Clone()
			l.Dispatcher.Submit(&tasks.Filter{Proc: l.Proc, Table: l.Table, Channel: ch, Frame: frame})
			l.Dispatcher.Submit(&tasks.Fit{Proc: l.Proc, Table: l.Table, Channel: ch})

			if l.Table.IsSubscribed(ch) {
				l.Registry.ForEach(ch, func(reg callback.Registration) {
					l.Dispatcher.Submit(&tasks.CallbackEval{
						Table:        l.Table,
						Obs:          l.Obs,
						Channel:      ch,
						Registration: reg,
					})
				})
			}
		}

		sleepCtx(ctx, interval)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
