package channelmanager

import (
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/app/config"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	base "github.com/ZhiyuanArbin/ChannelManagerArchitecture/pkg/cycler"
)

// Re-exported errors for convenience.
var (
	ErrChannelRange   = domain.ErrChannelRange
	ErrCurrentRange   = domain.ErrCurrentRange
	ErrVoltageRange   = domain.ErrVoltageRange
	ErrServiceStopped = domain.ErrServiceStopped
)

// MaxChannels is the number of test channels the service manages.
const MaxChannels = domain.MaxChannels

// Type aliases so consumers can import the module root directly.
type (
	Config    = config.Config
	ChannelID = domain.ChannelID
	Frame     = domain.Frame
	Snapshot  = domain.Snapshot
	Service   = base.Service
	Option    = base.Option
	StepLimit = base.StepLimit

	ChannelController = ports.ChannelController
	FrameSource       = ports.FrameSource
	Observability     = ports.Observability
	Field             = ports.Field
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Service construction and options.
func New(cfg *Config, opts ...Option) (*Service, error) {
	return base.New(cfg, opts...)
}

func WithDriver(d ChannelController) Option {
	return base.WithDriver(d)
}

func WithFrameSource(src FrameSource) Option {
	return base.WithFrameSource(src)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithWorkerCount(n int) Option {
	return base.WithWorkerCount(n)
}

// LimitReached reports whether a snapshot satisfies any of the step limits.
func LimitReached(snap Snapshot, limits []StepLimit) bool {
	return base.LimitReached(snap, limits)
}
