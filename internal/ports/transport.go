package ports

import "github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"

// FrameSource streams telemetry from the companion core. ReadFrames fills
// dst (length domain.MaxChannels) so that dst[ch] holds the latest
// measurements for channel ch; entries may be nil when a channel produced
// nothing this round. The call may block until at least one frame is
// available.
type FrameSource interface {
	ReadFrames(dst []domain.Frame) error
	Close() error
}
