package ports

import "github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"

// ChannelController is the contract with the low-level hardware driver on
// the real-time core. All four operations are synchronous and side-effectful.
// Implementations must be safe to call concurrently for distinct channels;
// the control plane serialises per-channel commands by gating each command
// on the data-plane effect of the previous one.
type ChannelController interface {
	ConstantCurrent(ch domain.ChannelID, amps float64) error
	ConstantVoltage(ch domain.ChannelID, volts float64) error
	Rest(ch domain.ChannelID) error
	Off(ch domain.ChannelID) error
}
