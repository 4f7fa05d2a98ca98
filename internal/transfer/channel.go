package transfer

import (
	"github.com/pion/webrtc/v4"
)

// Channel is the part of a data channel the engine uses.
// *webrtc.DataChannel satisfies it.
type Channel interface {
	Send(data []byte) error
	SendText(s string) error
	ReadyState() webrtc.DataChannelState
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
}

var _ Channel = (*webrtc.DataChannel)(nil)

func isOpen(ch Channel) bool {
	return ch != nil && ch.ReadyState() == webrtc.DataChannelStateOpen
}
