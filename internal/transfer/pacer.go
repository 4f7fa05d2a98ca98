package transfer

import (
	"context"
	"sync"
	"time"
)

// pacer serializes data frames onto a channel and applies backpressure.
//
// Before each frame it compares the channel's buffered amount with the high
// watermark. Above it, the sender parks on one one-shot low-watermark
// listener until the transport reports the buffer has drained. Because the
// check and the send happen under one lock, at most highWater + frame bytes
// are ever outstanding.
type pacer struct {
	ch        Channel
	highWater uint64
	lowWater  uint64
	stall     time.Duration

	mu sync.Mutex
}

func newPacer(ch Channel, highWater, lowWater uint64, stall time.Duration) *pacer {
	ch.SetBufferedAmountLowThreshold(lowWater)
	return &pacer{
		ch:        ch,
		highWater: highWater,
		lowWater:  lowWater,
		stall:     stall,
	}
}

// send writes one binary frame, waiting for room first.
func (p *pacer) send(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.waitForWindow(ctx); err != nil {
		return err
	}
	return p.ch.Send(frame)
}

// sendText writes one text frame under the same rule.
func (p *pacer) sendText(ctx context.Context, s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.waitForWindow(ctx); err != nil {
		return err
	}
	return p.ch.SendText(s)
}

func (p *pacer) waitForWindow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	if !isOpen(p.ch) {
		return ErrChannelClosed
	}
	if p.ch.BufferedAmount() <= p.highWater {
		return nil
	}

	wake := make(chan struct{}, 1)
	p.ch.OnBufferedAmountLow(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer p.ch.OnBufferedAmountLow(func() {})

	// The buffer may have drained between the check and the registration,
	// in which case the edge already happened.
	if p.ch.BufferedAmount() <= p.lowWater {
		return nil
	}

	var timeout <-chan time.Time
	if p.stall > 0 {
		t := time.NewTimer(p.stall)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-wake:
	case <-ctx.Done():
		return ErrCancelled
	case <-timeout:
		return WrapError("send", ErrBufferTimeout, "buffer not draining")
	}

	if !isOpen(p.ch) {
		return ErrChannelClosed
	}
	return nil
}
