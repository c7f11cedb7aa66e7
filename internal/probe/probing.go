package probe

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ProbingPinger implements Pinger on pro-bing. pro-bing numbers echo
// sequences itself, so the caller's sequence number is carried in the echo
// identifier instead.
type ProbingPinger struct {
	payloadSize int
	privileged  atomic.Bool
}

// NewProbingPinger creates a pro-bing backed pinger
func NewProbingPinger(privileged bool, payloadSize int) *ProbingPinger {
	if payloadSize <= 0 {
		payloadSize = DefaultPayloadSize
	}
	p := &ProbingPinger{payloadSize: payloadSize}
	p.privileged.Store(privileged) // Try privileged mode first
	return p
}

// Echo sends a single echo request to addr
func (p *ProbingPinger) Echo(ctx context.Context, addr net.IP, seq uint16) (time.Duration, error) {
	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return 0, ErrTimeout
	}

	rtt, received, err := p.run(ctx, addr, seq, timeout, p.privileged.Load())
	if err != nil && ctx.Err() != nil {
		return 0, ErrTimeout
	}
	if err != nil && p.privileged.Load() {
		// If privileged mode fails, switch to unprivileged for good
		p.privileged.Store(false)
		rtt, received, err = p.run(ctx, addr, seq, timeout, false)
	}
	if err != nil {
		return 0, fmt.Errorf("ping failed: %w", err)
	}
	if !received {
		return 0, ErrTimeout
	}
	return rtt, nil
}

func (p *ProbingPinger) run(ctx context.Context, addr net.IP, seq uint16, timeout time.Duration, privileged bool) (time.Duration, bool, error) {
	pinger := probing.New(addr.String())
	pinger.SetIPAddr(&net.IPAddr{IP: addr})
	pinger.SetPrivileged(privileged)
	pinger.SetID(int(seq))
	pinger.Count = 1
	pinger.Size = p.payloadSize
	pinger.Timeout = timeout

	var (
		rtt      time.Duration
		received bool
	)
	pinger.OnRecv = func(pkt *probing.Packet) {
		if !received {
			rtt = pkt.Rtt
			received = true
		}
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, false, err
	}
	return rtt, received, nil
}
