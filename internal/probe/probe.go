package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/target"
)

const (
	// DefaultTimeout bounds a single echo
	DefaultTimeout = 5 * time.Second

	// DefaultPayloadSize is the echo payload length in bytes
	DefaultPayloadSize = 32
)

var (
	// ErrTimeout means no matching reply arrived before the deadline
	ErrTimeout = errors.New("echo timeout")

	// ErrResolve means the target address could not be turned into an IP
	ErrResolve = errors.New("resolve failed")
)

// Pinger sends one echo request and waits for the matching reply.
// The deadline comes from ctx.
type Pinger interface {
	Echo(ctx context.Context, addr net.IP, seq uint16) (time.Duration, error)
}

// Resolver turns a target address into an IP
type Resolver interface {
	Resolve(ctx context.Context, address string) (net.IP, error)
}

// Result is the outcome of one probe invocation
type Result struct {
	Target  target.Target `json:"target"`
	Seq     uint16        `json:"seq"`
	Sample  stats.Sample  `json:"sample"`
	RTT     time.Duration `json:"-"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}

// Sink receives every recorded result
type Sink interface {
	Publish(Result)
}

// LatencyMs maps an echo outcome to the recorded latency: the round-trip
// time in milliseconds clamped to the ceiling, or the ceiling itself on any
// failure.
func LatencyMs(rtt time.Duration, err error) float64 {
	if err != nil {
		return stats.Ceiling
	}
	ms := float64(rtt) / float64(time.Millisecond)
	if ms > stats.Ceiling {
		return stats.Ceiling
	}
	if ms < 0 {
		return 0
	}
	return ms
}

// DNSResolver uses IP literals as-is and looks up everything else, taking
// the first address. Concurrent lookups of one name share a single query.
type DNSResolver struct {
	resolver *net.Resolver
	group    singleflight.Group
}

// NewDNSResolver creates a resolver backed by net.DefaultResolver
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{resolver: net.DefaultResolver}
}

// Resolve returns the IP for address
func (r *DNSResolver) Resolve(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		return ip, nil
	}

	v, err, _ := r.group.Do(address, func() (interface{}, error) {
		addrs, err := r.resolver.LookupIPAddr(ctx, address)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses")
		}
		return addrs[0].IP, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, address, err)
	}
	return v.(net.IP), nil
}
