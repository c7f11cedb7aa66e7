package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	trackerLength    = len(uuid.UUID{})
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	ipv4Proto = map[bool]string{true: "ip4:icmp", false: "udp4"}
	ipv6Proto = map[bool]string{true: "ip6:ipv6-icmp", false: "udp6"}
)

// ICMPPinger implements Pinger with one short-lived ICMP socket per echo.
// Raw sockets see every reply on the host, so replies are matched on the
// sequence number and a per-pinger tracker in the payload.
type ICMPPinger struct {
	privileged  bool
	payloadSize int
	id          int
	tracker     uuid.UUID
}

// NewICMPPinger creates a pinger. Unprivileged mode uses datagram ICMP
// sockets, where the kernel owns the echo identifier.
func NewICMPPinger(privileged bool, payloadSize int) *ICMPPinger {
	if payloadSize < trackerLength {
		payloadSize = DefaultPayloadSize
	}
	tracker := uuid.New()
	return &ICMPPinger{
		privileged:  privileged,
		payloadSize: payloadSize,
		id:          int(binary.BigEndian.Uint16(tracker[:2])),
		tracker:     tracker,
	}
}

// payload is the tracker followed by zero padding
func (p *ICMPPinger) payload() []byte {
	data := make([]byte, p.payloadSize)
	copy(data, p.tracker[:])
	return data
}

// Echo sends one echo request to addr and waits for its reply
func (p *ICMPPinger) Echo(ctx context.Context, addr net.IP, seq uint16) (time.Duration, error) {
	isV4 := addr.To4() != nil

	network, listen, proto := ipv6Proto[p.privileged], "::", protocolIPv6ICMP
	var reqType, replyType icmp.Type = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	if isV4 {
		network, listen, proto = ipv4Proto[p.privileged], "0.0.0.0", protocolICMP
		reqType, replyType = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}

	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s socket: %w", network, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg := icmp.Message{
		Type: reqType,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: int(seq), Data: p.payload()},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: addr}
	if !p.privileged {
		dst = &net.UDPAddr{IP: addr}
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, fmt.Errorf("failed to send echo: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("failed to read reply: %w", err)
		}
		rtt := time.Since(start)

		if !p.matches(rb[:n], proto, replyType, seq) || !samePeer(peer, addr) {
			continue
		}
		return rtt, nil
	}
}

// matches reports whether packet is the reply to our echo with seq
func (p *ICMPPinger) matches(packet []byte, proto int, replyType icmp.Type, seq uint16) bool {
	m, err := icmp.ParseMessage(proto, packet)
	if err != nil || m.Type != replyType {
		return false
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok || echo.Seq != int(seq) {
		return false
	}
	// The kernel rewrites the identifier on datagram sockets
	if p.privileged && echo.ID != p.id {
		return false
	}
	return len(echo.Data) >= trackerLength && bytes.Equal(echo.Data[:trackerLength], p.tracker[:])
}

func samePeer(peer net.Addr, addr net.IP) bool {
	switch a := peer.(type) {
	case *net.IPAddr:
		return a.IP.Equal(addr)
	case *net.UDPAddr:
		return a.IP.Equal(addr)
	}
	return false
}
