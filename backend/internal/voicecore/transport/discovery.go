package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	voiceerrors "voicecore/backend/pkg/errors"
)

// noDeadline clears a previously set read/write deadline.
var noDeadline time.Time

// discoveryPacketSize is the fixed size of both the IP discovery
// request and response datagrams.
const discoveryPacketSize = 74

// discoveryType/discoveryLength are the request's leading fields:
// type 0x1 (request), remaining length 70 bytes.
const (
	discoveryType   uint16 = 1
	discoveryLength uint16 = 70
)

// Address is the external IP/port a relay reports back during IP
// discovery.
type Address struct {
	IP   string
	Port uint16
}

// Discover performs the IP discovery handshake: it writes a 74-byte
// request carrying the SSRC and reads back
// a 74-byte response carrying the client's external address as seen
// by the relay.
//
// Given ssrc=0xCAFEBABE, the first 8 bytes of the request are exactly
// `00 01 00 46 CA FE BA BE` and the remaining 66 bytes are zero.
func Discover(ctx context.Context, conn net.Conn, ssrc uint32) (Address, error) {
	var request [discoveryPacketSize]byte
	binary.BigEndian.PutUint16(request[0:2], discoveryType)
	binary.BigEndian.PutUint16(request[2:4], discoveryLength)
	binary.BigEndian.PutUint32(request[4:8], ssrc)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(noDeadline)
	}
	if _, err := conn.Write(request[:]); err != nil {
		return Address{}, voiceerrors.NewBaseError(voiceerrors.ErrorTypeTransport, "IP discovery request write failed", err)
	}

	var response [discoveryPacketSize]byte
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(noDeadline)
	}
	if _, err := io.ReadFull(conn, response[:]); err != nil {
		return Address{}, voiceerrors.ErrIPDiscoveryFailed
	}

	return parseDiscoveryResponse(response[:])
}

// parseDiscoveryResponse extracts the null-terminated IP string and
// little-endian port from bytes [8:74) of a discovery response.
func parseDiscoveryResponse(response []byte) (Address, error) {
	if len(response) != discoveryPacketSize {
		return Address{}, voiceerrors.ErrIPDiscoveryFailed
	}

	body := response[8:72]
	nullPos := bytes.IndexByte(body, 0)
	if nullPos < 0 {
		return Address{}, voiceerrors.ErrIPDiscoveryFailed
	}

	ip := string(body[:nullPos])
	port := binary.LittleEndian.Uint16(response[72:74])
	return Address{IP: ip, Port: port}, nil
}

// DiscoverWithRetries retries Discover up to maxRetries times, each
// attempt bounded by perAttemptTimeout, surfacing
// voiceerrors.ErrIPDiscoveryFailed once the retry budget is spent.
func DiscoverWithRetries(ctx context.Context, conn net.Conn, ssrc uint32, maxRetries int, perAttemptTimeout time.Duration) (Address, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		addr, err := Discover(attemptCtx, conn, ssrc)
		cancel()
		if err == nil {
			return addr, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return Address{}, voiceerrors.NewContextCancelled("ip discovery", ctx.Err())
		default:
		}
	}
	if lastErr != nil {
		return Address{}, voiceerrors.ErrIPDiscoveryFailed
	}
	return Address{}, voiceerrors.ErrIPDiscoveryFailed
}
