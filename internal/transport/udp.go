package transport

import (
	"net"

	"golang.org/x/net/ipv4"
)

// ListenUDP binds the shared socket. A non-zero tos is applied to every
// outgoing datagram.
func ListenUDP(addr string, tos int) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, &FatalError{Op: "bind " + addr, Err: err}
	}
	if tos != 0 {
		if err := ipv4.NewPacketConn(conn).SetTOS(tos); err != nil {
			conn.Close()
			return nil, &FatalError{Op: "set tos", Err: err}
		}
	}
	return conn, nil
}
