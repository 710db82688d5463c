// Package transport opens the datagram sockets transfers run over: plain UDP,
// or AX.25 UI frames through a KISS TNC reached over TCP or a serial port.
// Everything is exposed as a net.PacketConn so the session and client code
// does not care which one is underneath.
package transport

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
)

const (
	KindUDP        = "udp"
	KindKISSTCP    = "kiss-tcp"
	KindKISSSerial = "kiss-serial"
)

// FatalError means the transport could not be brought up at all.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Options select and configure a transport.
type Options struct {
	Kind string
	// Listen is the local UDP address; ":0" picks a free port.
	Listen string
	TOS    int
	// KISS settings.
	KISSAddr   string
	SerialPort string
	Baud       int
	Callsign   string
}

func (o *Options) RegisterFlags(fs *flag.FlagSet, listen string) {
	o.Listen = listen
	fs.StringVar(&o.Kind, "transport", KindUDP, "Transport: udp, kiss-tcp or kiss-serial")
	fs.StringVar(&o.Listen, "listen", o.Listen, "Local UDP address")
	fs.IntVar(&o.TOS, "tos", 0, "IP TOS byte for outgoing UDP datagrams (0 leaves the default)")
	fs.StringVar(&o.KISSAddr, "kiss-addr", "127.0.0.1:8001", "KISS TNC host:port for kiss-tcp")
	fs.StringVar(&o.SerialPort, "serial-port", "", "Serial port (e.g. COM3 or /dev/ttyUSB0) for kiss-serial")
	fs.IntVar(&o.Baud, "baud", 115200, "Baud rate for serial")
	fs.StringVar(&o.Callsign, "my-callsign", "", "Your callsign (required for KISS transports)")
}

// Open brings up the configured transport.
func Open(o Options) (net.PacketConn, error) {
	switch o.Kind {
	case "", KindUDP:
		return ListenUDP(o.Listen, o.TOS)
	case KindKISSTCP:
		if o.Callsign == "" {
			return nil, &FatalError{Op: "open kiss", Err: errors.New("callsign required")}
		}
		return DialKISS(o.KISSAddr, o.Callsign)
	case KindKISSSerial:
		if o.Callsign == "" || o.SerialPort == "" {
			return nil, &FatalError{Op: "open kiss", Err: errors.New("callsign and serial port required")}
		}
		return OpenSerialKISS(o.SerialPort, o.Baud, o.Callsign)
	}
	return nil, &FatalError{Op: "open", Err: fmt.Errorf("unknown transport %q", o.Kind)}
}

// ResolvePeer turns a user supplied peer into an address for the transport.
func ResolvePeer(o Options, peer string) (net.Addr, error) {
	switch o.Kind {
	case KindKISSTCP, KindKISSSerial:
		return Callsign(strings.ToUpper(strings.TrimSpace(peer))), nil
	}
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", peer, err)
	}
	return addr, nil
}

// Link sends to one fixed peer over a shared PacketConn. Every write is a
// single WriteTo; KISSConn serializes its own writers.
type Link struct {
	conn net.PacketConn
	peer net.Addr
}

func NewLink(conn net.PacketConn, peer net.Addr) *Link {
	return &Link{conn: conn, peer: peer}
}

func (l *Link) Send(b []byte) error {
	_, err := l.conn.WriteTo(b, l.peer)
	return err
}

func (l *Link) Peer() net.Addr { return l.peer }

// IsTimeout reports whether err is a read deadline expiring.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
