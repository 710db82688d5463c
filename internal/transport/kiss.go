package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	kissFend    = 0xC0
	kissFesc    = 0xDB
	kissTfend   = 0xDC
	kissTfesc   = 0xDD
	kissCmdData = 0x00

	ax25HeaderLen = 16
	ax25Control   = 0x03
	ax25PID       = 0xF0
)

// Callsign addresses a station on a KISS link, e.g. "N0CALL-7".
type Callsign string

func (c Callsign) Network() string { return "ax25" }

func (c Callsign) String() string { return string(c) }

func kissEscape(data []byte) []byte {
	var out bytes.Buffer
	for _, b := range data {
		switch b {
		case kissFend:
			out.Write([]byte{kissFesc, kissTfend})
		case kissFesc:
			out.Write([]byte{kissFesc, kissTfesc})
		default:
			out.WriteByte(b)
		}
	}
	return out.Bytes()
}

func kissUnescape(data []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == kissFesc && i+1 < len(data) {
			switch data[i+1] {
			case kissTfend:
				out.WriteByte(kissFend)
				i++
				continue
			case kissTfesc:
				out.WriteByte(kissFesc)
				i++
				continue
			}
		}
		out.WriteByte(b)
	}
	return out.Bytes()
}

func kissFrame(packet []byte) []byte {
	frame := []byte{kissFend, kissCmdData}
	frame = append(frame, kissEscape(packet)...)
	return append(frame, kissFend)
}

// splitKISSFrames returns the complete FEND-delimited frames in data and the
// unconsumed tail. A closing FEND may also open the next frame.
func splitKISSFrames(data []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		start := bytes.IndexByte(data, kissFend)
		if start == -1 {
			return frames, nil
		}
		end := bytes.IndexByte(data[start+1:], kissFend)
		if end == -1 {
			return frames, data[start:]
		}
		end += start + 1
		if end-start > 1 {
			frames = append(frames, data[start:end+1])
		}
		data = data[end:]
	}
}

func encodeAX25Address(callsign string, last bool) []byte {
	call, ssidStr, _ := strings.Cut(strings.ToUpper(callsign), "-")
	if len(call) < 6 {
		call += strings.Repeat(" ", 6-len(call))
	}
	addr := make([]byte, 7)
	for i := 0; i < 6; i++ {
		addr[i] = call[i] << 1
	}
	ssid, _ := strconv.Atoi(ssidStr)
	addr[6] = 0x60 | byte(ssid&0x0F)<<1
	if last {
		addr[6] |= 0x01
	}
	return addr
}

func decodeAX25Address(addr []byte) string {
	if len(addr) < 7 {
		return ""
	}
	var call bytes.Buffer
	for i := 0; i < 6; i++ {
		call.WriteByte(addr[i] >> 1)
	}
	base := strings.TrimSpace(call.String())
	if ssid := (addr[6] >> 1) & 0x0F; ssid != 0 {
		return fmt.Sprintf("%s-%d", base, ssid)
	}
	return base
}

func ax25Header(source, destination string) []byte {
	header := encodeAX25Address(destination, false)
	header = append(header, encodeAX25Address(source, true)...)
	return append(header, ax25Control, ax25PID)
}

type kissDatagram struct {
	from    Callsign
	payload []byte
}

// KISSConn carries datagrams as AX.25 UI frames through a KISS TNC. Frames
// addressed to other stations are ignored.
type KISSConn struct {
	rw    io.ReadWriteCloser
	local Callsign

	wmu    sync.Mutex
	frames chan kissDatagram

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	deadline time.Time
	readErr  error
}

func NewKISSConn(rw io.ReadWriteCloser, local string) *KISSConn {
	c := &KISSConn{
		rw:     rw,
		local:  Callsign(strings.ToUpper(local)),
		frames: make(chan kissDatagram, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// DialKISS connects to a KISS TNC listening on TCP (e.g. Direwolf).
func DialKISS(addr, callsign string) (*KISSConn, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, &FatalError{Op: "dial kiss " + addr, Err: err}
	}
	return NewKISSConn(conn, callsign), nil
}

// OpenSerialKISS opens a TNC on a serial port.
func OpenSerialKISS(portName string, baud int, callsign string) (*KISSConn, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &FatalError{Op: "open serial " + portName, Err: err}
	}
	// A short read timeout lets the reader notice Close.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, &FatalError{Op: "serial read timeout", Err: err}
	}
	return NewKISSConn(port, callsign), nil
}

func (c *KISSConn) readLoop() {
	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var frames [][]byte
			frames, pending = splitKISSFrames(pending)
			for _, f := range frames {
				c.deliver(f)
			}
		}
		if err != nil && !IsTimeout(err) {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.Close()
			return
		}
		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *KISSConn) deliver(frame []byte) {
	inner := frame[1 : len(frame)-1]
	if len(inner) < 1 || inner[0]&0x0F != kissCmdData {
		return
	}
	pkt := kissUnescape(inner[1:])
	if len(pkt) < ax25HeaderLen || pkt[14] != ax25Control || pkt[15] != ax25PID {
		return
	}
	if Callsign(decodeAX25Address(pkt[0:7])) != c.local {
		return
	}
	dg := kissDatagram{
		from:    Callsign(decodeAX25Address(pkt[7:14])),
		payload: pkt[ax25HeaderLen:],
	}
	select {
	case c.frames <- dg:
	default:
	}
}

func (c *KISSConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	dl := c.deadline
	c.mu.Unlock()

	var expired <-chan time.Time
	if !dl.IsZero() {
		d := time.Until(dl)
		if d <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}
	select {
	case dg := <-c.frames:
		return copy(p, dg.payload), dg.from, nil
	case <-expired:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = net.ErrClosed
		}
		return 0, nil, err
	}
}

func (c *KISSConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	pkt := append(ax25Header(string(c.local), addr.String()), p...)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(kissFrame(pkt)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *KISSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	return err
}

func (c *KISSConn) LocalAddr() net.Addr { return c.local }

func (c *KISSConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *KISSConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline is a no-op; writes go straight to the TNC.
func (c *KISSConn) SetWriteDeadline(time.Time) error { return nil }
