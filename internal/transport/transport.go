// Package transport gives the core pipeline a capability set of
// {accept, read, write, close} instead of a concrete net package type, per
// spec.md §9's design note on polymorphism at the edges. The diode core is
// oblivious to whether a session's TCP edge is a real TCP socket or a UNIX
// domain socket; both satisfy Conn and Listener identically.
//
// Address syntax follows the teacher's convention (client/main.go's isUnix
// check, server/main.go's TGT_TCP/TGT_UNIX switch): anything that parses as
// host:port is TCP, anything else is treated as a filesystem path for a UNIX
// domain socket.
package transport

import (
	"net"

	"github.com/pkg/errors"
)

// Conn is the minimal read/write/close surface the pipeline needs from a
// session's TCP (or UNIX) edge.
type Conn interface {
	net.Conn
}

// Listener accepts edge connections one at a time.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// isUnix reports whether addr should be treated as a filesystem path rather
// than a host:port pair.
func isUnix(addr string) bool {
	_, _, err := net.SplitHostPort(addr)
	return err != nil
}

// Listen opens a Listener on addr, picking TCP or UNIX based on its syntax.
func Listen(addr string) (Listener, error) {
	if isUnix(addr) {
		laddr, err := net.ResolveUnixAddr("unix", addr)
		if err != nil {
			return nil, errors.Wrap(err, "resolve unix listen address")
		}
		l, err := net.ListenUnix("unix", laddr)
		if err != nil {
			return nil, errors.Wrap(err, "listen unix")
		}
		return tcpListener{l}, nil
	}

	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve tcp listen address")
	}
	l, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen tcp")
	}
	return tcpListener{l}, nil
}

// Dial opens a Conn to addr, picking TCP or UNIX based on its syntax.
func Dial(addr string) (Conn, error) {
	network := "tcp"
	if isUnix(addr) {
		network = "unix"
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, addr)
	}
	return conn, nil
}

// tcpListener adapts any net.Listener (TCP or UNIX) to Listener.
type tcpListener struct {
	net.Listener
}

func (t tcpListener) Accept() (Conn, error) {
	c, err := t.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return c, nil
}
