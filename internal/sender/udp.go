package sender

import (
	"net"

	"github.com/pkg/errors"
)

// dialUDP opens a connected UDP socket to remoteAddr, optionally bound to a
// specific local address/port (empty bindAddr picks an ephemeral source
// port, matching how the teacher's dial() leaves the local side unbound by
// default).
func dialUDP(bindAddr, remoteAddr string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve udp remote address")
	}

	var laddr *net.UDPAddr
	if bindAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", bindAddr)
		if err != nil {
			return nil, errors.Wrap(err, "resolve udp bind address")
		}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial udp")
	}
	return conn, nil
}
