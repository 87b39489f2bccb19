package lib

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/net/ipv4"
)

// ListenUDP opens a UDP datagram channel bound to addr ("" or ":0" for any port).
// A positive tos is applied as the IPv4 type-of-service byte.
func ListenUDP(addr string, tos int) (net.PacketConn, error) {
	if addr == "" {
		addr = ":0"
	}
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	if tos > 0 {
		if err := ipv4.NewPacketConn(conn).SetTOS(tos); err != nil {
			log.Printf("Could not set IP TOS %d on %s: %v", tos, conn.LocalAddr(), err)
		}
	}
	return conn, nil
}

// ResolvePeer resolves a host:port string into a UDP address.
func ResolvePeer(addr string) (net.Addr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	return udpAddr, nil
}
