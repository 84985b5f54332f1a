// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// serializeTCPAddr writes addr as [ipFlag(0=v4,1=v6)][addr bytes][port].
func serializeTCPAddr(w io.Writer, addr *net.TCPAddr) {
	ip := addr.IP.To4()
	if ip == nil {
		ip = addr.IP.To16()
	}

	switch len(ip) {
	case net.IPv4len:
		w.Write([]byte{0})
		w.Write(ip)
	case net.IPv6len:
		w.Write([]byte{1})
		w.Write(ip)
	default:
		panic("p2p: invalid peer IP address")
	}

	binary.Write(w, binary.BigEndian, uint16(addr.Port))
}

// deserializeTCPAddr reads the format serializeTCPAddr writes.
func deserializeTCPAddr(r io.Reader) (*net.TCPAddr, error) {
	var ipFlag uint8
	if err := binary.Read(r, binary.BigEndian, &ipFlag); err != nil {
		return nil, err
	}

	var ip []byte
	switch ipFlag {
	case 0:
		ip = make([]byte, net.IPv4len)
	case 1:
		ip = make([]byte, net.IPv6len)
	default:
		return nil, fmt.Errorf("p2p: invalid address flag %d", ipFlag)
	}
	if _, err := io.ReadFull(r, ip); err != nil {
		return nil, err
	}

	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return nil, err
	}

	return &net.TCPAddr{IP: ip, Port: int(port)}, nil
}
