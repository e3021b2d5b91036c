//go:build linux
// +build linux

package main

import (
	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/tcpraw"
)

func dialKCP(config *Config, raddr string) (*kcp.UDPSession, error) {
	if config.TCP {
		conn, err := tcpraw.Dial("tcp", raddr)
		if err != nil {
			return nil, errors.Wrap(err, "tcpraw.Dial()")
		}
		return kcp.NewConn(raddr, nil, config.DataShard, config.ParityShard, conn)
	}
	return kcp.DialWithOptions(raddr, nil, config.DataShard, config.ParityShard)
}
