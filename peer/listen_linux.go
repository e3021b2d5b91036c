//go:build linux
// +build linux

package main

import (
	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/tcpraw"
)

func listenKCP(config *Config, laddr string) (*kcp.Listener, error) {
	if config.TCP {
		conn, err := tcpraw.Listen("tcp", laddr)
		if err != nil {
			return nil, errors.Wrap(err, "tcpraw.Listen()")
		}
		return kcp.ServeConn(nil, config.DataShard, config.ParityShard, conn)
	}
	return kcp.ListenWithOptions(laddr, nil, config.DataShard, config.ParityShard)
}
