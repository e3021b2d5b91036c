//go:build !linux
// +build !linux

package main

import kcp "github.com/xtaci/kcp-go/v5"

func dialKCP(config *Config, raddr string) (*kcp.UDPSession, error) {
	return kcp.DialWithOptions(raddr, nil, config.DataShard, config.ParityShard)
}
