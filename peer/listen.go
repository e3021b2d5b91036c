//go:build !linux
// +build !linux

package main

import kcp "github.com/xtaci/kcp-go/v5"

func listenKCP(config *Config, laddr string) (*kcp.Listener, error) {
	return kcp.ListenWithOptions(laddr, nil, config.DataShard, config.ParityShard)
}
