// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"encoding/json"
	"os"
)

// Config for a bus peer
type Config struct {
	ServerAddr   string   `json:"server-addr"`
	RemoteAddrs  []string `json:"remote-server-addr"`
	PSK          string   `json:"psk"`
	Key          string   `json:"key"`
	SentinelByte int      `json:"sentinel-byte"`
	WaitInput    bool     `json:"wait-input"`
	Transport    string   `json:"transport"`
	Mode         string   `json:"mode"`
	MTU          int      `json:"mtu"`
	SndWnd       int      `json:"sndwnd"`
	RcvWnd       int      `json:"rcvwnd"`
	DataShard    int      `json:"datashard"`
	ParityShard  int      `json:"parityshard"`
	DSCP         int      `json:"dscp"`
	SockBuf      int      `json:"sockbuf"`
	AckNodelay   bool     `json:"acknodelay"`
	NoDelay      int      `json:"nodelay"`
	Interval     int      `json:"interval"`
	Resend       int      `json:"resend"`
	NoCongestion int      `json:"nc"`
	TCP          bool     `json:"tcp"`
	Comp         bool     `json:"comp"`
	QPP          bool     `json:"qpp"`
	QPPCount     int      `json:"qpp-count"`
	SnmpLog      string   `json:"snmplog"`
	SnmpPeriod   int      `json:"snmpperiod"`
	Log          string   `json:"log"`
	Quiet        bool     `json:"quiet"`
	Pprof        bool     `json:"pprof"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
