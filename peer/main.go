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
	"crypto/sha1"
	"io"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/qpp"
	"github.com/xtaci/sbus/frame"
	"github.com/xtaci/sbus/relay"
	"github.com/xtaci/sbus/std"
)

const (
	// SALT is used for pbkdf2 key expansion of passphrase keys
	SALT = "sbus"
	// defaultKey is only acceptable for experiments
	defaultKey = "it's a secrect"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// add more log flags for debugging
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "sbus"
	myApp.Usage = "secure multi-party bus over a pre-shared key"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server-addr,l",
			Value: "",
			Usage: `local server address to bind and listen on, eg: "IP:4000" for a single port, "IP:minport-maxport" for port range`,
		},
		cli.StringSliceFlag{
			Name:  "remote-server-addr,r",
			Usage: `peer server address to dial, repeatable, eg: "IP:4000" or "IP:minport-maxport"`,
		},
		cli.StringFlag{
			Name:  "psk",
			Value: "",
			Usage: "path to a file holding the hex-encoded 32-byte pre-shared key",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  defaultKey,
			Usage:  "pre-shared passphrase, used only when --psk is not given",
			EnvVar: "SBUS_KEY",
		},
		cli.IntFlag{
			Name:  "sentinel-byte",
			Value: relay.NoSentinel,
			Usage: "byte value 0..255; a chunk ending in it is followed by an empty frame to yield the speaker floor",
		},
		cli.BoolTFlag{
			Name:  "wait-input",
			Usage: "receive and arbitrate frames from peers (default on)",
		},
		cli.BoolFlag{
			Name:  "no-wait-input",
			Usage: "transmit from stdin only; received frames are drained and discarded",
		},
		cli.StringFlag{
			Name:  "transport",
			Value: "tcp",
			Usage: "transport between peers: tcp, kcp",
		},
		cli.StringFlag{
			Name:  "mode",
			Value: "fast",
			Usage: "kcp profiles: fast3, fast2, fast, normal, manual",
		},
		cli.IntFlag{
			Name:  "mtu",
			Value: 1350,
			Usage: "set maximum transmission unit for kcp packets",
		},
		cli.IntFlag{
			Name:  "sndwnd",
			Value: 128,
			Usage: "set kcp send window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "rcvwnd",
			Value: 512,
			Usage: "set kcp receive window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "set reed-solomon erasure coding - datashard",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "set reed-solomon erasure coding - parityshard",
		},
		cli.IntFlag{
			Name:  "dscp",
			Value: 0,
			Usage: "set DSCP(6bit)",
		},
		cli.IntFlag{
			Name:  "sockbuf",
			Value: 4194304, // socket buffer size in bytes
			Usage: "per-socket buffer in bytes",
		},
		cli.BoolFlag{
			Name:   "acknodelay",
			Usage:  "flush ack immediately when a packet is received",
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nodelay",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "interval",
			Value:  50,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "resend",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nc",
			Value:  0,
			Hidden: true,
		},
		cli.BoolFlag{
			Name:  "tcp",
			Usage: "to emulate a TCP connection for kcp(linux)",
		},
		cli.BoolFlag{
			Name:  "comp",
			Usage: "enable per-frame payload compression, all peers must agree",
		},
		cli.BoolFlag{
			Name:  "QPP",
			Usage: "enable Quantum Permutation Pads(QPP) obfuscation of the peer streams",
		},
		cli.IntFlag{
			Name:  "QPPCount",
			Value: 61,
			Usage: "the prime number of pads to use for QPP: The more pads you use, the more secure the obfuscation. Each pad requires 256 bytes.",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect snmp to file, aware of timeformat in golang, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "snmp collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'peer connected/disconnected' messages",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when the value is not empty, the config path must exists
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.ServerAddr = c.String("server-addr")
		config.RemoteAddrs = c.StringSlice("remote-server-addr")
		config.PSK = c.String("psk")
		config.Key = c.String("key")
		config.SentinelByte = c.Int("sentinel-byte")
		config.WaitInput = c.BoolT("wait-input") && !c.Bool("no-wait-input")
		config.Transport = c.String("transport")
		config.Mode = c.String("mode")
		config.MTU = c.Int("mtu")
		config.SndWnd = c.Int("sndwnd")
		config.RcvWnd = c.Int("rcvwnd")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.DSCP = c.Int("dscp")
		config.SockBuf = c.Int("sockbuf")
		config.AckNodelay = c.Bool("acknodelay")
		config.NoDelay = c.Int("nodelay")
		config.Interval = c.Int("interval")
		config.Resend = c.Int("resend")
		config.NoCongestion = c.Int("nc")
		config.TCP = c.Bool("tcp")
		config.Comp = c.Bool("comp")
		config.QPP = c.Bool("QPP")
		config.QPPCount = c.Int("QPPCount")
		config.SnmpLog = c.String("snmplog")
		config.SnmpPeriod = c.Int("snmpperiod")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.Pprof = c.Bool("pprof")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// log redirect
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		switch config.Mode {
		case "normal":
			config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 0, 40, 2, 1
		case "fast":
			config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 0, 30, 2, 1
		case "fast2":
			config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 1, 20, 2, 1
		case "fast3":
			config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 1, 10, 2, 1
		}

		log.Println("version:", VERSION)
		log.Println("server address:", config.ServerAddr)
		log.Println("remote addresses:", config.RemoteAddrs)
		log.Println("transport:", config.Transport)
		log.Println("wait input:", config.WaitInput)
		log.Println("sentinel byte:", config.SentinelByte)
		log.Println("compression:", config.Comp)
		log.Println("QPP:", config.QPP)
		log.Println("QPP Count:", config.QPPCount)
		log.Println("quiet:", config.Quiet)
		log.Println("pprof:", config.Pprof)
		log.Println("snmplog:", config.SnmpLog)
		log.Println("snmpperiod:", config.SnmpPeriod)
		if config.Transport == "kcp" {
			log.Println("nodelay parameters:", config.NoDelay, config.Interval, config.Resend, config.NoCongestion)
			log.Println("sndwnd:", config.SndWnd, "rcvwnd:", config.RcvWnd)
			log.Println("mtu:", config.MTU)
			log.Println("datashard:", config.DataShard, "parityshard:", config.ParityShard)
			log.Println("acknodelay:", config.AckNodelay)
			log.Println("dscp:", config.DSCP)
			log.Println("sockbuf:", config.SockBuf)
			log.Println("tcp:", config.TCP)
		}

		if config.SentinelByte != relay.NoSentinel && (config.SentinelByte < 0 || config.SentinelByte > 255) {
			checkError(errors.Errorf("sentinel-byte %d out of range 0..255", config.SentinelByte))
		}
		if config.Transport != "tcp" && config.Transport != "kcp" {
			checkError(errors.Errorf("unknown transport: %v", config.Transport))
		}
		if config.ServerAddr == "" && len(config.RemoteAddrs) == 0 {
			checkError(errors.New("no links configured: need --server-addr and/or --remote-server-addr"))
		}

		// key material: an explicit PSK file wins over passphrase expansion
		var key []byte
		if config.PSK != "" {
			psk, err := std.LoadPSK(config.PSK)
			checkError(err)
			key = psk
			log.Println("psk loaded from:", config.PSK)
		} else {
			if config.Key == defaultKey {
				color.Red("WARNING: default passphrase in use, supply --psk or --key")
			}
			log.Println("initiating key derivation")
			key = pbkdf2.Key([]byte(config.Key), []byte(SALT), 4096, 32, sha1.New)
			log.Println("key derivation done")
		}

		codec, err := frame.NewCodec(key)
		checkError(err)
		log.Println("sender id:", codec.ID())

		// create shared QPP
		var wrap func(net.Conn) io.ReadWriteCloser
		if config.QPP {
			warnings, err := std.ValidateQPPParams(config.QPPCount, key)
			checkError(err)
			for _, w := range warnings {
				color.Red(w)
			}
			_Q_ := qpp.NewQPP(key, uint16(config.QPPCount))
			wrap = func(conn net.Conn) io.ReadWriteCloser {
				return std.NewQPPPort(conn, _Q_, key)
			}
		}

		var router *relay.Router
		if config.WaitInput {
			router = relay.NewRouter(os.Stdout)
		}

		opts := relay.Options{
			Router: router,
			Codec:  codec,
			Wrap:   wrap,
			Comp:   config.Comp,
			Quiet:  config.Quiet,
		}
		if config.Transport == "kcp" {
			opts.Tune = tuneKCP(&config)
		}

		var links []*relay.Link

		if config.ServerAddr != "" {
			addrs, err := std.ExpandAddrs(config.ServerAddr)
			checkError(err)
			for _, addr := range addrs {
				link := relay.NewLink(opts)
				switch config.Transport {
				case "kcp":
					lis, err := listenKCP(&config, addr)
					checkError(err)
					if err := lis.SetDSCP(config.DSCP); err != nil {
						log.Println("SetDSCP:", err)
					}
					if err := lis.SetReadBuffer(config.SockBuf); err != nil {
						log.Println("SetReadBuffer:", err)
					}
					if err := lis.SetWriteBuffer(config.SockBuf); err != nil {
						log.Println("SetWriteBuffer:", err)
					}
					log.Println("listening on:", lis.Addr())
					go link.Serve(lis)
				default:
					lis, err := net.Listen("tcp", addr)
					checkError(err)
					log.Println("listening on:", lis.Addr())
					go link.Serve(lis)
				}
				links = append(links, link)
			}
		}

		for _, remote := range config.RemoteAddrs {
			addrs, err := std.ExpandAddrs(remote)
			checkError(err)
			for _, addr := range addrs {
				link := relay.NewLink(opts)
				switch config.Transport {
				case "kcp":
					conn, err := dialKCP(&config, addr)
					checkError(err)
					if err := conn.SetDSCP(config.DSCP); err != nil {
						log.Println("SetDSCP:", err)
					}
					if err := conn.SetReadBuffer(config.SockBuf); err != nil {
						log.Println("SetReadBuffer:", err)
					}
					if err := conn.SetWriteBuffer(config.SockBuf); err != nil {
						log.Println("SetWriteBuffer:", err)
					}
					log.Println("connected to:", addr)
					go link.Attach(conn)
				default:
					conn, err := net.Dial("tcp", addr)
					checkError(err)
					log.Println("connected to:", conn.RemoteAddr())
					go link.Attach(conn)
				}
				links = append(links, link)
			}
		}

		// start snmp logger
		go std.SnmpLogger(config.SnmpLog, config.SnmpPeriod)

		// start pprof
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		bcasts := make([]relay.Broadcaster, 0, len(links))
		for _, l := range links {
			bcasts = append(bcasts, l)
		}
		in := relay.NewInput(codec, bcasts, config.SentinelByte, config.Comp)
		checkError(in.Run(os.Stdin))
		return nil
	}
	myApp.Run(os.Args)
}

// tuneKCP applies the stream and congestion knobs to every new kcp session.
func tuneKCP(config *Config) func(net.Conn) {
	return func(conn net.Conn) {
		if s, ok := conn.(*kcp.UDPSession); ok {
			s.SetStreamMode(true)
			s.SetWriteDelay(false)
			s.SetNoDelay(config.NoDelay, config.Interval, config.Resend, config.NoCongestion)
			s.SetMtu(config.MTU)
			s.SetWindowSize(config.SndWnd, config.RcvWnd)
			s.SetACKNoDelay(config.AckNodelay)
		}
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
