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
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"

	"log"

	"github.com/diodelink/godiode/internal/metrics"
	"github.com/diodelink/godiode/internal/receiver"
	"github.com/diodelink/godiode/internal/statslog"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "diode-receive"
	myApp.Usage = "unidirectional diode link receiver"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "bind-udp",
			Value: ":29901",
			Usage: "local UDP address to listen for incoming symbols on",
		},
		cli.StringFlag{
			Name:  "to-tcp",
			Value: "127.0.0.1:12948",
			Usage: "target TCP address each decoded session is bridged to",
		},
		cli.IntFlag{
			Name:  "udp-mtu",
			Value: 1400,
			Usage: "link MTU in bytes, must match diode-send",
		},
		cli.IntFlag{
			Name:  "encoding-block-size",
			Value: 60000,
			Usage: "must match diode-send's encoding-block-size",
		},
		cli.IntFlag{
			Name:  "repair-block-size",
			Value: 6000,
			Usage: "must match diode-send's repair-block-size",
		},
		cli.IntFlag{
			Name:  "flush-timeout",
			Value: 200,
			Usage: "milliseconds of symbol inactivity before a block is force-decoded",
		},
		cli.IntFlag{
			Name:  "session-expiration-delay",
			Value: 30,
			Usage: "seconds of inactivity before an idle session is expired",
		},
		cli.IntFlag{
			Name:  "nb-threads",
			Value: 4,
			Usage: "number of fountain decoder worker goroutines",
		},
		cli.IntFlag{
			Name:  "nb-clients",
			Value: 64,
			Usage: "concurrent egress TCP sessions; logged only, the receiver does not enforce a limit",
		},
		cli.IntFlag{
			Name:  "heartbeat",
			Value: 1,
			Usage: "expected seconds between heartbeat datagrams, 0 to disable the absence watchdog",
		},
		cli.IntFlag{
			Name:  "udp-buffer-size",
			Value: 4194304,
			Usage: "UDP socket receive buffer size in bytes",
		},
		cli.StringFlag{
			Name:  "metrics",
			Value: "",
			Usage: "address to serve Prometheus /metrics on, empty to disable",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'session open/close' messages",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect counters to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.BindUDP = c.String("bind-udp")
		config.ToTCP = c.String("to-tcp")
		config.UDPMTU = c.Int("udp-mtu")
		config.EncodingBlockSize = c.Int("encoding-block-size")
		config.RepairBlockSize = c.Int("repair-block-size")
		config.FlushTimeout = c.Int("flush-timeout")
		config.SessionExpirationDelay = c.Int("session-expiration-delay")
		config.NBThreads = c.Int("nb-threads")
		config.NBClients = c.Int("nb-clients")
		config.Heartbeat = c.Int("heartbeat")
		config.UDPBufferSize = c.Int("udp-buffer-size")
		config.Metrics = c.String("metrics")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.Pprof = c.Bool("pprof")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		config.sanityCheck()

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("bind-udp:", config.BindUDP)
		log.Println("to-tcp:", config.ToTCP)
		log.Println("udp-mtu:", config.UDPMTU)
		log.Println("encoding-block-size:", config.EncodingBlockSize, "repair-block-size:", config.RepairBlockSize)
		log.Println("flush-timeout(ms):", config.FlushTimeout)
		log.Println("session-expiration-delay(s):", config.SessionExpirationDelay)
		log.Println("nb-threads:", config.NBThreads, "nb-clients:", config.NBClients)
		log.Println("heartbeat:", config.Heartbeat)
		log.Println("udp-buffer-size:", config.UDPBufferSize)
		log.Println("metrics:", config.Metrics)
		log.Println("statslog:", config.StatsLog, "statsperiod:", config.StatsPeriod)
		log.Println("pprof:", config.Pprof)
		log.Println("quiet:", config.Quiet)

		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		m := metrics.NewReceiver(nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if config.Metrics != "" {
			go func() {
				if err := metrics.Serve(ctx, config.Metrics); err != nil {
					log.Printf("metrics: %+v", err)
				}
			}()
		}
		go statslog.Run(ctx, prometheus.DefaultGatherer, config.StatsLog, time.Duration(config.StatsPeriod)*time.Second)

		p, err := receiver.New(receiver.Config{
			BindUDP:                config.BindUDP,
			ToTCP:                  config.ToTCP,
			UDPMTU:                 config.UDPMTU,
			EncodingBlockSize:      config.EncodingBlockSize,
			RepairBlockSize:        config.RepairBlockSize,
			FlushTimeout:           time.Duration(config.FlushTimeout) * time.Millisecond,
			SessionExpirationDelay: time.Duration(config.SessionExpirationDelay) * time.Second,
			NBThreads:              config.NBThreads,
			NBClients:              config.NBClients,
			Heartbeat:              time.Duration(config.Heartbeat) * time.Second,
			UDPBufferSize:          config.UDPBufferSize,
			Quiet:                  config.Quiet,
		}, m)
		checkError(err)

		shutdown := waitForShutdown()
		if err := p.Run(ctx, shutdown); err != nil {
			log.Printf("%+v", err)
			os.Exit(1)
		}
		return nil
	}
	myApp.Run(os.Args)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
