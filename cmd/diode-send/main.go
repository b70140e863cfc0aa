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
	"github.com/diodelink/godiode/internal/sender"
	"github.com/diodelink/godiode/internal/statslog"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "diode-send"
	myApp.Usage = "unidirectional diode link sender"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "bind-tcp",
			Value: ":29900",
			Usage: "TCP address to accept ingress sessions on",
		},
		cli.StringFlag{
			Name:  "to-udp",
			Value: "127.0.0.1:29901",
			Usage: "remote UDP address of the diode-receive egress socket",
		},
		cli.StringFlag{
			Name:  "bind-udp",
			Value: "",
			Usage: "local UDP address to send from, empty to let the OS choose",
		},
		cli.IntFlag{
			Name:  "udp-mtu",
			Value: 1400,
			Usage: "link MTU in bytes; the fountain symbol size is this minus the IP, UDP and 14-byte diode headers",
		},
		cli.IntFlag{
			Name:  "encoding-block-size",
			Value: 60000,
			Usage: "source bytes grouped into one fountain-coded block before a flush",
		},
		cli.IntFlag{
			Name:  "repair-block-size",
			Value: 6000,
			Usage: "extra repair bytes generated per block, sets the repair ratio with encoding-block-size",
		},
		cli.IntFlag{
			Name:  "max-bandwidth",
			Value: 0,
			Usage: "maximum TCP-ingress payload rate in bits per second (the UDP wire rate exceeds it by repair and header overhead), 0 to disable pacing",
		},
		cli.IntFlag{
			Name:  "nb-threads",
			Value: 4,
			Usage: "number of fountain encoder worker goroutines",
		},
		cli.IntFlag{
			Name:  "nb-clients",
			Value: 64,
			Usage: "maximum number of concurrent ingress TCP sessions",
		},
		cli.IntFlag{
			Name:  "heartbeat",
			Value: 1,
			Usage: "seconds between heartbeat datagrams when idle, 0 to disable",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "compress block payloads before fountain-encoding when it shrinks them",
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
		config.BindTCP = c.String("bind-tcp")
		config.ToUDP = c.String("to-udp")
		config.BindUDP = c.String("bind-udp")
		config.UDPMTU = c.Int("udp-mtu")
		config.EncodingBlockSize = c.Int("encoding-block-size")
		config.RepairBlockSize = c.Int("repair-block-size")
		config.MaxBandwidth = c.Int("max-bandwidth")
		config.NBThreads = c.Int("nb-threads")
		config.NBClients = c.Int("nb-clients")
		config.Heartbeat = c.Int("heartbeat")
		config.Compress = c.Bool("compress")
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
		log.Println("bind-tcp:", config.BindTCP)
		log.Println("to-udp:", config.ToUDP)
		log.Println("bind-udp:", config.BindUDP)
		log.Println("udp-mtu:", config.UDPMTU)
		log.Println("encoding-block-size:", config.EncodingBlockSize, "repair-block-size:", config.RepairBlockSize)
		log.Println("max-bandwidth:", config.MaxBandwidth)
		log.Println("nb-threads:", config.NBThreads, "nb-clients:", config.NBClients)
		log.Println("heartbeat:", config.Heartbeat)
		log.Println("compress:", config.Compress)
		log.Println("metrics:", config.Metrics)
		log.Println("statslog:", config.StatsLog, "statsperiod:", config.StatsPeriod)
		log.Println("pprof:", config.Pprof)
		log.Println("quiet:", config.Quiet)

		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		m := metrics.NewSender(nil)

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

		p, err := sender.New(sender.Config{
			BindTCP:           config.BindTCP,
			ToUDP:             config.ToUDP,
			BindUDP:           config.BindUDP,
			UDPMTU:            config.UDPMTU,
			EncodingBlockSize: config.EncodingBlockSize,
			RepairBlockSize:   config.RepairBlockSize,
			MaxBandwidthBps:   config.MaxBandwidth,
			NBThreads:         config.NBThreads,
			NBClients:         config.NBClients,
			Heartbeat:         time.Duration(config.Heartbeat) * time.Second,
			Compress:          config.Compress,
			Quiet:             config.Quiet,
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
