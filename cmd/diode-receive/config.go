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

	"github.com/fatih/color"

	"github.com/diodelink/godiode/internal/wire"
)

// Config for diode-receive. Populated first from CLI flags, then optionally
// overridden wholesale by a -c config.json file, exactly like kcptun's
// server/config.go.
type Config struct {
	BindUDP                string `json:"bind-udp"`
	ToTCP                  string `json:"to-tcp"`
	UDPMTU                 int    `json:"udp-mtu"`
	EncodingBlockSize      int    `json:"encoding-block-size"`
	RepairBlockSize        int    `json:"repair-block-size"`
	FlushTimeout           int    `json:"flush-timeout"`
	SessionExpirationDelay int    `json:"session-expiration-delay"`
	NBThreads              int    `json:"nb-threads"`
	NBClients              int    `json:"nb-clients"`
	Heartbeat              int    `json:"heartbeat"`
	UDPBufferSize          int    `json:"udp-buffer-size"`
	Metrics                string `json:"metrics"`
	Log                    string `json:"log"`
	Quiet                  bool   `json:"quiet"`
	Pprof                  bool   `json:"pprof"`
	StatsLog               string `json:"statslog"`
	StatsPeriod            int    `json:"statsperiod"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

// sanityCheck warns, the way the teacher warns about QPP parameter mistakes
// in client/main.go/server/main.go, about diode-specific configuration
// choices that are likely mistakes. diode-receive still starts afterward;
// these are non-fatal.
func (c *Config) sanityCheck() {
	if c.RepairBlockSize <= 0 {
		color.Red("Warning: repair-block-size is 0, blocks carry no redundancy and any lost datagram is unrecoverable")
	}
	if c.EncodingBlockSize > 0 && c.RepairBlockSize > c.EncodingBlockSize {
		color.Red("Warning: repair-block-size (%d) exceeds encoding-block-size (%d), wire overhead will exceed 100%%", c.RepairBlockSize, c.EncodingBlockSize)
	}
	if wire.SymbolSize(c.UDPMTU) <= 0 {
		color.Red("Warning: udp-mtu %d leaves no room for a fountain symbol after IP/UDP/diode headers", c.UDPMTU)
	}
	if c.UDPBufferSize > 0 && c.UDPBufferSize < wire.SymbolSize(c.UDPMTU)*64 {
		color.Red("Warning: udp-buffer-size %d is small relative to udp-mtu %d, bursts may overflow the kernel receive buffer", c.UDPBufferSize, c.UDPMTU)
	}
	if c.NBThreads < 1 {
		color.Red("Warning: nb-threads %d is non-positive, falling back to 1", c.NBThreads)
	}
	if c.NBClients < 1 {
		color.Red("Warning: nb-clients %d is non-positive", c.NBClients)
	}
}
