// Package statslog periodically dumps the Prometheus counter registry to a
// local CSV file, adapted from the teacher's std/snmp.go (which dumped
// kcp.DefaultSnmp to CSV on the same schedule). A diode link is frequently
// airgapped on one or both sides, so offline analysis from a local file is
// often the only option even when --metrics is also enabled.
package statslog

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run writes one CSV row of every counter's current value to path every
// interval, until ctx is canceled. path's filename component is formatted
// with time.Now() (Go reference-time layout), matching std/snmp.go's
// "snmp-20060102.log"-style rotation. A zero interval or empty path
// disables the dumper entirely, same as the teacher's SnmpLogger.
func Run(ctx context.Context, reg prometheus.Gatherer, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dumpOnce(reg, path)
		}
	}
}

func dumpOnce(reg prometheus.Gatherer, path string) {
	families, err := reg.Gather()
	if err != nil {
		log.Println("statslog:", err)
		return
	}

	var names, values []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			names = append(names, mf.GetName())
			values = append(values, fmt.Sprint(m.GetCounter().GetValue()))
		}
	}

	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println("statslog:", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, names...)); err != nil {
			log.Println("statslog:", err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, values...)); err != nil {
		log.Println("statslog:", err)
	}
	w.Flush()
}
