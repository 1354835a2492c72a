// Package stats tracks running bus counters and periodically appends them
// to a CSV diagnostics file.
//
// Grounded on std/snmp.go's SnmpLogger: same ticker-driven
// open-append-write-close CSV loop, writing a header only into an empty
// file, but counting bus-level events (connections, messages, bytes)
// instead of kcp.DefaultSnmp's protocol counters.
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters holds the running totals a bus instance maintains. All fields
// are updated with atomic operations so any goroutine may record an event
// without additional locking.
type Counters struct {
	ConnectionsEstablished int64
	ConnectionsClosed      int64
	MessagesDelivered      int64
	MessagesDropped        int64
	BytesPending           int64
}

// IncConnectionsEstablished records one more established connection.
func (c *Counters) IncConnectionsEstablished() { atomic.AddInt64(&c.ConnectionsEstablished, 1) }

// IncConnectionsClosed records one more closed connection.
func (c *Counters) IncConnectionsClosed() { atomic.AddInt64(&c.ConnectionsClosed, 1) }

// IncMessagesDelivered records one more message dispatched to user code.
func (c *Counters) IncMessagesDelivered() { atomic.AddInt64(&c.MessagesDelivered, 1) }

// IncMessagesDropped records one more frame dropped due to a
// deserialization failure. A corrupt frame stream closes the connection
// and is not counted here.
func (c *Counters) IncMessagesDropped() { atomic.AddInt64(&c.MessagesDropped, 1) }

// SetBytesPending records the current byte-queue occupancy.
func (c *Counters) SetBytesPending(n int64) { atomic.StoreInt64(&c.BytesPending, n) }

// header returns the CSV column names, in the same order as ToSlice.
func (c *Counters) header() []string {
	return []string{"ConnectionsEstablished", "ConnectionsClosed", "MessagesDelivered", "MessagesDropped", "BytesPending"}
}

// ToSlice renders a snapshot of the counters as strings, for one CSV row.
func (c *Counters) ToSlice() []string {
	return []string{
		fmt.Sprint(atomic.LoadInt64(&c.ConnectionsEstablished)),
		fmt.Sprint(atomic.LoadInt64(&c.ConnectionsClosed)),
		fmt.Sprint(atomic.LoadInt64(&c.MessagesDelivered)),
		fmt.Sprint(atomic.LoadInt64(&c.MessagesDropped)),
		fmt.Sprint(atomic.LoadInt64(&c.BytesPending)),
	}
}

// Logger periodically appends a CSV row of Counters to path, formatting
// path with time.Format so callers can roll files by date (e.g.
// "bus-2006-01-02.csv"). It stops when stop is closed.
func Logger(path string, interval time.Duration, counters *Counters, stop <-chan struct{}) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			writeRow(path, counters)
		}
	}
}

func writeRow(path string, counters *Counters) {
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println(err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, counters.header()...)); err != nil {
			log.Println(err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, counters.ToSlice()...)); err != nil {
		log.Println(err)
	}
	w.Flush()
}
