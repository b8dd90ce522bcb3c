package pool

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// dumpHeader is the literal row spec.md §6 specifies.
const dumpHeader = "HOST\tSTATE\tRETRIES\tLOOKUPS\tWAITS\tAVG_WAIT(us)\tAVG_LAT_GET(us)\tAVG_LAT_PUT(us)\tSEND(kb)\tRCV(kb)"

// divSafe returns num/den, or 0 if den is zero — spec.md §4.7/§8's
// "division by zero yields zero."
func divSafe(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// usec converts a time.Duration-derived nanosecond count to microseconds.
func usec(ns int64) int64 {
	return ns / 1000
}

// Dump implements spec.md §4.7/§6: a read-locked traversal emitting one
// row per node with state, retry count, lookups, waits, and derived
// per-lookup averages in microseconds. The sink is any io.Writer — a file,
// a response body, a buffer — the core only knows how to format rows, not
// where they go (spec.md §1 names the sink as an external collaborator).
func (t *Table) Dump(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, dumpHeader); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.buckets {
		for _, p := range t.buckets[i].pools {
			waits := p.NrWaits()
			for e := p.connList.Front(); e != nil; e = e.Next() {
				n := e.Value.(*Node)
				if err := writeDumpRow(tw, n, waits); err != nil {
					return err
				}
			}
		}
	}

	return tw.Flush()
}

func writeDumpRow(tw *tabwriter.Writer, n *Node, waits int64) error {
	lookups := n.Lookups()
	avgWait := usec(divSafe(n.totWait.Value(), lookups))
	avgGet := usec(divSafe(n.totGet.Value(), lookups))
	avgPut := usec(divSafe(n.totPut.Value(), lookups))
	sendKB := n.txBytes.Value() >> 10
	rcvKB := n.rxBytes.Value() >> 10

	_, err := fmt.Fprintf(tw, "%s:%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		n.ip, n.port, n.State(), n.RetryAttempts(), lookups, waits,
		avgWait, avgGet, avgPut, sendKB, rcvKB)
	return err
}
