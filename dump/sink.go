// Package dump is the text sink adapter spec.md §1 names as an external
// collaborator ("the text-formatted dump sink... out of scope" for the
// core). pool.Table.Dump already accepts any io.Writer as its sink; this
// package supplies the two concrete sinks a deployment typically wants —
// a single on-demand dump, and a periodic one — on top of that interface,
// the way mini-rpc's LoggingMiddleware wraps a plain destination (log.*)
// with timing/scheduling behavior rather than reinventing formatting.
package dump

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"connreg/pool"
)

// ToWriter writes a single dump of table to w.
func ToWriter(t *pool.Table, w io.Writer) error {
	return t.Dump(w)
}

// ToFile truncates and writes a single dump of table to the file at path.
func ToFile(t *pool.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.Dump(f)
}

// Periodic dumps a table to a sink on a fixed interval until its context is
// cancelled, logging (but not returning) any write failure so one bad dump
// doesn't stop the schedule — mirroring health.Checker's ticker-loop shape.
type Periodic struct {
	table    *pool.Table
	sink     io.Writer
	interval time.Duration
	log      *zap.Logger
}

// NewPeriodic builds a Periodic dumper writing table's state to sink every
// interval.
func NewPeriodic(t *pool.Table, sink io.Writer, interval time.Duration, log *zap.Logger) *Periodic {
	if log == nil {
		log = zap.NewNop()
	}
	return &Periodic{table: t, sink: sink, interval: interval, log: log}
}

// Run writes a dump immediately, then again every interval, until ctx is
// cancelled.
func (p *Periodic) Run(ctx context.Context) {
	p.dump()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dump()
		}
	}
}

func (p *Periodic) dump() {
	if err := p.table.Dump(p.sink); err != nil {
		p.log.Error("periodic dump failed", zap.Error(err))
	}
}
