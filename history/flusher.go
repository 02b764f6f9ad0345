package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	kitlog "github.com/go-kit/kit/log"
)

type entry struct {
	id int
	s  Sample
}

type batch struct {
	entries []entry
	ack     chan struct{} // closed once written, for Sync
}

// Flusher writes samples to per body trajectory files from a single
// background goroutine. Write never touches the disk: it fills one of two
// in-memory buffers and hands it over when full, blocking only if the other
// buffer is still being written.
type Flusher struct {
	dir    string
	limit  int
	logger kitlog.Logger

	cur  *batch
	full chan *batch
	free chan *batch
	done chan struct{}

	// Owned by the flushing goroutine.
	files map[int]*os.File
	bufs  map[int]*bufio.Writer
	err   error

	written atomic.Uint64
	waits   atomic.Uint64
}

// NewFlusher starts a flusher writing into dir. Each body file is created,
// or truncated, on its first write. limit is the number of samples per buffer.
func NewFlusher(dir string, limit int, logger kitlog.Logger) *Flusher {
	if limit <= 0 {
		limit = 4096
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	f := &Flusher{
		dir:    dir,
		limit:  limit,
		logger: logger,
		cur:    &batch{entries: make([]entry, 0, limit)},
		full:   make(chan *batch, 2),
		free:   make(chan *batch, 2),
		done:   make(chan struct{}),
		files:  make(map[int]*os.File),
		bufs:   make(map[int]*bufio.Writer),
	}
	f.free <- &batch{entries: make([]entry, 0, limit)}
	go f.run()
	return f
}

// Write queues one sample of body id.
func (f *Flusher) Write(id int, s Sample) {
	f.cur.entries = append(f.cur.entries, entry{id, s})
	if len(f.cur.entries) >= f.limit {
		f.swap(nil)
	}
}

// Sync hands over the current buffer and waits until everything queued so
// far is on disk. It returns the first write error, if any.
func (f *Flusher) Sync() error {
	ack := make(chan struct{})
	f.swap(ack)
	<-ack
	return f.err
}

// Close flushes, stops the goroutine and closes every file.
func (f *Flusher) Close() error {
	if f.cur == nil {
		return f.err
	}
	f.full <- f.cur
	f.cur = nil
	close(f.full)
	<-f.done
	return f.err
}

// Written returns the number of samples written to disk so far.
func (f *Flusher) Written() uint64 {
	return f.written.Load()
}

// Waits returns how many times Write had to wait for the other buffer.
func (f *Flusher) Waits() uint64 {
	return f.waits.Load()
}

func (f *Flusher) swap(ack chan struct{}) {
	f.cur.ack = ack
	f.full <- f.cur
	select {
	case f.cur = <-f.free:
	default:
		f.waits.Add(1)
		f.cur = <-f.free
	}
}

func (f *Flusher) run() {
	defer close(f.done)
	for b := range f.full {
		f.write(b)
		if b.ack != nil {
			close(b.ack)
		}
		b.entries = b.entries[:0]
		b.ack = nil
		f.free <- b
	}
	for id, file := range f.files {
		if err := file.Close(); err != nil && f.err == nil {
			f.err = fmt.Errorf("closing trajectory of %d: %w", id, err)
		}
	}
}

func (f *Flusher) write(b *batch) {
	if len(b.entries) == 0 {
		return
	}
	// One burst per body, in order of first appearance.
	var order []int
	perBody := make(map[int][]Sample)
	for _, e := range b.entries {
		if _, ok := perBody[e.id]; !ok {
			order = append(order, e.id)
		}
		perBody[e.id] = append(perBody[e.id], e.s)
	}
	for _, id := range order {
		if err := f.burst(id, perBody[id]); err != nil && f.err == nil {
			f.err = err
			f.logger.Log("level", "critical", "subsys", "history", "body", id, "err", err)
		}
	}
	for id, w := range f.bufs {
		if err := w.Flush(); err != nil && f.err == nil {
			f.err = fmt.Errorf("flushing trajectory of %d: %w", id, err)
		}
	}
}

func (f *Flusher) burst(id int, samples []Sample) error {
	w, ok := f.bufs[id]
	if !ok {
		file, err := os.Create(filepath.Join(f.dir, FileName(id)))
		if err != nil {
			return err
		}
		f.files[id] = file
		w = bufio.NewWriter(file)
		f.bufs[id] = w
	}
	if err := WriteBurst(w, id, samples); err != nil {
		return fmt.Errorf("writing trajectory of %d: %w", id, err)
	}
	f.written.Add(uint64(len(samples)))
	return nil
}
