package pool

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/sirupsen/logrus"
)

// Progress counts completed tasks. A single goroutine logs every update
// with the completed share and the elapsed time, and advances an optional
// terminal progress bar.
type Progress struct {
	log   logrus.FieldLogger
	total int
	start time.Time
	bar   *pb.ProgressBar

	done    atomic.Int64
	final   atomic.Int64
	updates chan int
	stopped chan struct{}
}

// NewProgress starts reporting on total tasks. When bar is non-nil a
// progress bar is drawn to it.
func NewProgress(log logrus.FieldLogger, what string, total int, bar io.Writer) *Progress {
	p := &Progress{
		log:     log,
		total:   total,
		start:   time.Now(),
		updates: make(chan int),
		stopped: make(chan struct{}),
	}
	if bar != nil {
		p.bar = pb.New(total)
		p.bar.Output = bar
		p.bar.ShowCounters = true
		p.bar.ShowTimeLeft = true
		p.bar.Prefix(what + " ")
		p.bar.Start()
	}
	go p.report(what)
	return p
}

func (p *Progress) report(what string) {
	defer close(p.stopped)
	var done int
	for n := range p.updates {
		done += n
		if p.bar != nil {
			p.bar.Add(n)
			continue
		}
		percent := 100.0
		if p.total > 0 {
			percent = 100 * float64(done) / float64(p.total)
		}
		p.log.WithFields(logrus.Fields{
			what: fmt.Sprintf("%.2f%%", percent),
			"in": time.Since(p.start).Round(time.Second),
		}).Info("progress")
	}
}

// Add records n more completed tasks.
func (p *Progress) Add(n int) {
	p.done.Add(int64(n))
	p.updates <- n
}

// Done returns the number of completed tasks.
func (p *Progress) Done() int {
	return int(p.done.Load())
}

// Total returns the number of tasks.
func (p *Progress) Total() int {
	return p.total
}

// Elapsed returns the time since reporting started, or until it finished.
func (p *Progress) Elapsed() time.Duration {
	if d := p.final.Load(); d > 0 {
		return time.Duration(d)
	}
	return time.Since(p.start)
}

// Finish stops reporting. Add must not be called afterwards.
func (p *Progress) Finish() {
	p.final.Store(int64(max(time.Since(p.start), 1)))
	close(p.updates)
	<-p.stopped
	if p.bar != nil {
		p.bar.Finish()
	}
}
