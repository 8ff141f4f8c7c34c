package chunksum

import (
	"fmt"
	"io"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/dustin/go-humanize"
)

//Event reports one handled file to the progress reporter
type Event struct {
	Path   string
	Size   int64
	Dur    time.Duration //time spent reading and digesting the file
	Cached bool          //served from the chunk cache without reading
	Err    error
}

//Progress prints one line per handled file together with a moving
//average of the overall digest throughput. Events are communicated by
//message so any number of workers can report concurrently while a
//single goroutine owns the output writer
type Progress struct {
	ch   chan Event
	done chan struct{}
}

//NewProgress starts a reporter writing to w
func NewProgress(w io.Writer) (p *Progress) {
	p = &Progress{
		ch:   make(chan Event, 1),
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		//each sample is one file's own size over its own digest time,
		//concurrent workers reporting between each other don't skew it
		avg := ewma.NewMovingAverage()
		for ev := range p.ch {
			if ev.Size > 0 && !ev.Cached && ev.Err == nil && ev.Dur > 0 {
				avg.Add(float64(ev.Size) / ev.Dur.Seconds())
			}

			switch {
			case ev.Err != nil:
				fmt.Fprintf(w, "%s (error: %v)\n", ev.Path, ev.Err)
			case ev.Cached:
				fmt.Fprintf(w, "%s %s (cached)\n", ev.Path, humanize.IBytes(uint64(ev.Size)))
			default:
				fmt.Fprintf(w, "%s %s %s/s\n", ev.Path, humanize.IBytes(uint64(ev.Size)), humanize.IBytes(uint64(avg.Value())))
			}
		}
	}()

	return p
}

//Report sends one event, it may be called concurrently
func (p *Progress) Report(ev Event) {
	p.ch <- ev
}

//Close flushes the reporter and waits for it to finish
func (p *Progress) Close() {
	close(p.ch)
	<-p.done
}
