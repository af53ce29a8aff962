package progress

import (
	"fmt"
	"io"
	"sync"
)

// Printer is an Emitter that renders events as console lines, one per event.
// Items are numbered against the last announced total.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	total int
	done  int
	quiet bool
}

// NewPrinter returns a Printer writing to w. A quiet printer omits items.
func NewPrinter(w io.Writer, quiet bool) *Printer {
	return &Printer{w: w, quiet: quiet}
}

// Emit writes e. It always reports a listener.
func (p *Printer) Emit(e Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case KindTotal:
		p.total, p.done = e.Total, 0
		_, _ = fmt.Fprintf(p.w, "%d tiles to process\n", e.Total)
	case KindPhase:
		_, _ = fmt.Fprintf(p.w, "== %s\n", e.Message)
	case KindItem:
		p.done++
		if !p.quiet {
			_, _ = fmt.Fprintf(p.w, "[%d/%d] %s\n", p.done, p.total, e.Message)
		}
	case KindEnd:
		_, _ = fmt.Fprintln(p.w, e.Message)
	case KindError:
		_, _ = fmt.Fprintf(p.w, "error: %s\n", e.Message)
	}
	return true
}
