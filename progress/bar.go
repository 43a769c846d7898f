package progress

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const redrawInterval = 100 * time.Millisecond

// Bar draws a single line progress bar. It stays silent when out is not a
// terminal. One Bar belongs to one transfer.
type Bar struct {
	out     io.Writer
	label   string
	total   int64
	width   int
	enabled bool
	start   time.Time

	mu       sync.Mutex
	current  int64
	lastDraw time.Time
}

func NewBar(out *os.File, label string, total int64) *Bar {
	fd := int(out.Fd())
	b := &Bar{
		out:     out,
		label:   label,
		total:   total,
		width:   80,
		enabled: term.IsTerminal(fd),
		start:   time.Now(),
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		b.width = w
	}
	return b
}

func (b *Bar) Update(transferred int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = transferred
	now := time.Now()
	if !b.enabled || now.Sub(b.lastDraw) < redrawInterval {
		return
	}
	b.lastDraw = now
	b.draw(now)
}

// Done draws the final state and ends the line.
func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	b.draw(time.Now())
	fmt.Fprintln(b.out)
}

func (b *Bar) draw(now time.Time) {
	fmt.Fprint(b.out, "\r"+b.render(now))
}

func (b *Bar) render(now time.Time) string {
	frac := 1.0
	if b.total > 0 {
		frac = float64(b.current) / float64(b.total)
	}
	rate := ""
	if elapsed := now.Sub(b.start).Seconds(); elapsed > 0.1 {
		rate = " " + FormatRate(float64(b.current)/elapsed)
	}
	suffix := fmt.Sprintf(" %5.1f%%%s", frac*100, rate)

	barWidth := b.width - len(b.label) - len(suffix) - 4
	if barWidth > 50 {
		barWidth = 50
	}
	if barWidth < 10 {
		return b.label + suffix
	}
	filled := int(frac * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	return fmt.Sprintf("%s [%s%s]%s", b.label, strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled), suffix)
}

// NewLog returns a progress callback that logs every quarter of total.
func NewLog(l *log.Logger, label string, total int64) func(int64) {
	next := int64(25)
	return func(transferred int64) {
		if total <= 0 {
			return
		}
		pct := transferred * 100 / total
		for next <= 100 && pct >= next {
			l.Printf("%s: %d%% (%s of %s)", label, next, FormatBytes(transferred), FormatBytes(total))
			next += 25
		}
	}
}
