// Package progress reports compilation progress on a terminal.
package progress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/INLOpen/phoneprefix/hooks"
)

const (
	defaultWidth    = 80
	defaultLogEvery = 25
	minBarWidth     = 10
)

// Bar draws a progress bar while input files are compiled. When the output
// is not a terminal it logs a line every few files instead of drawing.
type Bar struct {
	mu          sync.Mutex
	out         io.Writer
	logger      *slog.Logger
	interactive bool
	width       int
	logEvery    int

	total   int
	done    int
	started time.Time
}

// New creates a bar writing to out.
func New(out io.Writer, logger *slog.Logger) *Bar {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Bar{
		out:      out,
		logger:   logger.With("component", "Progress"),
		width:    defaultWidth,
		logEvery: defaultLogEvery,
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			b.width = w
		}
	}
	return b
}

// Register subscribes the bar to the run and file events of hm.
func (b *Bar) Register(hm hooks.HookManager) {
	hm.Register(hooks.EventPreCompileRun, b)
	hm.Register(hooks.EventPostCompileFile, b)
	hm.Register(hooks.EventPostCompileRun, b)
}

// Start resets the bar for total files.
func (b *Bar) Start(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.done = 0
	b.started = time.Now()
	b.draw("")
}

// Advance marks one more file as done.
func (b *Bar) Advance(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done++
	if b.interactive {
		b.draw(label)
		return
	}
	if b.done%b.logEvery == 0 || b.done == b.total {
		b.logger.Info("Compilation progress", "done", b.done, "total", b.total, "last", label)
	}
}

// Finish completes the bar line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interactive {
		b.draw("")
		fmt.Fprintln(b.out)
	}
	b.logger.Debug("Compilation progress finished", "done", b.done, "total", b.total, "elapsed", time.Since(b.started))
}

// Done returns how many files were reported.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Bar) draw(label string) {
	if !b.interactive {
		return
	}
	fmt.Fprint(b.out, "\r"+Render(b.done, b.total, b.width, label))
}

// Render formats one bar line of at most width columns.
func Render(done, total, width int, label string) string {
	pct := 100
	if total > 0 {
		pct = done * 100 / total
	}
	counter := fmt.Sprintf(" %d/%d %3d%%", done, total, pct)
	barWidth := width - len(counter) - 2
	if label != "" {
		barWidth -= len(label) + 1
	}
	if barWidth < minBarWidth {
		barWidth = minBarWidth
		label = ""
	}
	filled := barWidth
	if total > 0 {
		filled = done * barWidth / total
	}
	line := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]" + counter
	if label != "" {
		line += " " + label
	}
	return line
}

// OnEvent implements hooks.HookListener.
func (b *Bar) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.CompileRunPayload:
		b.Start(len(payload.Inputs))
	case hooks.PostCompileFilePayload:
		b.Advance(payload.Input.String())
	case hooks.PostCompileRunPayload:
		b.Finish()
	}
	return nil
}

// Priority runs the bar after listeners that may log about the same file.
func (b *Bar) Priority() int { return 200 }

// IsAsync is false so the bar never falls behind the run it reports.
func (b *Bar) IsAsync() bool { return false }
