package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const progressInterval = 200 * time.Millisecond

// Progress draws a single updating progress line. It satisfies
// client.ProgressReporter.
type Progress struct {
	mu       sync.Mutex
	out      io.Writer
	now      func() time.Time
	started  time.Time
	lastDraw time.Time
	written  int64
	total    int64
	width    int
	accent   func(a ...any) string
}

func NewProgress(out io.Writer) *Progress {
	return &Progress{
		out:    out,
		now:    time.Now,
		accent: color.New(color.FgCyan).SprintFunc(),
	}
}

func (p *Progress) OnProgress(written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.started.IsZero() {
		p.started = now
	}
	p.written, p.total = written, total
	if now.Sub(p.lastDraw) < progressInterval && (total <= 0 || written < total) {
		return
	}
	p.lastDraw = now
	p.draw(now)
}

// Finish draws the final state and ends the line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.IsZero() {
		return
	}
	p.draw(p.now())
	fmt.Fprintln(p.out)
}

func (p *Progress) draw(now time.Time) {
	line := formatProgressLine(p.written, p.total, now.Sub(p.started))
	pad := ""
	if n := p.width - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	p.width = len(line)
	fmt.Fprintf(p.out, "\r%s%s", p.accent(line), pad)
}

func formatProgressLine(written, total int64, elapsed time.Duration) string {
	speed := 0.0
	if elapsed > 0 {
		speed = float64(written) / elapsed.Seconds()
	}
	if total <= 0 {
		return fmt.Sprintf("%s  %s/s", formatBytes(written), formatBytes(int64(speed)))
	}
	pct := float64(written) * 100 / float64(total)
	eta := "--:--"
	if d, ok := estimateETA(written, total, elapsed); ok {
		eta = formatDuration(d)
	}
	return fmt.Sprintf("%5.1f%%  %s / %s  %s/s  eta %s",
		pct, formatBytes(written), formatBytes(total), formatBytes(int64(speed)), eta)
}

func estimateETA(written, total int64, elapsed time.Duration) (time.Duration, bool) {
	if written <= 0 || total <= written || elapsed <= 0 {
		return 0, false
	}
	speed := float64(written) / elapsed.Seconds()
	remaining := float64(total-written) / speed
	return time.Duration(remaining * float64(time.Second)), true
}

func formatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func formatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(units)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, units[unit])
}
