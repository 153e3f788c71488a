// Package ui provides the small terminal-rendering primitives
// cmd/patchdance-demo uses to report engine results — a spinner for the
// duration of a transaction and a progress bar for multi-commit rewrites —
// grounded on the teacher's internal/ui package of the same shape.
package ui

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/patchdance-dev/patchdance/internal/ui/styles"
	"golang.org/x/term"
)

// Spinner animates a message while a long-running engine call (a
// transaction's preflight-through-commit sequence) is in flight.
type Spinner struct {
	message string
	done    chan struct{}
	stopped bool
}

// NewSpinner creates a spinner with the given message, not yet started.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		done:    make(chan struct{}),
	}
}

// Start begins the spinner animation in the background. In accessible mode
// or when stdout isn't a TTY, it prints the message once instead.
func (s *Spinner) Start() {
	if styles.IsAccessible() || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(s.message + "...")
		return
	}

	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		style := lipgloss.NewStyle().Foreground(styles.Accent)
		i := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				fmt.Print("\r\033[K")
				return
			case <-ticker.C:
				frame := style.Render(frames[i%len(frames)])
				fmt.Printf("\r\033[K%s %s", frame, s.message)
				i++
			}
		}
	}()
}

// Stop stops the spinner animation without printing a result.
func (s *Spinner) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	time.Sleep(20 * time.Millisecond) // let the animation goroutine clear its line
}

// Success stops the spinner and prints a success message.
func (s *Spinner) Success(msg string) {
	s.Stop()
	fmt.Println(styles.SuccessMsg(msg))
}

// Error stops the spinner and prints an error message.
func (s *Spinner) Error(msg string) {
	s.Stop()
	fmt.Println(styles.ErrorMsg(msg))
}

// Progress renders a simple determinate bar for a rewrite plan's commit
// count — how many of the plan's commits have been rebuilt so far — with
// an elapsed-time suffix. It shows elapsed time only and does not
// estimate an ETA.
type Progress struct {
	mu        sync.Mutex
	label     string
	total     int
	current   int
	width     int
	startTime time.Time
	isTTY     bool
}

// NewProgress creates a progress bar for a plan of total commits.
func NewProgress(label string, total int) *Progress {
	return &Progress{
		label:     label,
		total:     total,
		width:     30,
		startTime: time.Now(),
		isTTY:     term.IsTerminal(int(os.Stdout.Fd())) && !styles.IsAccessible(),
	}
}

// Update advances the bar to current out of total and redraws it.
func (p *Progress) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.render()
}

func (p *Progress) render() {
	if p.total <= 0 {
		return
	}
	pct := p.current * 100 / p.total

	if !p.isTTY {
		fmt.Printf("%s: %d%% [%d/%d]\n", p.label, pct, p.current, p.total)
		return
	}

	pctFloat := float64(p.current) / float64(p.total)
	filled := int(pctFloat * float64(p.width))
	empty := p.width - filled

	bar := lipgloss.NewStyle().Foreground(styles.Success).Render(repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(styles.Muted).Render(repeat("░", empty))

	fmt.Printf("\r\033[K%s %s %3d%% [%d/%d]", p.label, bar, pct, p.current, p.total)
}

// Done finishes the bar at 100% and prints the elapsed time.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.startTime)
	p.current = p.total

	if !p.isTTY {
		fmt.Printf("%s: 100%% [%d/%d] done in %s\n", p.label, p.total, p.total, FormatDuration(elapsed))
		return
	}

	bar := lipgloss.NewStyle().Foreground(styles.Success).Render(repeat("█", p.width))
	elapsedStr := lipgloss.NewStyle().Foreground(styles.Muted).Render(" " + FormatDuration(elapsed))
	fmt.Printf("\r\033[K%s %s 100%% [%d/%d]%s\n", p.label, bar, p.total, p.total, elapsedStr)
}

// FormatDuration formats a duration the way a commit-rewrite report does:
// coarse units only (no sub-second precision matters to an operator
// watching a rewrite run).
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// FormatCount formats a count with thousand separators, used for reporting
// how many lines or hunks a rewrite touched.
func FormatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func repeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]byte, len(s)*n)
	for i := 0; i < n; i++ {
		copy(result[i*len(s):], s)
	}
	return string(result)
}
