package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/text"
)

const barWidth = 20

var (
	titleText   = text.Colors{text.FgHiCyan}
	barText     = text.Colors{text.FgHiBlue}
	doneText    = text.Colors{text.FgHiGreen}
	numberText  = text.Colors{text.FgHiYellow}
	errorText   = text.Colors{text.FgHiRed}
	headingText = text.Colors{text.Bold, text.FgHiCyan}
)

// Console prints status lines and a single updating progress bar, it's a shardbench.ProgressObserver
type Console struct {
	mu  sync.Mutex
	out io.Writer

	// set while a progress bar is on the current line
	midLine bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Progress(phase string, completed, total int, elapsed time.Duration) {
	line := ProgressLine(phase, completed, total, elapsed)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if completed >= total {
		fmt.Fprint(c.out, "\r"+line+"\n")
		c.midLine = false
	} else {
		fmt.Fprint(c.out, "\r"+line)
		c.midLine = true
	}
}

// ProgressLine renders "title [bar] pct rate/s", or "title [bar] ✓ total done" once complete
func ProgressLine(phase string, completed, total int, elapsed time.Duration) string {
	if total <= 0 {
		return ""
	}
	if completed > total {
		completed = total
	}

	filled := barWidth * completed / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	if completed == total {
		return fmt.Sprintf("%s [%s] %s", titleText.Sprint(phase), doneText.Sprint(bar), doneText.Sprintf("✓ %s done", humanize.Comma(int64(total))))
	}

	line := fmt.Sprintf("%s [%s] %s", titleText.Sprint(phase), barText.Sprint(bar), numberText.Sprintf("%d%%", completed*100/total))
	if elapsed > 500*time.Millisecond {
		line += " " + numberText.Sprint(humanize.Comma(int64(float64(completed)/elapsed.Seconds()))) + "/s"
	}
	return line
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.midLine {
		fmt.Fprintln(c.out)
		c.midLine = false
	}
	fmt.Fprintln(c.out, s)
}

func (c *Console) Header(msg string) {
	c.println("\n" + headingText.Sprint("🚀 "+msg))
}

func (c *Console) Info(msg string) {
	c.println(barText.Sprint("ℹ " + msg))
}

func (c *Console) Success(msg string) {
	c.println(doneText.Sprint("✓ " + msg))
}

func (c *Console) Warn(msg string) {
	c.println(numberText.Sprint("⚠ " + msg))
}

func (c *Console) Error(msg string) {
	c.println(errorText.Sprint("❌ " + msg))
}

// Print writes a block of text as is, such as a rendered table
func (c *Console) Print(block string) {
	c.println(block)
}
