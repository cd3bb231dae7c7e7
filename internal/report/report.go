// Package report renders coverage.FileCoverage results as colorized text,
// the way the distilled analyzer's report_path does, grouping problem lines
// into contiguous ranges with a little source context rather than dumping
// every line. Color follows lipgloss's adaptive styling, the same library
// and pattern the teacher's terminal-facing tooling uses, with go-isatty
// deciding whether color is worth emitting at all.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/ethpandaops/opcov/internal/coverage"
)

var (
	styleCovered    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleNotCovered = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleIgnoredBad = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleContext    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeading    = lipgloss.NewStyle().Bold(true).Underline(true)
	styleElision    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Renderer writes coverage reports to an output stream, optionally
// colorized.
type Renderer struct {
	out   io.Writer
	color bool
}

// New returns a Renderer. If forceColor is non-nil it overrides terminal
// detection; otherwise color is enabled only when out looks like an
// interactive terminal, mirroring the teacher's own isatty-gated styling.
func New(out io.Writer, forceColor *bool) *Renderer {
	color := false
	if forceColor != nil {
		color = *forceColor
	} else if f, ok := out.(fder); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	return &Renderer{out: out, color: color}
}

type fder interface {
	Fd() uintptr
}

func (r *Renderer) render(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

// Before/After context line counts, matching the distilled analyzer's
// report_path window (4 lines before a problem range, 1 line after).
const (
	ContextBefore = 4
	ContextAfter  = 1
)

// RenderFile writes a coverage report for a single source file. sourceLines
// is 0-indexed by line-minus-one (sourceLines[i] is line i+1). showAll
// forces every line to print, not just problem ranges and their context.
func (r *Renderer) RenderFile(path string, sourceLines []string, fc *coverage.FileCoverage, ignoredLines, explicitIgnored map[int]bool, showAll bool) {
	fmt.Fprintln(r.out, r.render(styleHeading, path))

	problems := map[int]bool{}
	for n, l := range fc.Lines {
		if l.Trivial() {
			continue
		}
		if !l.Covered() || ignoredLines[n] {
			problems[n] = true
		}
	}

	var printSet map[int]bool
	if showAll {
		printSet = map[int]bool{}
		for i := range sourceLines {
			printSet[i+1] = true
		}
	} else {
		printSet = expandContext(problems, len(sourceLines))
	}

	ranges := lineRanges(sortedKeys(printSet), ContextBefore, ContextAfter, len(sourceLines))

	for _, rng := range ranges {
		if rng == nil {
			fmt.Fprintln(r.out, r.render(styleElision, "..."))
			continue
		}
		for _, n := range rng {
			r.printLine(n, sourceLines, fc, ignoredLines, explicitIgnored)
		}
	}
}

func (r *Renderer) printLine(n int, sourceLines []string, fc *coverage.FileCoverage, ignoredLines, explicitIgnored map[int]bool) {
	text := ""
	if n-1 < len(sourceLines) {
		text = sourceLines[n-1]
	}

	l := fc.Lines[n]
	ignored := ignoredLines[n]

	switch {
	case l == nil || l.Trivial():
		fmt.Fprintf(r.out, "%4d       %s\n", n, r.render(styleContext, text))
	case l.Covered() && !ignored:
		fmt.Fprintf(r.out, "%4d  %s %s\n", n, r.render(styleCovered, "+"), text)
	case l.Covered() && ignored:
		fmt.Fprintf(r.out, "%4d  %s %s\n", n, r.render(styleIgnoredBad, "?"), text)
	default:
		fmt.Fprintf(r.out, "%4d  %s %s\n", n, r.render(styleNotCovered, "!"), text)
	}

	_ = explicitIgnored // reserved for a future "why ignored" annotation; not rendered today.
}

func expandContext(problems map[int]bool, total int) map[int]bool {
	out := map[int]bool{}
	for n := range problems {
		for d := -ContextBefore; d <= ContextAfter; d++ {
			ln := n + d
			if ln >= 1 && ln <= total {
				out[ln] = true
			}
		}
	}
	return out
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// lineRanges groups a sorted list of line numbers into contiguous runs,
// inserting a nil "elision" marker between runs separated by a gap of more
// than before lines; shorter gaps are filled in and joined into one run.
// after and terminal are accepted but not used — the Go shape of the
// distilled analyzer's line_ranges generator.
func lineRanges(nums []int, before, after, terminal int) [][]int {
	if len(nums) == 0 {
		return nil
	}

	var ranges [][]int
	start := nums[0]
	end := nums[0]

	flush := func() {
		run := make([]int, 0, end-start+1)
		for n := start; n <= end; n++ {
			run = append(run, n)
		}
		ranges = append(ranges, run)
	}

	for _, n := range nums[1:] {
		if n <= end+1 {
			end = n
			continue
		}
		if end+1 < n-before {
			flush()
			ranges = append(ranges, nil)
			start, end = n, n
			continue
		}
		end = n
	}
	flush()

	return ranges
}

// Summary is a rollup of coverage totals across every file in a run, the Go
// analogue of the distilled analyzer's Stats class.
type Summary struct {
	Lines      int
	Trivial    int
	Covered    int
	NotCovered int
	Ignored    int
}

// Add folds other's counts into s.
func (s *Summary) Add(other Summary) {
	s.Lines += other.Lines
	s.Trivial += other.Trivial
	s.Covered += other.Covered
	s.NotCovered += other.NotCovered
	s.Ignored += other.Ignored
}

// Describe renders a one-line, colorized summary.
func (r *Renderer) Describe(s Summary) string {
	traceable := s.Lines - s.Trivial
	if traceable <= 0 {
		return "no traceable lines"
	}
	pct := 100 * s.Covered / traceable
	line := fmt.Sprintf("%d/%d lines covered (%d%%), %d ignored", s.Covered, traceable, pct, s.Ignored)
	if s.NotCovered > 0 {
		return r.render(styleNotCovered, line)
	}
	return r.render(styleCovered, line)
}
