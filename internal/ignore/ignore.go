// Package ignore identifies source lines a coverage report should not hold
// against the analysis: lines explicitly marked with a trailing directive
// comment, and lines whose indentation nests them under one of a small set
// of constructs (an assert statement, a `if __name__ == "__main__":` guard)
// that commonly guard debug-only or entry-point-only code. It is a direct
// port of the distilled analyzer's calc_ignored_lines.
package ignore

import "regexp"

// directiveRe matches a line's leading indentation together with either a
// trailing "#!cov-ignore"-style directive comment (captured as "directive"),
// an assert statement, or the conventional main-guard — the three triggers
// that extend ignoring to every more-indented line below them. Only the
// "directive" branch is an explicit ignore; assert and the main-guard are
// implicit, matching the distilled analyzer's is_directive/explicit split.
var directiveRe = regexp.MustCompile(`^(\s*)(?:(?P<directive>.*#\s*!cov-ignore\s*$)|assert\b|if __name__ == ['"]__main__['"]:)`)

var directiveGroup = directiveRe.SubexpIndex("directive")

// Lines reports which 1-indexed line numbers in texts should be ignored,
// split into the full set (every trigger plus everything nested beneath it)
// and the subset that was explicitly marked by a "#!cov-ignore" directive —
// a line or block triggered only by assert/main-guard is ignored but never
// explicit, so it cannot mask the "ignored but covered" diagnostic that
// directive applies to.
func Lines(texts []string) (all, explicit map[int]bool) {
	all = map[int]bool{}
	explicit = map[int]bool{}

	triggered := false
	triggerIndent := 0
	triggerIsDirective := false

	for i, text := range texts {
		lineNo := i + 1

		if triggered {
			indent := leadingWhitespace(text)
			if isBlank(text) {
				continue // blank lines don't end the ignored block on their own.
			}
			if indent > triggerIndent {
				all[lineNo] = true
				if triggerIsDirective {
					explicit[lineNo] = true
				}
				continue
			}
			triggered = false
		}

		m := directiveRe.FindStringSubmatch(text)
		if m != nil {
			isDirective := m[directiveGroup] != ""
			all[lineNo] = true
			if isDirective {
				explicit[lineNo] = true
			}
			triggered = true
			triggerIndent = len(m[1])
			triggerIsDirective = isDirective
		}
	}

	return all, explicit
}

func leadingWhitespace(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\t' {
			break
		}
		n++
	}
	return n
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
			return false
		}
	}
	return true
}
