// Package setup implements the interactive first-run wizard that writes the
// configuration file and registers a first schedule source.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var errNoInput = errors.New("no input")

// Prompter asks line-based questions on a terminal. The wizard runs it on
// stdin/stdout; tests feed it canned answers.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter reading answers from r and writing questions
// to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// ask prints the question and returns the trimmed answer. ok is false once
// the input is exhausted.
func (p *Prompter) ask(format string, args ...any) (answer string, ok bool) {
	_, _ = fmt.Fprintf(p.w, "  "+format, args...)
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

func (p *Prompter) hint(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "  ("+format+")\n", args...)
}

// String reads a text answer. An empty answer takes defaultVal; without a
// default the question repeats until something is typed.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		var answer string
		var ok bool
		if defaultVal != "" {
			answer, ok = p.ask("%s [%s]: ", label, defaultVal)
		} else {
			answer, ok = p.ask("%s: ", label)
		}
		switch {
		case !ok:
			return defaultVal
		case answer != "":
			return answer
		case defaultVal != "":
			return defaultVal
		}
		p.hint("required, please enter a value")
	}
}

// Optional reads a text answer that may stay empty.
func (p *Prompter) Optional(label string) string {
	answer, _ := p.ask("%s (optional): ", label)
	return answer
}

// Int reads a whole number of zero or more. An empty answer takes defaultVal.
func (p *Prompter) Int(label string, defaultVal int) int {
	for {
		answer, ok := p.ask("%s [%d]: ", label, defaultVal)
		if !ok || answer == "" {
			return defaultVal
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 0 {
			return n
		}
		p.hint("enter a whole number of zero or more")
	}
}

// Confirm asks a yes/no question. An empty answer, or no input at all, takes
// defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	choices := "[y/N]"
	if defaultYes {
		choices = "[Y/n]"
	}
	answer, ok := p.ask("%s %s: ", label, choices)
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func (p *Prompter) list(label string, options []string) {
	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}
}

// Select lists options and returns the zero-based index of the one picked.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("no options to select from")
	}
	p.list(label, options)

	for {
		answer, ok := p.ask("Choice [1-%d]: ", len(options))
		if !ok {
			return -1, errNoInput
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		p.hint("enter a number between 1 and %d", len(options))
	}
}

// MultiSelect lists options and returns the zero-based indices picked, given
// as a comma-separated list such as "1,3" or as "all".
func (p *Prompter) MultiSelect(label string, options []string) ([]int, error) {
	if len(options) == 0 {
		return nil, errors.New("no options to select from")
	}
	p.list(label, options)

	for {
		answer, ok := p.ask("Choices (comma-separated, e.g. 1,3, or all): ")
		if !ok {
			return nil, errNoInput
		}
		if strings.EqualFold(answer, "all") {
			all := make([]int, len(options))
			for i := range all {
				all[i] = i
			}
			return all, nil
		}
		if picked, ok := parseChoices(answer, len(options)); ok {
			return picked, nil
		}
		p.hint("enter numbers between 1 and %d, separated by commas", len(options))
	}
}

// parseChoices turns "3, 1" into [2 0]. ok is false for an empty list or any
// entry outside 1..n.
func parseChoices(answer string, n int) (picked []int, ok bool) {
	for _, part := range strings.Split(answer, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || i < 1 || i > n {
			return nil, false
		}
		picked = append(picked, i-1)
	}
	return picked, len(picked) > 0
}
