// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scan

import (
	"fmt"
	"regexp"
)

// DefaultPatternWindow is how many leading bytes the pattern scanner reads.
const DefaultPatternWindow = 10 * 1024

// Rule is one static pattern. Rules are evaluated in order; the first match
// wins.
type Rule struct {
	ID string
	re *regexp.Regexp
}

// NewRule compiles a rule. Patterns use RE2 syntax and are matched against
// raw bytes, so invalid UTF-8 is tolerated.
func NewRule(id, pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", id, err)
	}
	return Rule{ID: id, re: re}, nil
}

func mustRule(id, pattern string) Rule {
	r, err := NewRule(id, pattern)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultRules = []Rule{
	mustRule("script-tag", `(?i)<\s*script\b`),
	mustRule("javascript-uri", `(?i)javascript\s*:`),
	mustRule("html-event-handler", `(?i)\bon(?:load|error|mouseover|focus)\s*=`),
	mustRule("php-open-tag", `(?i)<\?php`),
	mustRule("dynamic-eval", `(?i)\beval\s*\(`),
	mustRule("function-constructor", `(?i)\bnew\s+Function\s*\(`),
	mustRule("base64-decode-exec", `(?i)\bbase64_decode\s*\(`),
	mustRule("system-command", `(?i)\b(?:exec|system)\(\s*["'$]|\b(?:shell_exec|passthru|popen|proc_open)\s*\(`),
	mustRule("command-shell", `(?i)(?:\bcmd\.exe\b|\bpowershell\b|/bin/(?:ba)?sh\b)`),
	mustRule("pdf-active-content", `/(?:JavaScript|Launch|EmbeddedFile)\b`),
	mustRule("pe-header", `(?s)MZ.{0,256}This program (?:cannot|must) be run`),
	mustRule("elf-header", `\x7fELF[\x01\x02][\x01\x02]\x01`),
}

// PatternScanner looks for embedded script and command markers in a bounded
// prefix of a buffer.
type PatternScanner struct {
	rules  []Rule
	window int
}

// NewPatternScanner returns a scanner with the default rules followed by
// extra. A non-positive window selects DefaultPatternWindow.
func NewPatternScanner(window int, extra ...Rule) *PatternScanner {
	if window <= 0 {
		window = DefaultPatternWindow
	}
	rules := make([]Rule, 0, len(defaultRules)+len(extra))
	rules = append(rules, defaultRules...)
	rules = append(rules, extra...)
	return &PatternScanner{rules: rules, window: window}
}

// Window returns the number of leading bytes examined.
func (p *PatternScanner) Window() int {
	return p.window
}

// Scan returns the id of the first rule matching within the window.
func (p *PatternScanner) Scan(data []byte) (string, bool) {
	if len(data) > p.window {
		data = data[:p.window]
	}
	for _, r := range p.rules {
		if r.re.Match(data) {
			return r.ID, true
		}
	}
	return "", false
}
