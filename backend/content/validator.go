// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package content screens message text before it is persisted: length,
// spam lexicon, then every link it carries.
package content

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/efchatnet/efguard/backend/models"
)

const DefaultMaxLength = 2000

type Config struct {
	// MaxLength is counted in characters (runes), not bytes.
	MaxLength int
	// ExtraSpamPhrases are matched as whole words, case-insensitively.
	ExtraSpamPhrases []string
	// ExtraBlockedDomains are treated like the built-in shortener list.
	ExtraBlockedDomains []string
}

type Validator struct {
	maxLength int
	spam      []spamRule
	links     *linkInspector
}

func NewValidator(cfg Config) *Validator {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}

	rules := append([]spamRule(nil), defaultSpamRules...)
	for _, phrase := range cfg.ExtraSpamPhrases {
		phrase = strings.TrimSpace(strings.ToLower(phrase))
		if phrase == "" {
			continue
		}
		rules = append(rules, spamRule{
			id: "custom:" + phrase,
			re: regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`),
		})
	}

	return &Validator{
		maxLength: cfg.MaxLength,
		spam:      rules,
		links:     newLinkInspector(cfg.ExtraBlockedDomains),
	}
}

// Validate runs the checks in a fixed order and returns the first
// rejection, or nil when the text may be stored.
func (v *Validator) Validate(text string) *models.Rejection {
	if n := utf8.RuneCountInString(text); n > v.maxLength {
		return models.Reject(models.ReasonTooLong, "message is %d characters, limit is %d", n, v.maxLength)
	}

	if rule, ok := v.matchSpam(text); ok {
		return models.Reject(models.ReasonSpamDetected, "message matched spam rule %q", rule)
	}

	for _, raw := range ExtractURLs(text) {
		u, err := parseLink(raw)
		if err != nil {
			return models.Reject(models.ReasonInvalidURL, "malformed link %q: %v", raw, err)
		}
		if why, bad := v.links.inspect(u); bad {
			return models.Reject(models.ReasonMaliciousLink, "link %q rejected: %s", raw, why)
		}
	}

	return nil
}

func (v *Validator) matchSpam(text string) (string, bool) {
	folded := Normalize(text)
	for _, r := range v.spam {
		if r.re.MatchString(folded) {
			return r.id, true
		}
	}
	if repeatedRun(text) >= repeatLimit {
		return "repeated-characters", true
	}
	if shouting(text) {
		return "excessive-capitals", true
	}
	return "", false
}

// Normalize lowercases text after NFKD decomposition with combining marks
// removed, so "Cöngratulations" and fullwidth letters fold to ASCII.
func Normalize(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(out)
}

const (
	repeatLimit   = 10
	capsMinLetter = 20
	capsRatio     = 0.7
)

// repeatedRun returns the longest run of one non-space character.
func repeatedRun(text string) int {
	longest, run := 0, 0
	var prev rune = -1
	for _, r := range text {
		if unicode.IsSpace(r) {
			prev, run = -1, 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

func shouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < capsMinLetter {
		return false
	}
	return float64(upper)/float64(letters) > capsRatio
}

type spamRule struct {
	id string
	re *regexp.Regexp
}

func phrase(id, pattern string) spamRule {
	return spamRule{id: id, re: regexp.MustCompile(pattern)}
}

// Matched against normalized (lowercased) text.
var defaultSpamRules = []spamRule{
	phrase("congratulations", `\bcongratulations\b`),
	phrase("winner", `\byou(?:'re| are)? (?:a |the )?winners?\b`),
	phrase("you-won", `\byou(?:'ve| have)? won\b`),
	phrase("click-here", `\bclick (?:here|this link|below)\b`),
	phrase("lottery", `\blotter(?:y|ies)\b`),
	phrase("claim-prize", `\bclaim (?:your|the) (?:prize|reward|gift)\b`),
	phrase("wire-transfer", `\b(?:wire transfer|western union|moneygram)\b`),
	phrase("advance-fee", `\b(?:inheritance fund|beneficiary of|nigerian prince|unclaimed funds?)\b`),
	phrase("free-money", `\b(?:free money|free cash|100% free|risk[- ]free)\b`),
	phrase("urgency", `\b(?:act now|limited time offer|urgent response needed)\b`),
	phrase("income-scheme", `\b(?:guaranteed income|work from home|earn \$?\d+ (?:per|a) (?:day|week))\b`),
	phrase("crypto-scam", `\b(?:crypto giveaway|double your (?:bitcoin|crypto|money)|bitcoin investment)\b`),
	phrase("credential-ask", `\bsend (?:me )?your (?:password|pin|bank details|card number|ssn)\b`),
	phrase("pharma", `\b(?:viagra|cialis)\b`),
	phrase("gambling", `\bonline casino\b`),
}
