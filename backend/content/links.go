// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package content

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)

// ExtractURLs returns every link-shaped substring in text with trailing
// sentence punctuation removed.
func ExtractURLs(text string) []string {
	found := urlPattern.FindAllString(text, -1)
	for i, raw := range found {
		found[i] = strings.TrimRight(raw, ".,;:!?)]}")
	}
	return found
}

var hostLabel = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

func parseLink(raw string) (*url.URL, error) {
	if strings.HasPrefix(strings.ToLower(raw), "www.") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, errors.New("missing host")
	}
	if net.ParseIP(host) != nil {
		return u, nil
	}

	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return nil, fmt.Errorf("host %q has no domain suffix", host)
	}
	for _, label := range labels {
		if len(label) > 63 || !hostLabel.MatchString(label) {
			return nil, fmt.Errorf("invalid host label %q", label)
		}
	}
	return u, nil
}

var (
	shortenerDomains = []string{
		"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd", "buff.ly",
		"rebrand.ly", "cutt.ly", "shorturl.at", "tiny.cc", "rb.gy", "v.gd",
	}

	suspiciousTLDs = map[string]bool{
		"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
		"xyz": true, "top": true, "zip": true, "mov": true, "click": true,
		"country": true, "kim": true, "work": true, "loan": true, "icu": true,
	}

	phishingKeywords = []string{
		"verify-account", "account-verify", "secure-login", "login-secure",
		"update-billing", "billing-update", "password-reset", "account-suspended",
		"wallet-connect", "free-bitcoin", "free-gift", "keygen", "malware", "phishing",
	}

	executableExts = map[string]bool{
		".exe": true, ".scr": true, ".bat": true, ".cmd": true, ".msi": true,
		".apk": true, ".jar": true, ".vbs": true, ".ps1": true, ".dll": true,
		".pif": true, ".hta": true, ".sh": true, ".dmg": true,
	}
)

type linkInspector struct {
	blocked []string
}

func newLinkInspector(extra []string) *linkInspector {
	blocked := append([]string(nil), shortenerDomains...)
	for _, d := range extra {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			blocked = append(blocked, d)
		}
	}
	return &linkInspector{blocked: blocked}
}

// inspect returns the first heuristic the link trips.
func (l *linkInspector) inspect(u *url.URL) (string, bool) {
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")

	for _, d := range l.blocked {
		if host == d || strings.HasSuffix(host, "."+d) {
			return "blocked or shortener domain " + d, true
		}
	}

	if u.User != nil {
		return "credentials embedded in link", true
	}
	if net.ParseIP(host) != nil {
		return "raw IP address host", true
	}
	if strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--") {
		return "punycode host", true
	}

	if i := strings.LastIndexByte(host, '.'); i >= 0 && suspiciousTLDs[host[i+1:]] {
		return "suspicious top-level domain ." + host[i+1:], true
	}

	haystack := strings.ToLower(host + u.EscapedPath() + "?" + u.RawQuery)
	for _, kw := range phishingKeywords {
		if strings.Contains(haystack, kw) {
			return "phishing keyword " + kw, true
		}
	}

	if ext := strings.ToLower(path.Ext(u.Path)); executableExts[ext] {
		return "executable download " + ext, true
	}

	return "", false
}
