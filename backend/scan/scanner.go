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

// Package scan classifies uploaded bytes as safe or unsafe using magic
// numbers, byte entropy and static patterns. Every function here is pure;
// nothing touches the filesystem except ScanFile.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/efchatnet/efguard/backend/models"
)

const (
	DefaultMaxSize          int64   = 50 * 1024 * 1024
	DefaultEntropyThreshold float64 = 7.5
)

// Config tunes a Scanner. Zero values select the defaults.
type Config struct {
	MaxSize          int64
	EntropyThreshold float64
	Signatures       *SignatureTable
	Patterns         *PatternScanner
}

// Scanner produces one ScanVerdict per buffer.
type Scanner struct {
	maxSize   int64
	threshold float64
	sigs      *SignatureTable
	patterns  *PatternScanner
}

func NewScanner(cfg Config) *Scanner {
	s := &Scanner{
		maxSize:   cfg.MaxSize,
		threshold: cfg.EntropyThreshold,
		sigs:      cfg.Signatures,
		patterns:  cfg.Patterns,
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxSize
	}
	if s.threshold <= 0 {
		s.threshold = DefaultEntropyThreshold
	}
	if s.sigs == nil {
		s.sigs = DefaultSignatures()
	}
	if s.patterns == nil {
		s.patterns = NewPatternScanner(DefaultPatternWindow)
	}
	return s
}

// MaxSize returns the configured byte ceiling.
func (s *Scanner) MaxSize() int64 {
	return s.maxSize
}

// Hash returns the hex SHA-256 digest used as ScanVerdict.ContentHash.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Scan evaluates data. Checks run cheapest first and the first failing
// check decides the verdict:
//
//  1. size ceiling
//  2. prefix signature (legitimate containers skip 3 and 5)
//  3. entropy threshold
//  4. static patterns in the leading window
//  5. executable markers anywhere in the buffer
func (s *Scanner) Scan(data []byte) models.ScanVerdict {
	v := models.ScanVerdict{
		ContentHash: Hash(data),
		SizeBytes:   int64(len(data)),
	}

	if v.SizeBytes > s.maxSize {
		return unsafe(v, models.ReasonFileTooLarge,
			"file is %d bytes, limit is %d", v.SizeBytes, s.maxSize)
	}

	match := s.sigs.Classify(data)
	if match.Class == ClassMalicious {
		return unsafe(v, models.ReasonMaliciousSignature,
			"file begins with a %s signature", match.Signature)
	}

	v.Entropy = Entropy(data)
	if match.Class == ClassUnknown && v.Entropy > s.threshold {
		return unsafe(v, models.ReasonHighEntropy,
			"entropy %.3f exceeds %.2f for an unrecognized format", v.Entropy, s.threshold)
	}

	if rule, ok := s.patterns.Scan(data); ok {
		return unsafe(v, models.ReasonSuspiciousPattern,
			"content matches rule %s", rule)
	}

	if match.Class != ClassLegitimate {
		if marker, ok := s.sigs.FindEmbedded(data); ok {
			return unsafe(v, models.ReasonEmbeddedExecutable,
				"content embeds a %s marker", marker)
		}
	}

	v.Safe = true
	return v
}

// ScanReader reads at most MaxSize+1 bytes from r and scans them. A read
// error yields an unsafe ScanError verdict; the scanner never fails open.
func (s *Scanner) ScanReader(r io.Reader) models.ScanVerdict {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		v := models.ScanVerdict{ContentHash: Hash(data), SizeBytes: int64(len(data))}
		return unsafe(v, models.ReasonScanError, "read failed: %v", err)
	}
	return s.Scan(data)
}

// ScanFile scans the file at path.
func (s *Scanner) ScanFile(path string) models.ScanVerdict {
	f, err := os.Open(path)
	if err != nil {
		return unsafe(models.ScanVerdict{}, models.ReasonScanError, "open failed: %v", err)
	}
	defer f.Close()
	return s.ScanReader(f)
}

func unsafe(v models.ScanVerdict, code models.ReasonCode, format string, args ...any) models.ScanVerdict {
	v.Safe = false
	v.ReasonCode = code
	v.ReasonText = fmt.Sprintf(format, args...)
	return v
}
