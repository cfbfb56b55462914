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

package scan

import "bytes"

// Class is the outcome of matching a buffer's leading bytes.
type Class int

const (
	ClassUnknown Class = iota
	ClassLegitimate
	ClassMalicious
)

func (c Class) String() string {
	switch c {
	case ClassLegitimate:
		return "legitimate"
	case ClassMalicious:
		return "malicious"
	default:
		return "unknown"
	}
}

// Signature is a magic number. Mask, when set, has the same length as Magic
// and marks with 0x00 the bytes that are not compared (e.g. RIFF chunk sizes).
type Signature struct {
	Name  string
	Magic []byte
	Mask  []byte
	// Embedded marks markers distinctive enough to be searched for anywhere
	// in a buffer, not only at offset zero.
	Embedded bool
}

// MatchPrefix reports whether data starts with the signature.
func (s Signature) MatchPrefix(data []byte) bool {
	if len(data) < len(s.Magic) {
		return false
	}
	if s.Mask == nil {
		return bytes.HasPrefix(data, s.Magic)
	}
	for i, m := range s.Magic {
		if s.Mask[i] == 0 {
			continue
		}
		if data[i] != m {
			return false
		}
	}
	return true
}

// Match is a classification result along with the signature that produced it.
type Match struct {
	Class     Class
	Signature string
}

// SignatureTable holds the known-good and known-bad magic numbers.
type SignatureTable struct {
	Legitimate []Signature
	Malicious  []Signature
	// EmbeddedOnly lists markers that only make sense mid-buffer, such as
	// the text of a PE DOS stub.
	EmbeddedOnly []Signature
}

// DefaultSignatures returns the tables used for the document exchange:
// images and PDFs are trusted containers, executables, archives and OLE2
// office containers are not.
func DefaultSignatures() *SignatureTable {
	return &SignatureTable{
		Legitimate: []Signature{
			{Name: "png", Magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
			{Name: "jpeg", Magic: []byte{0xFF, 0xD8, 0xFF}},
			{Name: "gif87a", Magic: []byte("GIF87a")},
			{Name: "gif89a", Magic: []byte("GIF89a")},
			{Name: "pdf", Magic: []byte("%PDF-")},
			{
				Name:  "webp",
				Magic: []byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P'},
				Mask:  []byte{1, 1, 1, 1, 0, 0, 0, 0, 1, 1, 1, 1},
			},
			{Name: "tiff-le", Magic: []byte{'I', 'I', 0x2A, 0x00}},
			{Name: "tiff-be", Magic: []byte{'M', 'M', 0x00, 0x2A}},
		},
		Malicious: []Signature{
			{Name: "elf", Magic: []byte{0x7F, 'E', 'L', 'F'}, Embedded: true},
			{Name: "macho-32", Magic: []byte{0xFE, 0xED, 0xFA, 0xCE}, Embedded: true},
			{Name: "macho-64", Magic: []byte{0xFE, 0xED, 0xFA, 0xCF}, Embedded: true},
			{Name: "macho-32-le", Magic: []byte{0xCE, 0xFA, 0xED, 0xFE}, Embedded: true},
			{Name: "macho-64-le", Magic: []byte{0xCF, 0xFA, 0xED, 0xFE}, Embedded: true},
			{Name: "macho-fat-or-java-class", Magic: []byte{0xCA, 0xFE, 0xBA, 0xBE}, Embedded: true},
			{Name: "ole2-office", Magic: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, Embedded: true},
			{Name: "zip", Magic: []byte{'P', 'K', 0x03, 0x04}, Embedded: true},
			{Name: "rar", Magic: []byte{'R', 'a', 'r', '!', 0x1A, 0x07}, Embedded: true},
			{Name: "7z", Magic: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}, Embedded: true},
			{Name: "windows-shortcut", Magic: []byte{0x4C, 0x00, 0x00, 0x00, 0x01, 0x14, 0x02, 0x00}, Embedded: true},
			{Name: "gzip", Magic: []byte{0x1F, 0x8B, 0x08}},
			{Name: "pe", Magic: []byte{'M', 'Z'}},
			{Name: "shebang", Magic: []byte("#!/")},
		},
		EmbeddedOnly: []Signature{
			{Name: "pe-dos-stub", Magic: []byte("This program cannot be run in DOS mode"), Embedded: true},
			{Name: "pe-win32-stub", Magic: []byte("This program must be run under Win32"), Embedded: true},
		},
	}
}

// Classify matches the buffer's prefix. A legitimate match wins over any
// malicious one so that trusted containers short-circuit signature rejection.
func (t *SignatureTable) Classify(data []byte) Match {
	for _, sig := range t.Legitimate {
		if sig.MatchPrefix(data) {
			return Match{Class: ClassLegitimate, Signature: sig.Name}
		}
	}
	for _, sig := range t.Malicious {
		if sig.MatchPrefix(data) {
			return Match{Class: ClassMalicious, Signature: sig.Name}
		}
	}
	return Match{Class: ClassUnknown}
}

// FindEmbedded searches the whole buffer for embeddable executable markers
// and returns the first one found.
func (t *SignatureTable) FindEmbedded(data []byte) (string, bool) {
	for _, group := range [][]Signature{t.Malicious, t.EmbeddedOnly} {
		for _, sig := range group {
			if !sig.Embedded || sig.Mask != nil {
				continue
			}
			if bytes.Contains(data, sig.Magic) {
				return sig.Name, true
			}
		}
	}
	return "", false
}
