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

// Package gatekeeper is the cheap admission check an upload passes before
// its bytes are scanned.
package gatekeeper

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/efchatnet/efguard/backend/models"
)

// DefaultMimeTypes is the allow-list for a document-exchange workload.
var DefaultMimeTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"text/plain",
}

var executableExts = map[string]bool{
	".exe": true, ".dll": true, ".com": true, ".scr": true, ".pif": true,
	".bat": true, ".cmd": true, ".msi": true, ".msp": true, ".cpl": true,
	".vbs": true, ".vbe": true, ".js": true, ".jse": true, ".wsf": true,
	".wsh": true, ".hta": true, ".ps1": true, ".psm1": true, ".jar": true,
	".sh": true, ".bash": true, ".app": true, ".dmg": true, ".pkg": true,
	".deb": true, ".rpm": true, ".apk": true, ".elf": true, ".bin": true,
	".lnk": true, ".reg": true, ".docm": true, ".xlsm": true, ".pptm": true,
}

const (
	// MaxFilenameBytes is the longest declared name admitted.
	MaxFilenameBytes = 255
	// maxStoredNameBytes bounds SafeName so prefixed staging and quarantine
	// names stay under the filesystem's 255-byte limit.
	maxStoredNameBytes = 100
	maxStoredExtBytes  = 16
)

// Upload describes what the client declared about a file.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
}

type Gatekeeper struct {
	allowed map[string]bool
	maxSize int64
}

// New builds a Gatekeeper. An empty allow-list falls back to
// DefaultMimeTypes.
func New(mimeTypes []string, maxSize int64) *Gatekeeper {
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultMimeTypes
	}
	allowed := make(map[string]bool, len(mimeTypes))
	for _, mt := range mimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(mt))] = true
	}
	return &Gatekeeper{allowed: allowed, maxSize: maxSize}
}

// Admit returns nil when the declared metadata passes.
func (g *Gatekeeper) Admit(u Upload) *models.Rejection {
	mediaType, _, err := mime.ParseMediaType(u.MimeType)
	if err != nil || !g.allowed[strings.ToLower(mediaType)] {
		return models.Reject(models.ReasonInvalidFileType, "file type %q is not accepted", u.MimeType)
	}

	if u.Size < 0 || (g.maxSize > 0 && u.Size > g.maxSize) {
		return models.Reject(models.ReasonTooLarge, "file is %d bytes, limit is %d", u.Size, g.maxSize)
	}

	if why, bad := unsafeFilename(u.Filename); bad {
		return models.Reject(models.ReasonExecutableFilename, "filename rejected: %s", why)
	}

	return nil
}

func unsafeFilename(name string) (string, bool) {
	switch {
	case name == "":
		return "empty name", true
	case len(name) > MaxFilenameBytes:
		return "name too long", true
	case strings.ContainsRune(name, 0):
		return "null byte", true
	case strings.Contains(name, ".."):
		return "path traversal", true
	case strings.ContainsAny(name, `/\`):
		return "path separator", true
	}

	lower := strings.ToLower(name)
	// Every dotted segment counts, so "invoice.exe.pdf" is caught too.
	parts := strings.Split(lower, ".")
	for _, p := range parts[1:] {
		if executableExts["."+p] {
			return "executable extension ." + p, true
		}
	}
	return "", false
}

// SafeName strips directory components and characters outside a
// conservative set, for use when the file is written to disk. Long names
// are cut to 100 bytes, keeping the extension.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > maxStoredNameBytes {
		ext := filepath.Ext(out)
		if len(ext) > maxStoredExtBytes {
			ext = ""
		}
		out = out[:maxStoredNameBytes-len(ext)] + ext
	}
	return out
}
