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

package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Category groups reason codes into the rejection families surfaced to callers.
type Category string

const (
	CategoryRateLimited Category = "rate_limited"
	CategoryContent     Category = "content_rejected"
	CategoryFile        Category = "file_rejected"
	CategoryScan        Category = "scan_rejected"
	CategoryAccess      Category = "access_denied"
)

// ReasonCode is the machine-readable reason attached to every rejection.
type ReasonCode string

const (
	ReasonNone ReasonCode = ""

	ReasonRateLimited ReasonCode = "RateLimited"

	// Message content
	ReasonSpamDetected  ReasonCode = "SpamDetected"
	ReasonInvalidURL    ReasonCode = "InvalidUrl"
	ReasonMaliciousLink ReasonCode = "MaliciousLink"
	ReasonTooLong       ReasonCode = "TooLong"

	// Upload admission
	ReasonInvalidFileType    ReasonCode = "InvalidFileType"
	ReasonTooLarge           ReasonCode = "TooLarge"
	ReasonExecutableFilename ReasonCode = "ExecutableFilename"

	// Byte-level scan
	ReasonFileTooLarge       ReasonCode = "FileTooLarge"
	ReasonMaliciousSignature ReasonCode = "MaliciousSignature"
	ReasonHighEntropy        ReasonCode = "HighEntropy"
	ReasonSuspiciousPattern  ReasonCode = "SuspiciousPattern"
	ReasonEmbeddedExecutable ReasonCode = "EmbeddedExecutable"
	ReasonKnownMalicious     ReasonCode = "KnownMalicious"
	ReasonScanError          ReasonCode = "ScanError"

	// Access
	ReasonSenderUnauthorized   ReasonCode = "SenderUnauthorized"
	ReasonReceiverUnauthorized ReasonCode = "ReceiverUnauthorized"
)

var reasonCategories = map[ReasonCode]Category{
	ReasonRateLimited:          CategoryRateLimited,
	ReasonSpamDetected:         CategoryContent,
	ReasonInvalidURL:           CategoryContent,
	ReasonMaliciousLink:        CategoryContent,
	ReasonTooLong:              CategoryContent,
	ReasonInvalidFileType:      CategoryFile,
	ReasonTooLarge:             CategoryFile,
	ReasonExecutableFilename:   CategoryFile,
	ReasonFileTooLarge:         CategoryScan,
	ReasonMaliciousSignature:   CategoryScan,
	ReasonHighEntropy:          CategoryScan,
	ReasonSuspiciousPattern:    CategoryScan,
	ReasonEmbeddedExecutable:   CategoryScan,
	ReasonKnownMalicious:       CategoryScan,
	ReasonScanError:            CategoryScan,
	ReasonSenderUnauthorized:   CategoryAccess,
	ReasonReceiverUnauthorized: CategoryAccess,
}

// Category returns the family the code belongs to.
func (c ReasonCode) Category() Category {
	return reasonCategories[c]
}

// Rejection is returned by every gate that refuses a request. It is a
// terminal, caller-visible outcome, as opposed to an infrastructure error.
type Rejection struct {
	Code ReasonCode `json:"reason_code"`
	Text string     `json:"reason_text"`
}

// Reject builds a Rejection with a formatted reason text.
func Reject(code ReasonCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Text: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Text)
}

func (r *Rejection) Category() Category {
	return r.Code.Category()
}

// HTTPStatus maps the rejection to the status code returned by the API.
func (r *Rejection) HTTPStatus() int {
	switch r.Code {
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonTooLarge, ReasonFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ReasonInvalidFileType:
		return http.StatusUnsupportedMediaType
	case ReasonSenderUnauthorized, ReasonReceiverUnauthorized:
		return http.StatusForbidden
	case ReasonExecutableFilename:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

// AsRejection unwraps err into a Rejection if it carries one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
