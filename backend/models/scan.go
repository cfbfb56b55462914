// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// ScanVerdict is the immutable outcome of scanning one buffer.
// ContentHash is the hex SHA-256 of the scanned bytes.
type ScanVerdict struct {
	Safe        bool       `json:"safe"`
	ReasonCode  ReasonCode `json:"reason_code,omitempty"`
	ReasonText  string     `json:"reason_text,omitempty"`
	ContentHash string     `json:"content_hash"`
	Entropy     float64    `json:"entropy"`
	SizeBytes   int64      `json:"size_bytes"`
}

// Rejection converts an unsafe verdict into a Rejection. It returns nil for
// safe verdicts.
func (v ScanVerdict) Rejection() *Rejection {
	if v.Safe {
		return nil
	}
	return &Rejection{Code: v.ReasonCode, Text: v.ReasonText}
}

type QuarantineStatus string

const (
	QuarantineStatusQuarantined QuarantineStatus = "quarantined"
	QuarantineStatusReleased    QuarantineStatus = "released"
)

// QuarantineRecord tracks one file moved out of its live location.
type QuarantineRecord struct {
	ID             string           `json:"id" db:"id"`
	OriginalPath   string           `json:"original_path" db:"original_path"`
	QuarantinePath string           `json:"quarantine_path" db:"quarantine_path"`
	ReasonCode     ReasonCode       `json:"reason_code" db:"reason_code"`
	ContentHash    string           `json:"content_hash,omitempty" db:"content_hash"`
	TimestampIn    time.Time        `json:"timestamp_in" db:"timestamp_in"`
	TimestampOut   *time.Time       `json:"timestamp_out,omitempty" db:"timestamp_out"`
	Status         QuarantineStatus `json:"status" db:"status"`
}
