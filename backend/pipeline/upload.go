// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/gatekeeper"
	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/quarantine"
	"github.com/efchatnet/efguard/backend/scan"
)

type UploadConfig struct {
	StagingDir string
	UploadDir  string
	// BaseURL prefixes the served file name in UploadResult.FileURL.
	BaseURL string
}

type UploadRequest struct {
	Filename string
	MimeType string
	// Size is the client's declaration; the bytes read from Body are
	// bounded by the scanner ceiling regardless.
	Size  int64
	Body  io.Reader
	Actor audit.Actor
}

// UploadResult is either a served file or a rejection.
type UploadResult struct {
	Safe       bool
	FileURL    string
	Hash       string
	Entropy    float64
	SizeBytes  int64
	Rejection  *models.Rejection
	Quarantine *models.QuarantineRecord
}

type Upload struct {
	gate       *gatekeeper.Gatekeeper
	scanner    *scan.Scanner
	blocklist  *scan.Blocklist
	quarantine *quarantine.Store
	audit      *audit.Logger
	logger     *slog.Logger

	stagingDir string
	uploadDir  string
	baseURL    string
}

// NewUpload creates the staging and upload directories. blocklist may be nil.
func NewUpload(cfg UploadConfig, gate *gatekeeper.Gatekeeper, scanner *scan.Scanner, blocklist *scan.Blocklist,
	q *quarantine.Store, auditor *audit.Logger, logger *slog.Logger) (*Upload, error) {
	for _, dir := range []string{cfg.StagingDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	stagingDir, err := filepath.Abs(cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	uploadDir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Upload{
		gate:       gate,
		scanner:    scanner,
		blocklist:  blocklist,
		quarantine: q,
		audit:      auditor,
		logger:     logger.With(slog.String("component", "upload")),
		stagingDir: stagingDir,
		uploadDir:  uploadDir,
		baseURL:    cfg.BaseURL,
	}, nil
}

// Process runs gatekeeper, staging, blocklist and scan in that order. A
// non-nil error means infrastructure failed and nothing was published.
func (u *Upload) Process(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if rej := u.gate.Admit(gatekeeper.Upload{Filename: req.Filename, MimeType: req.MimeType, Size: req.Size}); rej != nil {
		return u.reject(ctx, req, rej), nil
	}

	name := uuid.NewString() + "_" + gatekeeper.SafeName(req.Filename)
	staged, hash, err := u.stage(req.Body, name)
	if err != nil {
		// The body could not be read in full: fail closed.
		rej := models.Reject(models.ReasonScanError, "upload could not be read: %v", err)
		return u.reject(ctx, req, rej), nil
	}

	if u.blocklist != nil {
		reason, known, err := u.blocklist.Lookup(ctx, hash)
		if err != nil {
			u.discard(staged)
			return nil, fmt.Errorf("failed to consult blocklist: %w", err)
		}
		if known {
			verdict := models.ScanVerdict{
				ReasonCode:  models.ReasonKnownMalicious,
				ReasonText:  fmt.Sprintf("content was previously quarantined for %s", reason),
				ContentHash: hash,
			}
			return u.contain(ctx, req, staged, verdict)
		}
	}

	verdict := u.scanner.ScanFile(staged)
	if !verdict.Safe {
		return u.contain(ctx, req, staged, verdict)
	}

	dest := filepath.Join(u.uploadDir, name)
	if err := os.Rename(staged, dest); err != nil {
		return nil, fmt.Errorf("failed to publish upload: %w", err)
	}
	countUpload(nil)

	u.logger.InfoContext(ctx, "upload accepted",
		slog.String("actor_id", req.Actor.ID),
		slog.String("hash", verdict.ContentHash),
		slog.Int64("size", verdict.SizeBytes),
		slog.Float64("entropy", verdict.Entropy),
	)
	return &UploadResult{
		Safe:      true,
		FileURL:   path.Join(u.baseURL, name),
		Hash:      verdict.ContentHash,
		Entropy:   verdict.Entropy,
		SizeBytes: verdict.SizeBytes,
	}, nil
}

// stage writes body under the staging directory via a temp file and
// rename, hashing it on the way.
func (u *Upload) stage(body io.Reader, name string) (string, string, error) {
	tmp, err := os.CreateTemp(u.stagingDir, ".part-*")
	if err != nil {
		return "", "", err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	limit := u.scanner.MaxSize() + 1
	if _, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(body, limit)); err != nil {
		tmp.Close()
		return "", "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", "", err
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}

	staged := filepath.Join(u.stagingDir, name)
	if err := os.Rename(tmpName, staged); err != nil {
		return "", "", err
	}
	tmpName = ""
	return staged, hex.EncodeToString(h.Sum(nil)), nil
}

// contain quarantines a staged file that failed scanning.
func (u *Upload) contain(ctx context.Context, req UploadRequest, staged string, verdict models.ScanVerdict) (*UploadResult, error) {
	rec, err := u.quarantine.Quarantine(ctx, staged, verdict.ReasonCode, verdict.ContentHash, req.Actor)
	if err != nil {
		// The file stays in staging, which is never served.
		u.reject(ctx, req, verdict.Rejection())
		return nil, fmt.Errorf("failed to quarantine rejected upload: %w", err)
	}

	if u.blocklist != nil && blocklistable(verdict.ReasonCode) {
		u.blocklist.Add(verdict.ContentHash)
	}

	rej := verdict.Rejection()
	countUpload(rej)
	u.logger.WarnContext(ctx, "upload quarantined",
		slog.String("actor_id", req.Actor.ID),
		slog.String("reason_code", string(rej.Code)),
		slog.String("hash", verdict.ContentHash),
		slog.String("quarantine_id", rec.ID),
	)
	return &UploadResult{
		Hash:       verdict.ContentHash,
		Entropy:    verdict.Entropy,
		SizeBytes:  verdict.SizeBytes,
		Rejection:  rej,
		Quarantine: rec,
	}, nil
}

// Reject records a refusal decided before the body reached Process, such as a
// request cut off by the transport's size limit.
func (u *Upload) Reject(ctx context.Context, req UploadRequest, rej *models.Rejection) *UploadResult {
	return u.reject(ctx, req, rej)
}

func (u *Upload) reject(ctx context.Context, req UploadRequest, rej *models.Rejection) *UploadResult {
	countUpload(rej)
	u.audit.Rejection(ctx, req.Actor, audit.ActionUploadRejected, rej, req.Filename)
	return &UploadResult{Rejection: rej}
}

func (u *Upload) discard(staged string) {
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.logger.Error("failed to remove staged upload", slog.String("path", staged), slog.String("error", err.Error()))
	}
}

// blocklistable reports whether the verdict describes the full content.
// A truncated read or an oversized file says nothing reusable about a hash.
func blocklistable(code models.ReasonCode) bool {
	switch code {
	case models.ReasonMaliciousSignature, models.ReasonHighEntropy,
		models.ReasonSuspiciousPattern, models.ReasonEmbeddedExecutable:
		return true
	}
	return false
}
