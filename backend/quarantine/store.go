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

// Package quarantine moves unsafe files out of their live location into an
// isolated directory and back again. Every move is a single rename, and a
// move is only kept once the ledger has recorded it.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/models"
)

// maxQuarantineBase leaves room for the 36-byte timestamp and id prefix
// under the 255-byte name limit.
const maxQuarantineBase = 200

var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "efguard_quarantine_operations_total",
		Help: "Quarantine and release operations by outcome.",
	},
	[]string{"operation", "result"},
)

var (
	ErrOutsideQuarantine = errors.New("path is outside the quarantine directory")
	ErrDestinationExists = errors.New("release destination already exists")
)

// Ledger stores QuarantineRecords. Lookups return models.ErrNotFound when
// nothing matches.
type Ledger interface {
	SaveQuarantineRecord(ctx context.Context, rec *models.QuarantineRecord) error
	GetQuarantineRecord(ctx context.Context, id string) (*models.QuarantineRecord, error)
	GetQuarantineRecordByPath(ctx context.Context, quarantinePath string) (*models.QuarantineRecord, error)
	MarkQuarantineReleased(ctx context.Context, id string, at time.Time) error
	ListQuarantineRecords(ctx context.Context, status models.QuarantineStatus, limit int) ([]*models.QuarantineRecord, error)
}

type Store struct {
	dir    string
	ledger Ledger
	audit  *audit.Logger
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates dir if needed. dir must live on the same filesystem as
// every path that will be quarantined, otherwise rename cannot be atomic.
func NewStore(dir string, ledger Ledger, auditor *audit.Logger, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quarantine dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create quarantine dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    abs,
		ledger: ledger,
		audit:  auditor,
		logger: logger.With(slog.String("component", "quarantine")),
		now:    time.Now,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// Quarantine moves path into the quarantine directory and records why.
// On any error the file is left where it was.
func (s *Store) Quarantine(ctx context.Context, path string, reason models.ReasonCode, contentHash string, actor audit.Actor) (*models.QuarantineRecord, error) {
	if _, err := os.Lstat(path); err != nil {
		operationsTotal.WithLabelValues("quarantine", "error").Inc()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	now := s.now().UTC()
	id := uuid.NewString()
	name := fmt.Sprintf("%s_%s_%s", now.Format("20060102T150405.000000000Z"), id[:8], quarantineBase(path))
	dest := filepath.Join(s.dir, name)

	if err := os.Rename(path, dest); err != nil {
		operationsTotal.WithLabelValues("quarantine", "error").Inc()
		return nil, fmt.Errorf("failed to move %s into quarantine: %w", path, err)
	}

	rec := &models.QuarantineRecord{
		ID:             id,
		OriginalPath:   path,
		QuarantinePath: dest,
		ReasonCode:     reason,
		ContentHash:    contentHash,
		TimestampIn:    now,
		Status:         models.QuarantineStatusQuarantined,
	}
	if err := s.ledger.SaveQuarantineRecord(ctx, rec); err != nil {
		operationsTotal.WithLabelValues("quarantine", "error").Inc()
		return nil, s.rollback(dest, path, fmt.Errorf("failed to record quarantine: %w", err))
	}

	if s.audit != nil {
		s.audit.Record(ctx, actor, audit.ActionUploadQuarantined, reason, filepath.Base(path))
	}
	operationsTotal.WithLabelValues("quarantine", "ok").Inc()

	s.logger.InfoContext(ctx, "file quarantined",
		slog.String("id", id),
		slog.String("reason_code", string(reason)),
		slog.String("quarantine_path", dest),
	)
	return rec, nil
}

// Release moves a quarantined file back to originalPath. It returns false
// without error when there is nothing left to release.
func (s *Store) Release(ctx context.Context, quarantinePath, originalPath string, actor audit.Actor) (bool, error) {
	quarantinePath, err := s.inside(quarantinePath)
	if err != nil {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, err
	}

	if _, err := os.Lstat(quarantinePath); errors.Is(err, os.ErrNotExist) {
		operationsTotal.WithLabelValues("release", "noop").Inc()
		return false, nil
	} else if err != nil {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, fmt.Errorf("failed to stat %s: %w", quarantinePath, err)
	}

	if _, err := os.Lstat(originalPath); err == nil {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, fmt.Errorf("%w: %s", ErrDestinationExists, originalPath)
	}

	rec, err := s.ledger.GetQuarantineRecordByPath(ctx, quarantinePath)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, fmt.Errorf("failed to load quarantine record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(originalPath), 0o750); err != nil {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, fmt.Errorf("failed to prepare release destination: %w", err)
	}
	if err := s.moveNoReplace(quarantinePath, originalPath); err != nil {
		operationsTotal.WithLabelValues("release", "error").Inc()
		return false, err
	}

	reason := models.ReasonNone
	if rec != nil {
		reason = rec.ReasonCode
		if err := s.ledger.MarkQuarantineReleased(ctx, rec.ID, s.now().UTC()); err != nil {
			operationsTotal.WithLabelValues("release", "error").Inc()
			return false, s.rollback(originalPath, quarantinePath, fmt.Errorf("failed to record release: %w", err))
		}
	} else {
		s.logger.WarnContext(ctx, "released file had no ledger record", slog.String("quarantine_path", quarantinePath))
	}

	if s.audit != nil {
		s.audit.Record(ctx, actor, audit.ActionQuarantineRelease, reason, filepath.Base(originalPath))
	}
	operationsTotal.WithLabelValues("release", "ok").Inc()
	return true, nil
}

// ReleaseByID releases a record to the location it was quarantined from.
func (s *Store) ReleaseByID(ctx context.Context, id string, actor audit.Actor) (*models.QuarantineRecord, bool, error) {
	rec, err := s.ledger.GetQuarantineRecord(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if rec.Status == models.QuarantineStatusReleased {
		return rec, false, nil
	}
	ok, err := s.Release(ctx, rec.QuarantinePath, rec.OriginalPath, actor)
	if err != nil || !ok {
		return rec, ok, err
	}
	out := s.now().UTC()
	rec.Status = models.QuarantineStatusReleased
	rec.TimestampOut = &out
	return rec, true, nil
}

// List returns records, newest first. An empty status lists all of them.
func (s *Store) List(ctx context.Context, status models.QuarantineStatus, limit int) ([]*models.QuarantineRecord, error) {
	return s.ledger.ListQuarantineRecords(ctx, status, limit)
}

func (s *Store) inside(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideQuarantine, p)
	}
	return abs, nil
}

// moveNoReplace moves from to to, refusing an existing destination even if
// it appears after the caller checked. The hard link fails with EEXIST
// instead of replacing the file the way a rename would.
func (s *Store) moveNoReplace(from, to string) error {
	if err := os.Link(from, to); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, to)
		}
		return fmt.Errorf("failed to release %s: %w", from, err)
	}
	if err := os.Remove(from); err != nil {
		if rmErr := os.Remove(to); rmErr != nil {
			return errors.Join(fmt.Errorf("failed to release %s: %w", from, err),
				fmt.Errorf("failed to undo link: %w", rmErr))
		}
		return fmt.Errorf("failed to release %s: %w", from, err)
	}
	return nil
}

// quarantineBase is the original base name, trimmed from the front so the
// timestamped quarantine name stays within filesystem limits.
func quarantineBase(path string) string {
	base := filepath.Base(path)
	for len(base) > maxQuarantineBase {
		_, size := utf8.DecodeRuneInString(base)
		base = base[size:]
	}
	return base
}

// rollback renames from back to to after a ledger failure. If that also
// fails the file is stranded at from and both errors are returned.
func (s *Store) rollback(from, to string, cause error) error {
	if err := os.Rename(from, to); err != nil {
		s.logger.Error("quarantine rollback failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return errors.Join(cause, fmt.Errorf("rollback failed: %w", err))
	}
	return cause
}
