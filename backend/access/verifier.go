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

// Package access decides whether a caller may send a message from one
// identity to another.
package access

import (
	"context"
	"fmt"

	"github.com/efchatnet/efguard/backend/models"
)

// Directory answers whether an identity exists and is active.
type Directory interface {
	Lookup(ctx context.Context, id string, kind models.ActorKind) (models.Identity, error)
}

// Caller is the identity established by authentication.
type Caller struct {
	ID string
	// Kind is empty when the credential does not say.
	Kind models.ActorKind
}

// Request is the routing part of a message.
type Request struct {
	SenderID     string
	SenderKind   models.ActorKind
	ReceiverID   string
	ReceiverKind models.ActorKind
}

type Verifier struct {
	dir Directory
}

func NewVerifier(dir Directory) *Verifier {
	return &Verifier{dir: dir}
}

// Verify returns a *models.Rejection when the request is not authorized and
// a plain error when the directory could not be consulted.
func (v *Verifier) Verify(ctx context.Context, caller Caller, req Request) error {
	if req.SenderID == "" || req.SenderID != caller.ID {
		return models.Reject(models.ReasonSenderUnauthorized, "sender does not match the authenticated caller")
	}
	if caller.Kind != "" && caller.Kind != req.SenderKind {
		return models.Reject(models.ReasonSenderUnauthorized, "sender kind %q does not match credential", req.SenderKind)
	}

	if !req.SenderKind.Valid() {
		return models.Reject(models.ReasonSenderUnauthorized, "unknown sender kind %q", req.SenderKind)
	}
	sender, err := v.dir.Lookup(ctx, req.SenderID, req.SenderKind)
	if err != nil {
		return fmt.Errorf("failed to look up sender: %w", err)
	}
	if !sender.Exists || !sender.Active {
		return models.Reject(models.ReasonSenderUnauthorized, "sender is not an active %s", req.SenderKind)
	}

	if !req.ReceiverKind.Valid() || req.ReceiverID == "" {
		return models.Reject(models.ReasonReceiverUnauthorized, "unknown receiver")
	}
	receiver, err := v.dir.Lookup(ctx, req.ReceiverID, req.ReceiverKind)
	if err != nil {
		return fmt.Errorf("failed to look up receiver: %w", err)
	}
	if !receiver.Exists || !receiver.Active {
		return models.Reject(models.ReasonReceiverUnauthorized, "receiver is not an active %s", req.ReceiverKind)
	}

	return nil
}
