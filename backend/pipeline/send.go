// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/efchatnet/efguard/backend/access"
	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/content"
	"github.com/efchatnet/efguard/backend/envelope"
	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/ratelimit"
)

// MessageWriter persists an accepted message and returns its handle.
type MessageWriter interface {
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
}

type SendRequest struct {
	Caller        access.Caller
	IP            string
	SenderID      string
	SenderKind    models.ActorKind
	ReceiverID    string
	ReceiverKind  models.ActorKind
	Content       string
	AttachmentRef string
}

type Send struct {
	limiter   ratelimit.Limiter
	validator *content.Validator
	verifier  *access.Verifier
	cipher    *envelope.Cipher
	store     MessageWriter
	audit     *audit.Logger
	logger    *slog.Logger
	now       func() time.Time
}

func NewSend(limiter ratelimit.Limiter, validator *content.Validator, verifier *access.Verifier,
	cipher *envelope.Cipher, store MessageWriter, auditor *audit.Logger, logger *slog.Logger) *Send {
	if logger == nil {
		logger = slog.Default()
	}
	return &Send{
		limiter:   limiter,
		validator: validator,
		verifier:  verifier,
		cipher:    cipher,
		store:     store,
		audit:     auditor,
		logger:    logger.With(slog.String("component", "send")),
		now:       time.Now,
	}
}

// Process applies rate limit, content validation, access verification and
// encryption strictly in that order, stopping at the first gate that
// refuses. Refusals come back as *models.Rejection; any other error is an
// infrastructure failure and the message was not stored.
func (s *Send) Process(ctx context.Context, req SendRequest) (*models.Message, error) {
	actor := audit.Actor{ID: req.Caller.ID, Kind: req.Caller.Kind, IP: req.IP}
	if actor.Kind == "" {
		actor.Kind = req.SenderKind
	}

	ok, err := s.limiter.Allow(ctx, req.Caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !ok {
		return nil, s.reject(ctx, actor, models.Reject(models.ReasonRateLimited, "too many messages, try again later"), req.Content)
	}

	if rej := s.validator.Validate(req.Content); rej != nil {
		return nil, s.reject(ctx, actor, rej, req.Content)
	}

	err = s.verifier.Verify(ctx, req.Caller, access.Request{
		SenderID:     req.SenderID,
		SenderKind:   req.SenderKind,
		ReceiverID:   req.ReceiverID,
		ReceiverKind: req.ReceiverKind,
	})
	if rej, ok := models.AsRejection(err); ok {
		return nil, s.reject(ctx, actor, rej, req.Content)
	} else if err != nil {
		return nil, err
	}

	sealed, err := s.cipher.Encrypt(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	msg := &models.Message{
		MessageID:        uuid.NewString(),
		SenderID:         req.SenderID,
		SenderKind:       req.SenderKind,
		ReceiverID:       req.ReceiverID,
		ReceiverKind:     req.ReceiverKind,
		ContentPlaintext: req.Content,
		ContentAtRest:    sealed,
		Kind:             models.MessageText,
		AttachmentRef:    req.AttachmentRef,
		CreatedAt:        s.now().UTC(),
	}
	if msg.AttachmentRef != "" {
		msg.Kind = models.MessageFile
	}

	id, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	msg.MessageID = id
	countMessage(nil)
	return msg, nil
}

func (s *Send) reject(ctx context.Context, actor audit.Actor, rej *models.Rejection, payload string) error {
	countMessage(rej)
	s.audit.Rejection(ctx, actor, audit.ActionMessageRejected, rej, payload)
	return rej
}
