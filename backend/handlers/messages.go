// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/pipeline"
)

type MessageHandler struct {
	send    *pipeline.Send
	mailbox *pipeline.Mailbox
	logger  *slog.Logger
}

func NewMessageHandler(send *pipeline.Send, mailbox *pipeline.Mailbox, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{send: send, mailbox: mailbox, logger: logger}
}

type sendMessageRequest struct {
	SenderID      string           `json:"sender_id"`
	SenderKind    models.ActorKind `json:"sender_kind"`
	ReceiverID    string           `json:"receiver_id"`
	ReceiverKind  models.ActorKind `json:"receiver_kind"`
	Content       string           `json:"content"`
	AttachmentRef string           `json:"attachment_ref,omitempty"`
}

type messageRejectedResponse struct {
	Rejected   bool              `json:"rejected"`
	ReasonCode models.ReasonCode `json:"reason_code"`
	ReasonText string            `json:"reason_text"`
}

// SendMessage runs the send pipeline for the authenticated caller
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, actor, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	msg, err := h.send.Process(r.Context(), pipeline.SendRequest{
		Caller:        caller,
		IP:            actor.IP,
		SenderID:      req.SenderID,
		SenderKind:    req.SenderKind,
		ReceiverID:    req.ReceiverID,
		ReceiverKind:  req.ReceiverKind,
		Content:       req.Content,
		AttachmentRef: req.AttachmentRef,
	})
	if rej, ok := models.AsRejection(err); ok {
		writeJSON(w, rej.HTTPStatus(), messageRejectedResponse{
			Rejected:   true,
			ReasonCode: rej.Code,
			ReasonText: rej.Text,
		})
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "send pipeline failed",
			slog.String("actor_id", caller.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message_id": msg.MessageID})
}

type messageView struct {
	MessageID     string             `json:"message_id"`
	SenderID      string             `json:"sender_id"`
	SenderKind    models.ActorKind   `json:"sender_kind"`
	ReceiverID    string             `json:"receiver_id"`
	ReceiverKind  models.ActorKind   `json:"receiver_kind"`
	Content       string             `json:"content"`
	Kind          models.MessageKind `json:"kind"`
	AttachmentRef string             `json:"attachment_ref,omitempty"`
	Read          bool               `json:"read"`
	CreatedAt     time.Time          `json:"created_at"`
	ReadAt        *time.Time         `json:"read_at,omitempty"`
}

// GetMessages returns the caller's inbox with content decrypted
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	msgs, err := h.mailbox.List(r.Context(), caller.ID, queryLimit(r, 50, 200))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list messages", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "failed to retrieve messages")
		return
	}
	unread, err := h.mailbox.Unread(r.Context(), caller.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to count unread", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "failed to retrieve messages")
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{
			MessageID:     m.MessageID,
			SenderID:      m.SenderID,
			SenderKind:    m.SenderKind,
			ReceiverID:    m.ReceiverID,
			ReceiverKind:  m.ReceiverKind,
			Content:       m.ContentPlaintext,
			Kind:          m.Kind,
			AttachmentRef: m.AttachmentRef,
			Read:          m.ReadFlag,
			CreatedAt:     m.CreatedAt,
			ReadAt:        m.ReadAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": views,
		"count":    len(views),
		"unread":   unread,
	})
}

// MarkRead marks one of the caller's messages as read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	messageID := mux.Vars(r)["messageId"]
	err := h.mailbox.MarkRead(r.Context(), messageID, caller.ID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to mark read", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "failed to mark message as read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
