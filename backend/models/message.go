// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// ActorKind distinguishes the two identity directories of the marketplace.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorLawyer ActorKind = "lawyer"
	ActorSystem ActorKind = "system"
)

// Valid reports whether k names a directory participants can live in.
func (k ActorKind) Valid() bool {
	return k == ActorUser || k == ActorLawyer
}

type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

// Message is the payload handed to the persistence store once every gate
// has passed. ContentAtRest is what gets stored; ContentPlaintext never
// leaves the process.
type Message struct {
	MessageID        string      `json:"message_id" db:"message_id"`
	SenderID         string      `json:"sender_id" db:"sender_id"`
	SenderKind       ActorKind   `json:"sender_kind" db:"sender_kind"`
	ReceiverID       string      `json:"receiver_id" db:"receiver_id"`
	ReceiverKind     ActorKind   `json:"receiver_kind" db:"receiver_kind"`
	ContentPlaintext string      `json:"-" db:"-"`
	ContentAtRest    string      `json:"content" db:"content"`
	Kind             MessageKind `json:"kind" db:"kind"`
	AttachmentRef    string      `json:"attachment_ref,omitempty" db:"attachment_ref"`
	ReadFlag         bool        `json:"read" db:"read_flag"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	ReadAt           *time.Time  `json:"read_at,omitempty" db:"read_at"`
}

// Identity is the directory's answer for one id/kind pair.
type Identity struct {
	Exists bool
	Active bool
}

// SecurityAuditEvent is one append-only entry in the audit stream.
type SecurityAuditEvent struct {
	EventID          string     `json:"event_id" db:"event_id"`
	Timestamp        time.Time  `json:"timestamp" db:"timestamp"`
	ActorID          string     `json:"actor_id" db:"actor_id"`
	ActorKind        ActorKind  `json:"actor_kind" db:"actor_kind"`
	IP               string     `json:"ip" db:"ip"`
	Action           string     `json:"action" db:"action"`
	ReasonCode       ReasonCode `json:"reason_code" db:"reason_code"`
	TruncatedPayload string     `json:"truncated_payload" db:"truncated_payload"`
}
