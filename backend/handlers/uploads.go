// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/pipeline"
)

// multipartMemory is how much of a form is held in memory before the
// standard library spools it to a temp file.
const multipartMemory = 8 << 20

type UploadHandler struct {
	upload  *pipeline.Upload
	maxSize int64
	logger  *slog.Logger
}

func NewUploadHandler(upload *pipeline.Upload, maxSize int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{upload: upload, maxSize: maxSize, logger: logger}
}

type uploadAcceptedResponse struct {
	Safe    bool    `json:"safe"`
	FileURL string  `json:"file_url"`
	Hash    string  `json:"hash"`
	Entropy float64 `json:"entropy"`
}

type uploadRejectedResponse struct {
	Safe       bool              `json:"safe"`
	ReasonCode models.ReasonCode `json:"reason_code"`
	ReasonText string            `json:"reason_text"`
}

func writeUploadRejection(w http.ResponseWriter, rej *models.Rejection) {
	writeJSON(w, rej.HTTPStatus(), uploadRejectedResponse{
		Safe:       false,
		ReasonCode: rej.Code,
		ReasonText: rej.Text,
	})
}

// Upload accepts a multipart form with a single "file" part
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	// Room for the multipart envelope on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			rej := models.Reject(models.ReasonTooLarge, "request exceeds %d bytes", h.maxSize)
			res := h.upload.Reject(r.Context(), pipeline.UploadRequest{Actor: actor}, rej)
			writeUploadRejection(w, res.Rejection)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "expected multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "missing file part")
		return
	}
	defer file.Close()

	res, err := h.upload.Process(r.Context(), pipeline.UploadRequest{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
		Actor:    actor,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upload pipeline failed",
			slog.String("actor_id", actor.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "failed to process upload")
		return
	}
	if res.Rejection != nil {
		writeUploadRejection(w, res.Rejection)
		return
	}

	writeJSON(w, http.StatusCreated, uploadAcceptedResponse{
		Safe:    true,
		FileURL: res.FileURL,
		Hash:    res.Hash,
		Entropy: res.Entropy,
	})
}
