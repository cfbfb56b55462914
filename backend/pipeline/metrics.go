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

// Package pipeline strings the individual gates together into the two
// request flows: file upload and message send.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/efchatnet/efguard/backend/models"
)

var (
	scanVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efguard_scan_verdicts_total",
			Help: "Upload decisions by result and reason code.",
		},
		[]string{"result", "reason"},
	)

	messageDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efguard_message_decisions_total",
			Help: "Message send decisions by result and reason code.",
		},
		[]string{"result", "reason"},
	)
)

func countUpload(rej *models.Rejection) {
	if rej == nil {
		scanVerdictsTotal.WithLabelValues("accepted", "").Inc()
		return
	}
	scanVerdictsTotal.WithLabelValues("rejected", string(rej.Code)).Inc()
}

func countMessage(rej *models.Rejection) {
	if rej == nil {
		messageDecisionsTotal.WithLabelValues("accepted", "").Inc()
		return
	}
	messageDecisionsTotal.WithLabelValues("rejected", string(rej.Code)).Inc()
}
