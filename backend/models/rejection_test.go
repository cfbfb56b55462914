package models

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejection_CategoryAndStatus(t *testing.T) {
	tests := []struct {
		code     ReasonCode
		category Category
		status   int
	}{
		{ReasonRateLimited, CategoryRateLimited, http.StatusTooManyRequests},
		{ReasonSpamDetected, CategoryContent, http.StatusUnprocessableEntity},
		{ReasonTooLong, CategoryContent, http.StatusUnprocessableEntity},
		{ReasonInvalidFileType, CategoryFile, http.StatusUnsupportedMediaType},
		{ReasonTooLarge, CategoryFile, http.StatusRequestEntityTooLarge},
		{ReasonExecutableFilename, CategoryFile, http.StatusBadRequest},
		{ReasonFileTooLarge, CategoryScan, http.StatusRequestEntityTooLarge},
		{ReasonMaliciousSignature, CategoryScan, http.StatusUnprocessableEntity},
		{ReasonKnownMalicious, CategoryScan, http.StatusUnprocessableEntity},
		{ReasonScanError, CategoryScan, http.StatusUnprocessableEntity},
		{ReasonSenderUnauthorized, CategoryAccess, http.StatusForbidden},
		{ReasonReceiverUnauthorized, CategoryAccess, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rej := Reject(tt.code, "because %d", 42)
			assert.Equal(t, tt.category, rej.Category())
			assert.Equal(t, tt.status, rej.HTTPStatus())
			assert.Equal(t, string(tt.code)+": because 42", rej.Error())
		})
	}
}

func TestAsRejection(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", Reject(ReasonSpamDetected, "matched %q", "lottery"))

	rej, ok := AsRejection(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonSpamDetected, rej.Code)

	_, ok = AsRejection(fmt.Errorf("db down"))
	assert.False(t, ok)
}

func TestScanVerdict_Rejection(t *testing.T) {
	assert.Nil(t, ScanVerdict{Safe: true}.Rejection())

	rej := ScanVerdict{ReasonCode: ReasonHighEntropy, ReasonText: "entropy 7.98"}.Rejection()
	require.NotNil(t, rej)
	assert.Equal(t, ReasonHighEntropy, rej.Code)
	assert.Equal(t, "entropy 7.98", rej.Text)
}
