// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package envelope encrypts short message bodies for storage at rest.
// Output format is hex(iv) ":" hex(ciphertext), AES-256-CBC with PKCS#7
// padding and a fresh random IV per call.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errBadPadding = errors.New("invalid padding")

// Cipher holds the 256-bit key derived from the configured secret.
type Cipher struct {
	key []byte
}

// New derives the key as SHA-256(secret).
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("cipher secret is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Cipher{key: sum[:]}, nil
}

// Encrypt returns the envelope for plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Input that is not a well-formed envelope, or
// that does not decrypt cleanly, is returned unchanged so rows written
// before encryption was enabled still read back.
func (c *Cipher) Decrypt(blob string) string {
	plaintext, err := c.open(blob)
	if err != nil {
		return blob
	}
	return plaintext
}

// IsEnvelope reports whether s has the shape of an encrypted value.
func IsEnvelope(s string) bool {
	ivHex, ctHex, ok := strings.Cut(s, ":")
	if !ok || len(ivHex) != aes.BlockSize*2 {
		return false
	}
	if len(ctHex) == 0 || len(ctHex)%(aes.BlockSize*2) != 0 {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	_, err := hex.DecodeString(ctHex)
	return err == nil
}

func (c *Cipher) open(blob string) (string, error) {
	if !IsEnvelope(blob) {
		return "", errors.New("not an envelope")
	}
	ivHex, ctHex, _ := strings.Cut(blob, ":")
	iv, _ := hex.DecodeString(ivHex)
	ciphertext, _ := hex.DecodeString(ctHex)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	plaintext, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
