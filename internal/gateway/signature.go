package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when the x-signature header does not match the payload.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks a Mercado Pago x-signature header ("ts=...,v1=...") against the
// manifest built from the notified data id and the x-request-id header.
func VerifySignature(secret, header, requestID, dataID string) error {
	ts, v1 := parseSignatureHeader(header)
	if ts == "" || v1 == "" {
		return ErrInvalidSignature
	}

	expected := sign(secret, manifest(dataID, requestID, ts))
	got, err := hex.DecodeString(v1)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}
	return nil
}

// SignatureHeader produces the x-signature value for the given inputs.
func SignatureHeader(secret, requestID, dataID, ts string) string {
	return "ts=" + ts + ",v1=" + hex.EncodeToString(sign(secret, manifest(dataID, requestID, ts)))
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func sign(secret, message string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}
