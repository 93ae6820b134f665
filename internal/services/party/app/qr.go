package app

import (
	"net/http"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultQRSize    = 256
	minQRSize        = 64
	maxQRSize        = 1024
	maxQRPayloadSize = 512
)

// handleQR renders the path payload as a PNG QR code. Devices show it so
// others can scan a join code or a challenge card.
func handleQR(w http.ResponseWriter, r *http.Request) {
	payload := strings.TrimSpace(r.PathValue("payload"))
	if payload == "" || len(payload) > maxQRPayloadSize {
		http.Error(w, "invalid qr payload", http.StatusBadRequest)
		return
	}
	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < minQRSize || parsed > maxQRSize {
			http.Error(w, "invalid qr size", http.StatusBadRequest)
			return
		}
		size = parsed
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		http.Error(w, "encode qr code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}
