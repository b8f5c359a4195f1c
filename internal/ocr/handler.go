package ocr

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultMaxImageBytes = 10 << 20

type Request struct {
	ImageBase64 string `json:"imageBase64"`
}

type Response struct {
	Text string `json:"text"`
}

type Handler struct {
	engine   Engine
	maxBytes int64
}

func NewHandler(e Engine) *Handler {
	return &Handler{engine: e, maxBytes: defaultMaxImageBytes}
}

// Register mounts the handler on every method so that non-POST requests get
// 405 rather than the router's 404.
func (h *Handler) Register(r gin.IRoutes) {
	r.Any("/ocr", h.Recognize)
}

func (h *Handler) Recognize(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes*4/3+1024)

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageBase64 == "" {
		c.String(http.StatusBadRequest, "imageBase64 required")
		return
	}

	image, err := decodeImage(req.ImageBase64)
	if err != nil || len(image) == 0 {
		c.String(http.StatusBadRequest, "imageBase64 must be base64 encoded")
		return
	}

	text, err := h.engine.Recognize(c.Request.Context(), image)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "ocr: recognize failed", "bytes", len(image), "error", err)
		c.String(http.StatusInternalServerError, "OCR error")
		return
	}

	c.JSON(http.StatusOK, Response{Text: text})
}

// decodeImage accepts plain base64 (padded or not) and data URLs.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}

	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}

	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
