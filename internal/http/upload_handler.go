package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"room-relay/internal/service"
	"room-relay/internal/storage"
)

const (
	uploadFormField       = "image"
	defaultUploadMaxBytes = 5 << 20
	sniffLen              = 512
)

// UploadHandler recibe fotos de perfil y las publica en el host de assets.
// Un fallo aqui nunca toca el estado del chat.
type UploadHandler struct {
	logger   *zap.Logger
	uploader storage.AssetUploader
	userServ *service.UserService
	maxBytes int64
}

func NewUploadHandler(logger *zap.Logger, uploader storage.AssetUploader, userServ *service.UserService, maxBytes int64) *UploadHandler {
	if uploader == nil {
		uploader = storage.DisabledUploader{}
	}
	if maxBytes <= 0 {
		maxBytes = defaultUploadMaxBytes
	}
	return &UploadHandler{
		logger:   logger,
		uploader: uploader,
		userServ: userServ,
		maxBytes: maxBytes,
	}
}

// UploadProfilePicture maneja POST /api/upload/upload.
func (h *UploadHandler) UploadProfilePicture(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	// margen para los headers del multipart
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+64<<10)
	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			uploadFailed(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		uploadFailed(c, http.StatusBadRequest, "image file is required")
		return
	}
	if fileHeader.Size > h.maxBytes {
		uploadFailed(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Warn("open upload failed", zap.Error(err))
		uploadFailed(c, http.StatusBadRequest, "could not read file")
		return
	}
	defer file.Close()

	sniffBuf := make([]byte, sniffLen)
	n, err := io.ReadFull(file, sniffBuf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		uploadFailed(c, http.StatusBadRequest, "could not read file")
		return
	}
	mime := mimetype.Detect(sniffBuf[:n])
	if !strings.HasPrefix(mime.String(), "image/") {
		uploadFailed(c, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type %s", mime.String()))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		uploadFailed(c, http.StatusInternalServerError, "could not read file")
		return
	}

	url, err := h.uploader.UploadImage(c.Request.Context(), claims.UserID, fileHeader.Filename, file)
	if err != nil {
		h.logger.Error("upload image failed", zap.String("user_id", claims.UserID), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrUploaderNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		uploadFailed(c, status, err.Error())
		return
	}

	if _, err := h.userServ.UpdateProfilePicture(c.Request.Context(), claims.UserID, url); err != nil {
		h.logger.Error("update profile picture failed", zap.String("user_id", claims.UserID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		uploadFailed(c, status, err.Error())
		return
	}

	h.logger.Info("profile picture updated", zap.String("user_id", claims.UserID), zap.String("mime", mime.String()))
	c.JSON(http.StatusOK, gin.H{"msg": "Profile picture updated", "url": url})
}

func uploadFailed(c *gin.Context, status int, reason string) {
	c.JSON(status, gin.H{"msg": "Upload failed", "error": reason})
}
