package rest

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare/internal/domain"
)

const maxAttachmentSize = 25 * 1024 * 1024

// @Summary Upload a chat attachment
// @Tags attachments
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "attachment file"
// @Success 201 {object} successResponseBody
// @Router /attachments [post]
func (h *Handler) uploadAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequestResponse(c, "file is required")
		return
	}
	if fileHeader.Size > maxAttachmentSize {
		badRequestResponse(c, "file is too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("failed to read uploaded file", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	url, err := h.files.UploadFile(c.Request.Context(), data, fileHeader.Filename)
	if err != nil {
		h.logger.Error("failed to store attachment", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	createdResponse(c, domain.Attachment{
		URL:         url,
		Name:        fileHeader.Filename,
		Size:        int64(len(data)),
		ContentType: contentType,
	})
}

// @Summary Get a presigned download URL for an attachment
// @Tags attachments
// @Produce json
// @Param url query string true "stored attachment URL"
// @Param expiry_minutes query int false "link lifetime in minutes"
// @Success 200 {object} successResponseBody
// @Router /attachments/url [get]
func (h *Handler) getAttachmentURL(c *gin.Context) {
	fileURL := c.Query("url")
	if fileURL == "" {
		badRequestResponse(c, "url is required")
		return
	}

	expiryMinutes, err := strconv.Atoi(c.DefaultQuery("expiry_minutes", "60"))
	if err != nil || expiryMinutes <= 0 {
		expiryMinutes = 60
	}

	presigned, err := h.files.GetPresignedURL(c.Request.Context(), fileURL, time.Duration(expiryMinutes)*time.Minute)
	if err != nil {
		h.logger.Error("failed to presign attachment URL", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	successResponse(c, http.StatusOK, gin.H{"url": presigned})
}
