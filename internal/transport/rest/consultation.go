package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare/internal/domain"
	"telecare/internal/service"
)

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequestResponse(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// @Summary Create a consultation
// @Tags consultations
// @Accept json
// @Produce json
// @Param input body domain.CreateConsultationDTO true "consultation data"
// @Success 201 {object} successResponseBody
// @Router /consultations [post]
func (h *Handler) createConsultation(c *gin.Context) {
	var dto domain.CreateConsultationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequestResponse(c, err.Error())
		return
	}

	id, err := h.services.Consultation.Create(c.Request.Context(), dto)
	if err != nil {
		h.logger.Error("failed to create consultation", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	createdResponse(c, gin.H{"id": id})
}

// @Summary Get a consultation
// @Tags consultations
// @Produce json
// @Param id path int true "consultation id"
// @Success 200 {object} successResponseBody
// @Router /consultations/{id} [get]
func (h *Handler) getConsultationByID(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	consultation, err := h.services.Consultation.GetByID(c.Request.Context(), id)
	if err != nil {
		notFoundResponse(c, "consultation not found")
		return
	}

	successResponse(c, http.StatusOK, consultation)
}

type joinRequest struct {
	ParticipantID int64                  `json:"participant_id" binding:"required"`
	Role          domain.ParticipantRole `json:"role" binding:"required"`
}

// @Summary Join a consultation and receive the session snapshot
// @Tags consultations
// @Accept json
// @Produce json
// @Param id path int true "consultation id"
// @Param input body joinRequest true "join data"
// @Success 200 {object} successResponseBody
// @Router /consultations/{id}/join [post]
func (h *Handler) joinConsultation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestResponse(c, err.Error())
		return
	}

	snapshot, err := h.services.Consultation.Join(c.Request.Context(), id, req.ParticipantID, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrConsultationEnded) {
			errorResponse(c, http.StatusConflict, "consultation has ended")
			return
		}
		h.logger.Error("failed to join consultation",
			zap.Int64("consultation_id", id),
			zap.Error(err))
		notFoundResponse(c, "consultation or participant not found")
		return
	}

	successResponse(c, http.StatusOK, snapshot)
}

type admitRequest struct {
	PatientID *int64 `json:"patient_id"`
}

// @Summary Admit a waiting patient
// @Tags consultations
// @Accept json
// @Produce json
// @Param id path int true "consultation id"
// @Param input body admitRequest false "patient to admit; omit for the longest waiting"
// @Success 200 {object} successResponseBody
// @Router /consultations/{id}/admit [post]
func (h *Handler) admitPatient(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		badRequestResponse(c, err.Error())
		return
	}

	participant, err := h.services.Consultation.Admit(c.Request.Context(), id, req.PatientID)
	if err != nil {
		if errors.Is(err, service.ErrNotWaiting) {
			errorResponse(c, http.StatusConflict, "no patient waiting")
			return
		}
		if errors.Is(err, service.ErrConsultationEnded) {
			errorResponse(c, http.StatusConflict, "consultation has ended")
			return
		}
		h.logger.Error("failed to admit patient",
			zap.Int64("consultation_id", id),
			zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	successResponse(c, http.StatusOK, participant)
}

// @Summary End a consultation
// @Tags consultations
// @Produce json
// @Param id path int true "consultation id"
// @Success 200 {object} messageResponseType
// @Router /consultations/{id}/end [post]
func (h *Handler) endConsultation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.services.Consultation.End(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to end consultation",
			zap.Int64("consultation_id", id),
			zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	messageResponse(c, http.StatusOK, "consultation ended")
}

// @Summary List waiting room entries
// @Tags consultations
// @Produce json
// @Param id path int true "consultation id"
// @Success 200 {object} successResponseBody
// @Router /consultations/{id}/waiting-room [get]
func (h *Handler) getWaitingRoom(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	entries, err := h.services.Consultation.ListWaiting(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to list waiting room", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	successResponse(c, http.StatusOK, entries)
}

// @Summary Get a page of chat history, oldest first
// @Tags consultations
// @Produce json
// @Param id path int true "consultation id"
// @Param offset query int false "messages already loaded"
// @Param limit query int false "page size"
// @Success 200 {object} successResponseBody
// @Router /consultations/{id}/messages [get]
func (h *Handler) getMessages(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit <= 0 {
		limit = h.config.Session.HistoryPageSize
	}

	page, err := h.services.Message.Page(c.Request.Context(), id, offset, limit)
	if err != nil {
		h.logger.Error("failed to load messages", zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	successResponse(c, http.StatusOK, page)
}

// @Summary Add a participant and send an invite email
// @Tags consultations
// @Accept json
// @Produce json
// @Param id path int true "consultation id"
// @Param input body domain.AddParticipantDTO true "participant data"
// @Success 201 {object} successResponseBody
// @Router /consultations/{id}/participants [post]
func (h *Handler) addParticipant(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var dto domain.AddParticipantDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequestResponse(c, err.Error())
		return
	}

	result, err := h.services.Consultation.AddParticipant(c.Request.Context(), id, dto)
	if err != nil {
		h.logger.Error("failed to add participant",
			zap.Int64("consultation_id", id),
			zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	createdResponse(c, result)
}

// @Summary Remove a participant
// @Tags consultations
// @Produce json
// @Param id path int true "consultation id"
// @Param participantId path int true "participant id"
// @Success 200 {object} messageResponseType
// @Router /consultations/{id}/participants/{participantId} [delete]
func (h *Handler) removeParticipant(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	participantID, ok := parseIDParam(c, "participantId")
	if !ok {
		return
	}

	if err := h.services.Consultation.RemoveParticipant(c.Request.Context(), id, participantID); err != nil {
		h.logger.Error("failed to remove participant",
			zap.Int64("consultation_id", id),
			zap.Int64("participant_id", participantID),
			zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	messageResponse(c, http.StatusOK, "participant removed")
}

// @Summary Generate a single-use join link
// @Tags consultations
// @Accept json
// @Produce json
// @Param id path int true "consultation id"
// @Param input body domain.JoinLinkDTO true "join link data"
// @Success 201 {object} successResponseBody
// @Router /consultations/{id}/join-links [post]
func (h *Handler) generateJoinLink(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var dto domain.JoinLinkDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequestResponse(c, err.Error())
		return
	}

	link, err := h.services.Consultation.GenerateJoinLink(c.Request.Context(), id, dto)
	if err != nil {
		h.logger.Error("failed to generate join link",
			zap.Int64("consultation_id", id),
			zap.Error(err))
		internalServerErrorResponse(c)
		return
	}

	createdResponse(c, link)
}

// @Summary Redeem a join link token
// @Tags consultations
// @Produce json
// @Param token query string true "join link token"
// @Success 200 {object} successResponseBody
// @Router /join [post]
func (h *Handler) redeemJoinLink(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		badRequestResponse(c, "token is required")
		return
	}

	participant, consultationID, err := h.services.Consultation.RedeemJoinLink(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("join link redemption failed", zap.Error(err))
		errorResponse(c, http.StatusUnauthorized, "join link is invalid, expired, or already used")
		return
	}

	successResponse(c, http.StatusOK, gin.H{
		"consultation_id": consultationID,
		"participant":     participant,
	})
}
