package rest

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/service"
	"telecare/internal/storage"
	"telecare/internal/transport/websocket"
)

type Handler struct {
	services *service.Services
	logger   *zap.Logger
	config   *config.Config
	hub      *websocket.Hub
	files    storage.FileStorage
}

func NewHandler(services *service.Services, logger *zap.Logger, config *config.Config, hub *websocket.Hub, files storage.FileStorage) *Handler {
	return &Handler{
		services: services,
		logger:   logger,
		config:   config,
		hub:      hub,
		files:    files,
	}
}

func (h *Handler) InitRoutes(router *gin.Engine) {
	router.Use(h.loggerMiddleware())

	router.Use(h.errorMiddleware())

	router.Use(h.corsMiddleware())

	api := router.Group("/api/v1")
	{
		consultations := api.Group("/consultations")
		{
			consultations.POST("/", h.createConsultation)
			consultations.GET("/:id", h.getConsultationByID)
			consultations.POST("/:id/join", h.joinConsultation)
			consultations.POST("/:id/admit", h.admitPatient)
			consultations.POST("/:id/end", h.endConsultation)
			consultations.GET("/:id/waiting-room", h.getWaitingRoom)
			consultations.GET("/:id/messages", h.getMessages)

			consultations.POST("/:id/participants", h.addParticipant)
			consultations.DELETE("/:id/participants/:participantId", h.removeParticipant)
			consultations.POST("/:id/join-links", h.generateJoinLink)
		}

		api.POST("/join", h.redeemJoinLink)

		attachments := api.Group("/attachments")
		{
			attachments.POST("/", h.uploadAttachment)
			attachments.GET("/url", h.getAttachmentURL)
		}
	}

	// Channel sockets handle identity internally from query params.
	router.GET("/ws/:channel", h.hub.HandleWebSocket)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
