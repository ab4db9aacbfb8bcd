package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"postermaker/internal/api/middleware"
	"postermaker/internal/auth"
	"postermaker/internal/config"
	"postermaker/internal/render"
	"postermaker/internal/storage"
)

// RegisterRoutes 注册 API 路由。
// 管理端挂在 /v1 下并要求访问令牌；参与者入口挂在 /p/:slug 下公开访问。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	fetcher *render.Fetcher,
	fonts *render.Fonts,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger)
	eventHandler := NewEventHandler(db, storageClient)
	assetHandler := NewAssetHandler(db, storageClient, logger, cfg.Clamd.Addr)
	previewHandler := NewPreviewHandler(db, fetcher, fonts, logger, cfg.API.PublicBaseURL, cfg.API.AllowedOrigins, cfg.Render.PreviewDebounce)
	submissionHandler := NewSubmissionHandler(db, redisClient, asynqClient, storageClient, logger, cfg.Clamd.Addr)
	leadNotifyHandler := NewLeadNotifyHandler(db, redisClient, storageClient, logger, cfg.API.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		eventGroup := v1.Group("/events")
		eventGroup.Use(authMiddleware)
		{
			eventGroup.POST("", eventHandler.CreateEvent)
			eventGroup.GET("", eventHandler.ListEvents)
			eventGroup.GET("/:id", eventHandler.GetEvent)
			eventGroup.DELETE("/:id", eventHandler.DeleteEvent)
			eventGroup.PUT("/:id/config", eventHandler.SaveConfig)
			eventGroup.POST("/:id/publish", eventHandler.PublishEvent)
			eventGroup.POST("/:id/unpublish", eventHandler.UnpublishEvent)
			eventGroup.GET("/:id/leads", eventHandler.ListLeads)
			eventGroup.GET("/:id/leads/:leadID/poster", eventHandler.DownloadPoster)
			eventGroup.GET("/:id/preview/ws", previewHandler.HandleConnection)

			eventGroup.POST("/:id/assets/upload", assetHandler.UploadAsset)
			eventGroup.GET("/:id/assets", assetHandler.ListAssets)
			eventGroup.GET("/:id/assets/view", assetHandler.GetAssetURL)
			eventGroup.DELETE("/:id/assets", assetHandler.DeleteAsset)
		}
	}

	public := router.Group("/p")
	{
		public.GET("/:slug", submissionHandler.GetPublicEvent)
		public.POST("/:slug/submissions", submissionHandler.SubmitLead)
		public.GET("/:slug/leads/:leadID/ws", leadNotifyHandler.HandleConnection)
	}
}
