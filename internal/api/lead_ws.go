package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/storage"
	"postermaker/internal/worker"
)

// LeadNotifyHandler 把 worker 发布的生成进度转发给等待中的参与者。
// 连接晚于任务完成时，直接用数据库里的终态合成一条消息补发。
type LeadNotifyHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	storage     *storage.Client
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func NewLeadNotifyHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	storageClient *storage.Client,
	logger *slog.Logger,
	allowedOrigins []string,
) *LeadNotifyHandler {
	h := &LeadNotifyHandler{
		db:          db,
		redisClient: redisClient,
		storage:     storageClient,
		logger:      logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// HandleConnection 升级连接并订阅该线索的通知频道。
func (h *LeadNotifyHandler) HandleConnection(c *gin.Context) {
	slug := c.Param("slug")
	leadID, err := strconv.ParseUint(c.Param("leadID"), 10, 64)
	if err != nil || leadID == 0 {
		BadRequest(c, "invalid lead id")
		return
	}

	var lead database.Lead
	if err := h.db.WithContext(c.Request.Context()).First(&lead, uint(leadID)).Error; err != nil {
		NotFound(c, "lead not found")
		return
	}
	var event database.Event
	if err := h.db.WithContext(c.Request.Context()).First(&event, lead.EventID).Error; err != nil ||
		event.Slug != slug {
		NotFound(c, "lead not found")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade notify websocket", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.Uint64("lead_id", leadID),
		slog.String("client_ip", c.ClientIP()),
	)

	// 任务可能在客户端连上之前就已结束，先补发终态。
	if lead.Status != database.LeadStatusProcessing {
		if payload, err := h.replayFinalState(ctx, lead); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}
	}

	errCh := make(chan error, 2)
	go h.readLoop(ctx, conn, errCh, cancel)
	go h.subscribeLoop(ctx, conn, uint(leadID), errCh, cancel, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Info("notify connection closed", slog.Any("error", err))
		}
	}
}

// replayFinalState 用数据库中的终态合成一条通知。
func (h *LeadNotifyHandler) replayFinalState(ctx context.Context, lead database.Lead) ([]byte, error) {
	status := lead.Status
	if status == database.LeadStatusFailed {
		status = "error"
	}
	msg := worker.PosterGenerationNotifyMessage{
		Status: status,
		LeadID: lead.ID,
	}
	if lead.Status == database.LeadStatusCompleted && lead.PosterObjectKey != "" {
		url, err := h.storage.GeneratePresignedURL(ctx, lead.PosterObjectKey, 7*24*time.Hour)
		if err != nil {
			return nil, err
		}
		msg.PosterURL = url
	}
	return json.Marshal(msg)
}

// readLoop 只用来检测客户端断开。
func (h *LeadNotifyHandler) readLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
	}
}

func (h *LeadNotifyHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	leadID uint,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := fmt.Sprintf("lead_notify:%d", leadID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
