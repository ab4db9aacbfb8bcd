package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/errcode"
	"postermaker/internal/layout"
	"postermaker/internal/render"
	"postermaker/internal/storage"
	"postermaker/internal/tasks"
)

// 上传照片在渲染期间使用的预签名有效期。
const photoPresignTTL = 30 * time.Minute

// 最终海报下载链接的预签名有效期。
const posterPresignTTL = 7 * 24 * time.Hour

// PosterTaskHandler 负责消费海报合成任务。
type PosterTaskHandler struct {
	db            *gorm.DB
	storage       *storage.Client
	redisClient   *redis.Client
	logger        *slog.Logger
	compositor    *render.Compositor
	publicBaseURL string
}

// NewPosterTaskHandler 创建任务处理器。
func NewPosterTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	compositor *render.Compositor,
	publicBaseURL string,
) *PosterTaskHandler {
	return &PosterTaskHandler{
		db:            db,
		storage:       storageClient,
		redisClient:   redisClient,
		logger:        logger,
		compositor:    compositor,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PosterTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PosterGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("lead_id", int(payload.LeadID)),
		slog.Int("event_id", int(payload.EventID)),
	)
	log.Info("Starting poster composition task...")

	var lead database.Lead
	if err := h.db.WithContext(ctx).First(&lead, payload.LeadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("lead not found, skipping task")
			return nil
		}
		log.Error("query lead failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !errors.Is(retErr, asynq.SkipRetry) && !isFinalAsynqAttempt(ctx) {
			return
		}

		// 终次失败：标记 Lead 为 failed，绝不把半成品记为成功。
		if err := h.db.WithContext(context.WithoutCancel(ctx)).
			Model(&lead).Update("status", database.LeadStatusFailed).Error; err != nil {
			log.Error("mark lead failed", slog.Any("error", err))
		}

		notify := PosterGenerationNotifyMessage{
			Status:        "error",
			LeadID:        lead.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishNotify(context.WithoutCancel(ctx), lead.ID, notify); err != nil {
			log.Error("publish poster error notification failed", slog.Any("error", err))
		}
	}()

	var event database.Event
	if err := h.db.WithContext(ctx).First(&event, lead.EventID).Error; err != nil {
		log.Error("query event failed", slog.Any("error", err))
		return err
	}

	pngBytes, missingKeys, err := h.composePoster(ctx, &event, &lead)
	if err != nil {
		log.Error("compose poster failed", slog.Any("error", err))
		// 配置与素材错误重跑必然复现，队列重试只会重复同一个失败。
		// 瞬态错误（数据库、上传）仍走正常重试。
		if isDeterministicComposeError(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	objectName := fmt.Sprintf("posters/%d/%s.png", event.ID, uuid.NewString())
	reader := bytes.NewReader(pngBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, reader, int64(len(pngBytes)), "image/png"); err != nil {
		log.Error("upload poster to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"poster_object_key": objectName,
		"status":            database.LeadStatusCompleted,
	}
	if err := h.db.WithContext(ctx).Model(&lead).Updates(update).Error; err != nil {
		log.Error("update lead failed", slog.Any("error", err))
		return err
	}

	// 下载链接带 attachment 响应头，手机浏览器直接落到相册/下载目录。
	downloadParams := map[string]string{
		"response-content-disposition": fmt.Sprintf("attachment; filename=poster-%d.png", lead.ID),
	}
	posterURL, err := h.storage.GeneratePresignedURLWithParams(ctx, objectName, posterPresignTTL, downloadParams)
	if err != nil {
		log.Warn("generate poster presigned url failed", slog.Any("error", err))
	}

	notify := PosterGenerationNotifyMessage{
		Status:        "completed",
		LeadID:        lead.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
		PosterURL:     posterURL,
	}
	if len(missingKeys) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "部分图片资源缺失/无效，已自动跳过并继续合成"
		notify.MissingKeys = missingKeys
		log.Warn("poster composed with missing assets",
			slog.Int("missing_count", len(missingKeys)),
			slog.Any("missing_keys", missingKeys),
		)
	}
	if err := h.publishNotify(ctx, lead.ID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Poster composition task completed successfully.")
	return nil
}

// composePoster 从权威存储的配置重建图层列表并交给合成器。
func (h *PosterTaskHandler) composePoster(ctx context.Context, event *database.Event, lead *database.Lead) ([]byte, []string, error) {
	if len(event.LayoutConfig) == 0 {
		return nil, nil, &layout.ConfigurationError{Field: "layoutConfig", Reason: "event has no layout configuration"}
	}

	var cfg layout.Config
	if err := json.Unmarshal(event.LayoutConfig, &cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal layout config: %w", err)
	}

	vals, err := h.leadValues(ctx, lead)
	if err != nil {
		return nil, nil, err
	}

	layers, err := layout.Resolve(cfg, vals, h.eventPublicURL(event.Slug))
	if err != nil {
		return nil, nil, err
	}

	return h.compositor.Render(ctx, layers)
}

// leadValues 把 Lead 记录还原成一次渲染的运行期取值。
func (h *PosterTaskHandler) leadValues(ctx context.Context, lead *database.Lead) (layout.Values, error) {
	fields := map[string]string{}
	if len(lead.Fields) > 0 {
		if err := json.Unmarshal(lead.Fields, &fields); err != nil {
			return layout.Values{}, fmt.Errorf("unmarshal lead fields: %w", err)
		}
	}

	vals := layout.Values{Fields: fields, Role: lead.Role}

	if key := strings.TrimSpace(lead.PhotoObjectKey); key != "" {
		photoURL, err := h.storage.GeneratePresignedURL(ctx, key, photoPresignTTL)
		if err != nil {
			return layout.Values{}, fmt.Errorf("presign lead photo: %w", err)
		}
		vals.PhotoURL = photoURL
	}

	return vals, nil
}

func (h *PosterTaskHandler) eventPublicURL(slug string) string {
	return fmt.Sprintf("%s/p/%s", h.publicBaseURL, slug)
}

func (h *PosterTaskHandler) publishNotify(ctx context.Context, leadID uint, notify PosterGenerationNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("lead_notify:%d", leadID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

// isDeterministicComposeError 判断合成失败是否不可通过重试恢复。
// 素材抓取在抓取层已带一次退避重试，到这里仍失败视为终态。
func isDeterministicComposeError(err error) bool {
	var cfgErr *layout.ConfigurationError
	var fetchErr *layout.AssetFetchError
	return errors.As(err, &cfgErr) || errors.As(err, &fetchErr)
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
