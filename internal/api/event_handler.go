package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/layout"
	"postermaker/internal/storage"
)

// EventHandler 负责活动与布局配置相关的 API。
type EventHandler struct {
	db      *gorm.DB
	storage *storage.Client
}

func NewEventHandler(db *gorm.DB, storageClient *storage.Client) *EventHandler {
	return &EventHandler{db: db, storage: storageClient}
}

type createEventRequest struct {
	Title string `json:"title" binding:"required"`
	Slug  string `json:"slug" binding:"required"`
}

type eventListItem struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

type eventDetailResponse struct {
	ID           uint            `json:"id"`
	Title        string          `json:"title"`
	Slug         string          `json:"slug"`
	Status       string          `json:"status"`
	LayoutConfig json.RawMessage `json:"layoutConfig,omitempty"`
}

// configPatch 表示一次部分更新。nil 字段表示保持原值；
// coordinates/typography/validation 按键合并进存储的配置。
type configPatch struct {
	BackgroundImageURL *string                     `json:"backgroundImageUrl"`
	WatermarkURL       *string                     `json:"watermarkUrl"`
	FontFamily         *string                     `json:"fontFamily"`
	Coordinates        map[string]layout.Placement `json:"coordinates"`
	Typography         map[string]layout.TextStyle `json:"typography"`
	PosterElements     *layout.Elements            `json:"posterElements"`
	Validation         map[string]layout.FieldRule `json:"validation"`
	Branding           *layout.Branding            `json:"branding"`
	Roles              *[]layout.Role              `json:"roles"`
	Sponsors           *[]layout.Sponsor           `json:"sponsors"`

	// Elements 为编辑面当前放置的元素，提交时触发字段分类。
	Elements []layout.Element `json:"elements"`
	// RemoveFields 请求移除的字段键，标准字段会被拒绝。
	RemoveFields []string `json:"removeFields"`
}

// POST /v1/events
func (h *EventHandler) CreateEvent(c *gin.Context) {
	adminID, ok := adminIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	model := database.Event{
		Title:   req.Title,
		Slug:    strings.ToLower(strings.TrimSpace(req.Slug)),
		Status:  database.EventStatusDraft,
		AdminID: adminID,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "slug already in use")
			return
		}
		Internal(c, "failed to create event")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": model.ID, "slug": model.Slug})
}

// GET /v1/events
func (h *EventHandler) ListEvents(c *gin.Context) {
	adminID, ok := adminIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var events []database.Event
	if err := h.db.WithContext(c.Request.Context()).
		Where("admin_id = ?", adminID).
		Order("updated_at DESC").
		Find(&events).Error; err != nil {
		Internal(c, "failed to list events")
		return
	}

	items := make([]eventListItem, 0, len(events))
	for _, ev := range events {
		items = append(items, eventListItem{
			ID:     ev.ID,
			Title:  ev.Title,
			Slug:   ev.Slug,
			Status: ev.Status,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GET /v1/events/:id
func (h *EventHandler) GetEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eventDetailResponse{
		ID:           event.ID,
		Title:        event.Title,
		Slug:         event.Slug,
		Status:       event.Status,
		LayoutConfig: json.RawMessage(event.LayoutConfig),
	})
}

// PUT /v1/events/:id/config
// 部分更新：请求中出现的字段合并进存储的配置并整体覆盖保存。
// 合并后运行渲染可用性校验，违例随响应逐条上报（带字段名）；
// 草稿允许带违例保存，已发布的活动拒绝任何破坏配置的写入。
func (h *EventHandler) SaveConfig(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}

	var patch configPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, err.Error())
		return
	}

	cfg, err := decodeConfig(event.LayoutConfig)
	if err != nil {
		Internal(c, "failed to decode stored config")
		return
	}

	if err := applyPatch(&cfg, patch); err != nil {
		var confErr *layout.ConfigurationError
		if errors.As(err, &confErr) {
			FieldError(c, http.StatusBadRequest, confErr.Field, confErr.Error())
			return
		}
		BadRequest(c, err.Error())
		return
	}

	violations := layout.ValidateConfig(cfg)
	if event.Status == database.EventStatusPublished && len(violations) > 0 {
		FieldError(c, http.StatusUnprocessableEntity,
			firstViolationField(violations),
			"config update would break a published event")
		return
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		Internal(c, "failed to encode config")
		return
	}
	if err := h.db.WithContext(c.Request.Context()).
		Model(&event).
		Update("layout_config", datatypes.JSON(encoded)).Error; err != nil {
		Internal(c, "failed to save config")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"layoutConfig": json.RawMessage(encoded),
		"violations":   violationMessages(violations),
	})
}

// POST /v1/events/:id/publish
// 发布前配置必须通过渲染可用性校验。
func (h *EventHandler) PublishEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}

	cfg, err := decodeConfig(event.LayoutConfig)
	if err != nil {
		Internal(c, "failed to decode stored config")
		return
	}
	if violations := layout.ValidateConfig(cfg); len(violations) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "config is not valid for rendering",
			"violations": violationMessages(violations),
		})
		return
	}

	if err := h.db.WithContext(c.Request.Context()).
		Model(&event).
		Update("status", database.EventStatusPublished).Error; err != nil {
		Internal(c, "failed to publish event")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": database.EventStatusPublished})
}

// POST /v1/events/:id/unpublish
func (h *EventHandler) UnpublishEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).
		Model(&event).
		Update("status", database.EventStatusDraft).Error; err != nil {
		Internal(c, "failed to unpublish event")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": database.EventStatusDraft})
}

// DELETE /v1/events/:id
// 连带清理线索记录与对象存储里的素材、照片和海报。
// 对象清理失败只记日志，数据库侧的删除不回滚。
func (h *EventHandler) DeleteEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", event.ID).Delete(&database.Lead{}).Error; err != nil {
			return err
		}
		return tx.Delete(&event).Error
	})
	if err != nil {
		Internal(c, "failed to delete event")
		return
	}

	for _, prefix := range []string{
		fmt.Sprintf("event-assets/%d/", event.ID),
		fmt.Sprintf("lead-photos/%d/", event.ID),
		fmt.Sprintf("posters/%d/", event.ID),
	} {
		if err := h.storage.DeletePrefix(ctx, prefix); err != nil {
			slog.Warn("cleanup event objects failed",
				slog.String("prefix", prefix),
				slog.Any("error", err))
		}
	}

	c.Status(http.StatusNoContent)
}

type leadListItem struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Mobile      string    `json:"mobile"`
	Designation string    `json:"designation,omitempty"`
	Company     string    `json:"company,omitempty"`
	Role        string    `json:"role,omitempty"`
	Status      string    `json:"status"`
	PosterURL   string    `json:"posterUrl,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// GET /v1/events/:id/leads
func (h *EventHandler) ListLeads(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}

	var leads []database.Lead
	if err := h.db.WithContext(c.Request.Context()).
		Where("event_id = ?", event.ID).
		Order("created_at DESC").
		Find(&leads).Error; err != nil {
		Internal(c, "failed to list leads")
		return
	}

	items := make([]leadListItem, 0, len(leads))
	for _, lead := range leads {
		item := leadListItem{
			ID:          lead.ID,
			Name:        lead.Name,
			Mobile:      lead.Mobile,
			Designation: lead.Designation,
			Company:     lead.Company,
			Role:        lead.Role,
			Status:      lead.Status,
			SubmittedAt: lead.SubmittedAt,
		}
		if lead.PosterObjectKey != "" {
			if url, err := h.storage.GeneratePresignedURL(c.Request.Context(), lead.PosterObjectKey, 15*time.Minute); err == nil {
				item.PosterURL = url
			}
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GET /v1/events/:id/leads/:leadID/poster
// 直接从对象存储回源海报，供管理后台批量导出时使用。
func (h *EventHandler) DownloadPoster(c *gin.Context) {
	event, ok := h.ownedEvent(c)
	if !ok {
		return
	}

	leadID, err := strconv.ParseUint(c.Param("leadID"), 10, 64)
	if err != nil || leadID == 0 {
		BadRequest(c, "invalid lead id")
		return
	}

	var lead database.Lead
	if err := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND event_id = ?", uint(leadID), event.ID).
		First(&lead).Error; err != nil {
		NotFound(c, "lead not found")
		return
	}
	if lead.Status != database.LeadStatusCompleted || lead.PosterObjectKey == "" {
		Conflict(c, "poster is not ready")
		return
	}

	obj, err := h.storage.GetObject(c.Request.Context(), lead.PosterObjectKey)
	if err != nil {
		Internal(c, "failed to fetch poster")
		return
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "poster object missing")
			return
		}
		Internal(c, "failed to stat poster")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=poster-%d.png", lead.ID))
	c.DataFromReader(http.StatusOK, stat.Size, "image/png", obj, nil)
}

func (h *EventHandler) ownedEvent(c *gin.Context) (database.Event, bool) {
	return loadOwnedEvent(c, h.db)
}

func decodeConfig(raw datatypes.JSON) (layout.Config, error) {
	if len(raw) == 0 {
		return layout.Config{}, nil
	}
	var cfg layout.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return layout.Config{}, err
	}
	return cfg, nil
}

// applyPatch 把部分更新合并进配置。
// 放置元素出现时先跑字段分类：重复占位符键会被当作作者错误拒绝；
// 新识别的字段补默认放置（画布中心）与默认样式条目。
func applyPatch(cfg *layout.Config, patch configPatch) error {
	if len(patch.Elements) > 0 {
		classified, err := layout.Classify(patch.Elements)
		if err != nil {
			return err
		}
		for _, field := range classified.Variable {
			if cfg.Coordinates == nil {
				cfg.Coordinates = map[string]layout.Placement{}
			}
			if _, ok := cfg.Coordinates[field.Key]; !ok {
				cfg.Coordinates[field.Key] = layout.Placement{
					X: layout.CanvasWidth / 2,
					Y: layout.CanvasHeight / 2,
				}
			}
			if cfg.Typography == nil {
				cfg.Typography = map[string]layout.TextStyle{}
			}
			if _, ok := cfg.Typography[field.Key]; !ok && field.Key != layout.PhotoFieldKey {
				cfg.Typography[field.Key] = layout.DefaultTextStyle
			}
		}
	}

	for _, key := range patch.RemoveFields {
		if layout.IsProtectedField(key) {
			return &layout.ConfigurationError{Field: key, Reason: "standard field cannot be removed"}
		}
		delete(cfg.Coordinates, key)
		delete(cfg.Typography, key)
		delete(cfg.Validation, key)
	}

	if patch.BackgroundImageURL != nil {
		cfg.BackgroundImageURL = *patch.BackgroundImageURL
	}
	if patch.WatermarkURL != nil {
		cfg.WatermarkURL = *patch.WatermarkURL
	}
	if patch.FontFamily != nil {
		cfg.FontFamily = *patch.FontFamily
	}
	for key, placement := range patch.Coordinates {
		if cfg.Coordinates == nil {
			cfg.Coordinates = map[string]layout.Placement{}
		}
		cfg.Coordinates[key] = placement
	}
	for key, style := range patch.Typography {
		if cfg.Typography == nil {
			cfg.Typography = map[string]layout.TextStyle{}
		}
		cfg.Typography[key] = style
	}
	if patch.PosterElements != nil {
		cfg.PosterElements = *patch.PosterElements
	}
	for key, rule := range patch.Validation {
		if cfg.Validation == nil {
			cfg.Validation = map[string]layout.FieldRule{}
		}
		cfg.Validation[key] = rule
	}
	if patch.Branding != nil {
		cfg.Branding = *patch.Branding
	}
	if patch.Roles != nil {
		cfg.Roles = *patch.Roles
	}
	if patch.Sponsors != nil {
		cfg.Sponsors = *patch.Sponsors
	}

	return nil
}

func violationMessages(violations []error) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Error())
	}
	return out
}

func firstViolationField(violations []error) string {
	for _, v := range violations {
		var confErr *layout.ConfigurationError
		if errors.As(v, &confErr) {
			return confErr.Field
		}
	}
	return ""
}
