package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"postermaker/internal/api/middleware"
	"postermaker/internal/database"
	"postermaker/internal/errcode"
	"postermaker/internal/layout"
	"postermaker/internal/storage"
	"postermaker/internal/tasks"
)

const (
	submissionRateLimit  = 10
	submissionRateWindow = time.Minute
)

// SubmissionHandler 负责公开的活动页与参与者提交。
// 提交成功后只登记线索并投递生成任务，海报在 worker 中异步合成。
type SubmissionHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	asynqClient *asynq.Client
	storage     *storage.Client
	logger      *slog.Logger
	clamdAddr   string
}

func NewSubmissionHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	asynqClient *asynq.Client,
	storageClient *storage.Client,
	logger *slog.Logger,
	clamdAddr string,
) *SubmissionHandler {
	return &SubmissionHandler{
		db:          db,
		redisClient: redisClient,
		asynqClient: asynqClient,
		storage:     storageClient,
		logger:      logger,
		clamdAddr:   clamdAddr,
	}
}

// GET /p/:slug
// 公开的活动页数据：表单需要的字段、校验规则与角色列表。
// 未发布的活动对外表现为不存在。
func (h *SubmissionHandler) GetPublicEvent(c *gin.Context) {
	event, cfg, ok := h.publicEvent(c)
	if !ok {
		return
	}

	roleLabels := make([]string, 0, len(cfg.Roles))
	for _, role := range cfg.Roles {
		roleLabels = append(roleLabels, role.Label)
	}

	_, photoExpected := cfg.Coordinates[layout.PhotoFieldKey]

	c.JSON(http.StatusOK, gin.H{
		"title":         event.Title,
		"slug":          event.Slug,
		"fields":        layout.TextFieldKeys(cfg),
		"validation":    cfg.Validation,
		"roles":         roleLabels,
		"photoExpected": photoExpected,
	})
}

// POST /p/:slug/submissions
// 发布状态是硬闸门：未发布的活动拒绝提交且不落任何线索记录。
func (h *SubmissionHandler) SubmitLead(c *gin.Context) {
	slug := c.Param("slug")

	var event database.Event
	if err := h.db.WithContext(c.Request.Context()).
		Where("slug = ?", slug).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": errcode.ResourceMissing, "error": "event not found"})
		} else {
			Internal(c, "failed to query event")
		}
		return
	}
	if event.Status != database.EventStatusPublished {
		stateErr := &layout.PublicationStateError{Status: event.Status}
		c.JSON(http.StatusConflict, gin.H{
			"code":  errcode.NotPublished,
			"error": stateErr.Error(),
			"hint":  "publish the event before sharing the submission link",
		})
		return
	}

	rateKey := fmt.Sprintf("submit:rate:%s", c.ClientIP())
	if count, err := incrWithTTL(c.Request.Context(), h.redisClient, rateKey, submissionRateWindow); err == nil && count > submissionRateLimit {
		Error(c, http.StatusTooManyRequests, "too many submissions, try again later")
		return
	}

	cfg, err := decodeConfig(event.LayoutConfig)
	if err != nil {
		Internal(c, "failed to decode event config")
		return
	}

	vals, fields, err := h.parseSubmission(c, cfg)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := layout.ValidateValues(cfg, vals); err != nil {
		var valErr *layout.ValidationError
		if errors.As(err, &valErr) {
			FieldError(c, http.StatusBadRequest, valErr.Field, valErr.Error())
			return
		}
		BadRequest(c, err.Error())
		return
	}

	photoObjectKey, err := h.storePhoto(c, event.ID)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	encodedFields, err := json.Marshal(fields)
	if err != nil {
		Internal(c, "failed to encode fields")
		return
	}

	lead := database.Lead{
		EventID:        event.ID,
		Name:           vals.Field("name"),
		Mobile:         vals.Field("mobile"),
		Designation:    vals.Field("designation"),
		Company:        vals.Field("company"),
		Role:           vals.Role,
		Fields:         datatypes.JSON(encodedFields),
		PhotoObjectKey: photoObjectKey,
		Status:         database.LeadStatusProcessing,
		SubmittedAt:    time.Now().UTC(),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&lead).Error; err != nil {
		Internal(c, "failed to save submission")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewPosterGenerateTask(lead.ID, event.ID, correlationID)
	if err != nil {
		Internal(c, "failed to build generation task")
		return
	}
	if _, err := h.asynqClient.EnqueueContext(c.Request.Context(), task, asynq.MaxRetry(3)); err != nil {
		h.logger.Error("enqueue poster task",
			slog.Uint64("lead_id", uint64(lead.ID)),
			slog.String("error", err.Error()))
		Internal(c, "failed to queue poster generation")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"leadId":        lead.ID,
		"correlationId": correlationID,
		"status":        lead.Status,
	})
}

// parseSubmission 从 multipart 表单拆出固定字段与动态字段。
func (h *SubmissionHandler) parseSubmission(c *gin.Context, cfg layout.Config) (layout.Values, map[string]string, error) {
	fields := map[string]string{}
	if raw := c.PostForm("fields"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return layout.Values{}, nil, fmt.Errorf("invalid fields payload: %w", err)
		}
	}
	for _, key := range []string{"name", "mobile", "designation", "company", "date", "email", "website", "address"} {
		if v := c.PostForm(key); v != "" {
			fields[key] = v
		}
	}

	role := c.PostForm("role")
	if role != "" {
		if _, ok := cfg.RoleByLabel(role); !ok {
			return layout.Values{}, nil, fmt.Errorf("unknown role %q", role)
		}
	}

	vals := layout.Values{Fields: fields, Role: role}
	return vals, fields, nil
}

// storePhoto 扫描并保存参与者照片，未上传照片时返回空键。
func (h *SubmissionHandler) storePhoto(c *gin.Context, eventID uint) (string, error) {
	file, err := c.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", fmt.Errorf("read photo: %w", err)
	}

	reader, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open photo: %w", err)
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	reader.Close()
	if err != nil {
		h.logger.Error("scan photo", slog.String("error", err.Error()))
		return "", fmt.Errorf("photo scan unavailable")
	}
	defer close(abortChan)
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return "", fmt.Errorf("malicious file detected")
		}
	}

	reader, err = file.Open()
	if err != nil {
		return "", fmt.Errorf("reopen photo: %w", err)
	}
	defer reader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := fmt.Sprintf("lead-photos/%d/%s.png", eventID, uuid.NewString())
	if _, err := h.storage.UploadFile(c.Request.Context(), objectKey, reader, file.Size, contentType); err != nil {
		h.logger.Error("upload photo", slog.String("error", err.Error()))
		return "", fmt.Errorf("failed to store photo")
	}
	return objectKey, nil
}

func (h *SubmissionHandler) publicEvent(c *gin.Context) (database.Event, layout.Config, bool) {
	slug := c.Param("slug")

	var event database.Event
	if err := h.db.WithContext(c.Request.Context()).
		Where("slug = ? AND status = ?", slug, database.EventStatusPublished).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": errcode.ResourceMissing, "error": "event not found"})
		} else {
			Internal(c, "failed to query event")
		}
		return database.Event{}, layout.Config{}, false
	}

	cfg, err := decodeConfig(event.LayoutConfig)
	if err != nil {
		Internal(c, "failed to decode event config")
		return database.Event{}, layout.Config{}, false
	}
	return event, cfg, true
}
