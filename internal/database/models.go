package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 活动发布状态。只有 published 状态的活动才接受提交。
const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
)

// 海报生成状态，挂在 Lead 上。
const (
	LeadStatusProcessing = "processing"
	LeadStatusCompleted  = "completed"
	LeadStatusFailed     = "failed"
)

// Admin 表示后台管理账号。
type Admin struct {
	gorm.Model
	Username     string  `gorm:"uniqueIndex;size:64"`
	PasswordHash string  `gorm:"size:255"`
	Events       []Event `gorm:"constraint:OnDelete:CASCADE"`
}

// Event 表示一场活动及其海报布局配置。
// LayoutConfig 以 JSONB 存储 internal/layout.Config，
// 每次保存原地覆盖，不做版本化。
type Event struct {
	gorm.Model
	Title        string         `gorm:"size:255"`
	Slug         string         `gorm:"uniqueIndex;size:128"`
	Status       string         `gorm:"size:32;default:draft"`
	LayoutConfig datatypes.JSON `gorm:"type:jsonb"`
	AdminID      uint           `gorm:"index"`
	Admin        Admin          `gorm:"constraint:OnDelete:CASCADE"`
	Leads        []Lead         `gorm:"constraint:OnDelete:CASCADE"`
}

// Lead 表示一次成功的表单提交。
// PosterObjectKey 只在最终海报成功上传后写入；
// 渲染失败的提交停留在 failed 状态，绝不携带半成品产物。
type Lead struct {
	gorm.Model
	EventID         uint           `gorm:"index"`
	Event           Event          `gorm:"constraint:OnDelete:CASCADE"`
	Name            string         `gorm:"size:255"`
	Mobile          string         `gorm:"size:32"`
	Designation     string         `gorm:"size:255"`
	Company         string         `gorm:"size:255"`
	Role            string         `gorm:"size:128"`
	Fields          datatypes.JSON `gorm:"type:jsonb"`
	PhotoObjectKey  string         `gorm:"size:512"`
	PosterObjectKey string         `gorm:"size:512"`
	Status          string         `gorm:"size:32;default:processing"`
	SubmittedAt     time.Time
}
