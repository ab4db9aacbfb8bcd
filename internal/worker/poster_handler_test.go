package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/layout"
	"postermaker/internal/tasks"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Admin{}, &database.Event{}, &database.Lead{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// 指向不可达地址的客户端：通知发布会失败并被记录，不影响断言路径。
func newUnreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
}

func newTestHandler(db *gorm.DB) *PosterTaskHandler {
	logger := slog.New(slog.DiscardHandler)
	return NewPosterTaskHandler(db, nil, newUnreachableRedis(), logger, nil, "https://example.com")
}

func TestProcessTaskConfigErrorSkipsRetry(t *testing.T) {
	db := newTestDB(t)

	event := database.Event{Title: "Launch", Slug: "launch", Status: database.EventStatusPublished}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	lead := database.Lead{EventID: event.ID, Name: "张三", Status: database.LeadStatusProcessing}
	if err := db.Create(&lead).Error; err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	task, err := tasks.NewPosterGenerateTask(lead.ID, event.ID, "corr-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	h := newTestHandler(db)
	err = h.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for event without layout configuration")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	var got database.Lead
	if err := db.First(&got, lead.ID).Error; err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if got.Status != database.LeadStatusFailed {
		t.Fatalf("lead status = %q, want %q", got.Status, database.LeadStatusFailed)
	}
}

func TestIsDeterministicComposeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"configuration", &layout.ConfigurationError{Field: "backgroundImageUrl", Reason: "missing"}, true},
		{"asset fetch wrapped", fmt.Errorf("compose: %w", &layout.AssetFetchError{URL: "https://assets.example/bg.png"}), true},
		{"transient", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		if got := isDeterministicComposeError(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
