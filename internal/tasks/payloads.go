package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePosterGenerate = "poster:generate"
)

// PosterGeneratePayload 描述合成一张最终海报所需的最小信息。
// 布局配置不随任务传递：Worker 始终从存储中读取权威配置，
// 绝不信任客户端给出的几何信息。
type PosterGeneratePayload struct {
	LeadID        uint   `json:"lead_id"`
	EventID       uint   `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPosterGenerateTask 构造一个新的海报合成任务。
func NewPosterGenerateTask(leadID, eventID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PosterGeneratePayload{
		LeadID:        leadID,
		EventID:       eventID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePosterGenerate, payload), nil
}
