package dispenser

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
)

// Job 一次出酒任务
// 由控制器独占持有：标签解析成功后创建，完成、中止或出错时销毁。
type Job struct {
	ID        string         // 任务UUID
	Tag       string         // 触发任务的RFID标签
	Recipe    *recipe.Recipe // 解析出的配方
	StartedAt time.Time

	mu        sync.Mutex
	stepIndex int // 当前执行的步骤索引
}

// NewJob 创建出酒任务
func NewJob(rcp *recipe.Recipe) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Tag:       rcp.Tag,
		Recipe:    rcp,
		StartedAt: time.Now(),
		stepIndex: -1,
	}
}

// SetStepIndex 更新当前步骤索引
func (j *Job) SetStepIndex(i int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stepIndex = i
}

// StepIndex 返回当前步骤索引，尚未开始时为-1
func (j *Job) StepIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stepIndex
}

// StepsTotal 配方总步骤数
func (j *Job) StepsTotal() int {
	return len(j.Recipe.Steps)
}
