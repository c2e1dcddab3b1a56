package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/models"
)

func newPourRecord(jobID, tag string, status models.PourStatus) *models.PourRecord {
	now := time.Now()
	return &models.PourRecord{
		JobID:          jobID,
		Tag:            tag,
		Drink:          "midnight_caramel",
		Status:         status,
		StepsTotal:     5,
		StepsCompleted: 5,
		TotalAmountOz:  7.2,
		StartedAt:      now.Add(-10 * time.Second),
		FinishedAt:     &now,
		DurationMs:     10000,
	}
}

// TestPourCreateAndGet 写入后可按任务ID查回
func TestPourCreateAndGet(t *testing.T) {
	repo := NewPourRepository(setupTestDB(t))
	ctx := context.Background()

	record := newPourRecord("job-1", "1101166614", models.PourStatusCompleted)
	require.NoError(t, repo.Create(ctx, record))

	got, err := repo.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "1101166614", got.Tag)
	assert.Equal(t, models.PourStatusCompleted, got.Status)
	assert.Equal(t, 5, got.StepsCompleted)
}

// TestPourGetNotFound 不存在的任务返回未找到错误
func TestPourGetNotFound(t *testing.T) {
	repo := NewPourRepository(setupTestDB(t))

	_, err := repo.GetByJobID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// TestPourList 分页倒序查询
func TestPourList(t *testing.T) {
	repo := NewPourRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record := newPourRecord("job-"+string(rune('a'+i)), "1101166614", models.PourStatusCompleted)
		require.NoError(t, repo.Create(ctx, record))
	}

	records, total, err := repo.List(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, records, 3)
}

// TestPourCountByStatus 按结果分类统计
func TestPourCountByStatus(t *testing.T) {
	repo := NewPourRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPourRecord("j1", "t1", models.PourStatusCompleted)))
	require.NoError(t, repo.Create(ctx, newPourRecord("j2", "t2", models.PourStatusCompleted)))
	require.NoError(t, repo.Create(ctx, newPourRecord("j3", "t3", models.PourStatusSafetyAbort)))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.PourStatusCompleted])
	assert.Equal(t, int64(1), counts[models.PourStatusSafetyAbort])
}

// TestEventListByCategory 事件按类别过滤
func TestEventListByCategory(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MachineEvent{
		Category: models.EventCategorySafety,
		Type:     "SAFETY_ABORT",
		Tag:      "1101166614",
		Message:  "杯子被移走",
	}))
	require.NoError(t, repo.Create(ctx, &models.MachineEvent{
		Category: models.EventCategoryHardware,
		Type:     "HARDWARE_ERROR",
		Message:  "GRBL响应超时",
	}))

	safety, total, err := repo.List(ctx, models.EventCategorySafety, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, safety, 1)
	assert.Equal(t, "SAFETY_ABORT", safety[0].Type)

	all, total, err := repo.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
}

// TestEventDetails JSON附加信息落库后可读回
func TestEventDetails(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MachineEvent{
		Category: models.EventCategorySafety,
		Type:     "SAFETY_ABORT",
		JobID:    "job-9",
		Details:  models.EventDetails{"step_index": 2},
	}))

	events, err := repo.ListByJob(ctx, "job-9")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.EqualValues(t, 2, events[0].Details["step_index"])
}

// TestRecorder 记录器写入不报错
func TestRecorder(t *testing.T) {
	db := setupTestDB(t)
	recorder := NewRecorder(db)

	recorder.RecordPour(newPourRecord("job-r", "1101166614", models.PourStatusCompleted))
	recorder.RecordEvent(&models.MachineEvent{
		Category: models.EventCategoryOperator,
		Type:     "OPERATOR_RESET",
	})

	got, err := NewPourRepository(db).GetByJobID(context.Background(), "job-r")
	require.NoError(t, err)
	assert.Equal(t, models.PourStatusCompleted, got.Status)
}
