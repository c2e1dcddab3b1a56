package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"github.com/wfunc/vhs-coffeeman/internal/repository"
)

// RecordHandler 出酒记录与机器事件查询
type RecordHandler struct {
	pours  *repository.PourRepository
	events *repository.EventRepository
}

// NewRecordHandler 创建记录处理器
func NewRecordHandler(pours *repository.PourRepository, events *repository.EventRepository) *RecordHandler {
	return &RecordHandler{
		pours:  pours,
		events: events,
	}
}

// ListPours 查询出酒记录列表
func (h *RecordHandler) ListPours(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	// 按磁带标签过滤
	if tag := c.Query("tag"); tag != "" {
		records, err := h.pours.ListByTag(c.Request.Context(), tag, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "QUERY_FAILED",
				"message": "查询失败",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":  records,
			"total": len(records),
		})
		return
	}

	records, total, err := h.pours.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": "查询失败",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetPour 按任务ID查询单条出酒记录
func (h *RecordHandler) GetPour(c *gin.Context) {
	jobID := c.Param("job_id")

	record, err := h.pours.GetByJobID(c.Request.Context(), jobID)
	if err != nil {
		if errors.GetCode(err) == errors.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "记录不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": "查询失败",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListJobEvents 查询某次出酒的全部事件
func (h *RecordHandler) ListJobEvents(c *gin.Context) {
	jobID := c.Param("job_id")

	events, err := h.events.ListByJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": "查询失败",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"total": len(events),
	})
}

// ListEvents 查询机器事件列表
func (h *RecordHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	category := models.EventCategory(c.Query("category"))

	events, total, err := h.events.List(c.Request.Context(), category, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": "查询失败",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetStats 出酒统计
func (h *RecordHandler) GetStats(c *gin.Context) {
	counts, err := h.pours.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": "查询失败",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"by_status": counts,
	})
}
