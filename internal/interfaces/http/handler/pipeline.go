package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/interfaces/http/response"
)

// 列表默认条数
const defaultListLimit = 50

// PipelineHandler 流水线状态查询处理器（只读）
type PipelineHandler struct {
	files   pipeline.SourceFileRepository
	records pipeline.RecordRepository
	jobs    pipeline.InsightJobRepository
	rows    pipeline.RowStore
}

// NewPipelineHandler 创建流水线状态查询处理器
func NewPipelineHandler(
	files pipeline.SourceFileRepository,
	records pipeline.RecordRepository,
	jobs pipeline.InsightJobRepository,
	rows pipeline.RowStore,
) *PipelineHandler {
	return &PipelineHandler{files: files, records: records, jobs: jobs, rows: rows}
}

// RecordDetail 记录及其洞察任务
type RecordDetail struct {
	Record  *pipeline.ProcessingRecord `json:"record"`
	Insight *pipeline.InsightJob       `json:"insight,omitempty"`
}

type fileRecordsQuery struct {
	Path  string `form:"path" binding:"required"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type insightsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=queued running succeeded failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListFiles 获取所有文件及最新状态
// @Summary 获取文件列表
// @Tags 流水线
// @Produce json
// @Success 200 {object} response.Response
// @Router /files [get]
func (h *PipelineHandler) ListFiles(c *gin.Context) {
	files, err := h.files.ListStatus()
	if err != nil {
		response.StoreError(c, err)
		return
	}
	if files == nil {
		files = []*pipeline.FileStatus{}
	}
	response.Success(c, files)
}

// ListFileRecords 获取一个文件的摄取记录，最新的在前
// @Summary 获取文件摄取记录
// @Tags 流水线
// @Produce json
// @Param path query string true "文件绝对路径"
// @Param limit query int false "条数"
// @Success 200 {object} response.Response
// @Router /files/records [get]
func (h *PipelineHandler) ListFileRecords(c *gin.Context) {
	var q fileRecordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}

	records, err := h.records.ListByPath(q.Path, q.Limit)
	if err != nil {
		response.StoreError(c, err)
		return
	}
	if records == nil {
		records = []*pipeline.ProcessingRecord{}
	}
	response.Success(c, records)
}

// GetRecord 获取单条记录及其洞察任务
// @Summary 获取摄取记录
// @Tags 流水线
// @Produce json
// @Param id path string true "记录 ID"
// @Success 200 {object} response.Response
// @Router /records/{id} [get]
func (h *PipelineHandler) GetRecord(c *gin.Context) {
	rec, err := h.records.Get(c.Param("id"))
	if err != nil {
		response.StoreError(c, err)
		return
	}
	if rec == nil {
		response.NotFound(c, "record not found")
		return
	}

	job, err := h.jobs.LatestForRecord(rec.ID)
	if err != nil {
		response.StoreError(c, err)
		return
	}
	response.Success(c, &RecordDetail{Record: rec, Insight: job})
}

// ListInsights 获取洞察任务列表（不含结果载荷）
// @Summary 获取洞察任务列表
// @Tags 洞察
// @Produce json
// @Param status query string false "queued|running|succeeded|failed"
// @Param limit query int false "条数"
// @Success 200 {object} response.Response
// @Router /insights [get]
func (h *PipelineHandler) ListInsights(c *gin.Context) {
	var q insightsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}

	jobs, err := h.jobs.List(pipeline.JobStatus(q.Status), q.Limit)
	if err != nil {
		response.StoreError(c, err)
		return
	}
	out := make([]*pipeline.InsightJob, 0, len(jobs))
	for _, job := range jobs {
		j := *job
		j.Payload = nil
		out = append(out, &j)
	}
	response.Success(c, out)
}

// GetInsight 获取单个洞察任务及结果
// @Summary 获取洞察结果
// @Tags 洞察
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} response.Response
// @Router /insights/{id} [get]
func (h *PipelineHandler) GetInsight(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		response.StoreError(c, err)
		return
	}
	if job == nil {
		response.NotFound(c, "insight job not found")
		return
	}
	response.Success(c, job)
}

// GetRow 按业务主键读取最近提交的行
// @Summary 按主键读取行
// @Tags 数据
// @Produce json
// @Param key path string true "业务主键"
// @Success 200 {object} response.Response
// @Router /rows/{key} [get]
func (h *PipelineHandler) GetRow(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.BadRequest(c, errors.New("key is required"))
		return
	}
	row, err := h.rows.Read(c.Request.Context(), key)
	if err != nil {
		response.StoreError(c, err)
		return
	}
	if row == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "row not found")
		return
	}
	response.Success(c, row)
}
