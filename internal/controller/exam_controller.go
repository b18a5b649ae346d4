package controller

import (
	"encoding/json"
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// ExamController 教师端试卷、题目与题库
type ExamController struct {
	ExamService *service.ExamService
}

func NewExamController(examService *service.ExamService) *ExamController {
	return &ExamController{ExamService: examService}
}

// ListExams godoc
// @Summary 获取我的试卷列表
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]repository.ExamListRow} "成功"
// @Failure 401 {object} util.Response "未授权"
// @Router /api/teacher/exams [get]
func (c *ExamController) ListExams(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	exams, err := c.ExamService.ListExams(ctx.Request.Context(), p)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, exams)
}

// CreateExam godoc
// @Summary 创建试卷
// @Tags 试卷管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.ExamRequest true "试卷信息"
// @Success 201 {object} util.Response{data=model.Exam} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/teacher/exams [post]
func (c *ExamController) CreateExam(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req service.ExamRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	exam, err := c.ExamService.CreateExam(ctx.Request.Context(), p, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, exam)
}

// GetExam godoc
// @Summary 获取试卷详情
// @Description 包含题目、选项（含正确答案）与附件
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Success 200 {object} util.Response{data=model.Exam} "成功"
// @Failure 403 {object} util.Response "无权访问"
// @Failure 404 {object} util.Response "试卷不存在"
// @Router /api/teacher/exams/{id} [get]
func (c *ExamController) GetExam(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	exam, err := c.ExamService.GetExam(ctx.Request.Context(), p, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, exam)
}

// UpdateExam godoc
// @Summary 更新试卷
// @Tags 试卷管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Param   body body service.ExamRequest true "试卷信息"
// @Success 200 {object} util.Response{data=model.Exam} "成功"
// @Router /api/teacher/exams/{id} [put]
func (c *ExamController) UpdateExam(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	var req service.ExamRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	exam, err := c.ExamService.UpdateExam(ctx.Request.Context(), p, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, exam)
}

// DeleteExam godoc
// @Summary 删除试卷
// @Description 同时删除题目、布置、作答及全部附件
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/teacher/exams/{id} [delete]
func (c *ExamController) DeleteExam(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	if err := c.ExamService.DeleteExam(ctx.Request.Context(), p, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": id})
}

// bindQuestion JSON 请求体，或 multipart 表单中的 payload 字段
func bindQuestion(ctx *gin.Context, req *service.QuestionRequest) error {
	if !strings.HasPrefix(ctx.ContentType(), "multipart/") {
		return ctx.ShouldBindJSON(req)
	}
	payload := ctx.PostForm("payload")
	if payload == "" {
		return util.Validationf("payload is required")
	}
	if err := json.Unmarshal([]byte(payload), req); err != nil {
		return util.ErrInvalidPayload
	}
	return binding.Validator.ValidateStruct(req)
}

// AddQuestion godoc
// @Summary 添加题目
// @Description id 为试卷ID，或 bank 表示加入题库；附件使用 multipart 字段 media
// @Tags 试卷管理
// @Accept  json,mpfd
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "试卷ID或bank"
// @Param   payload formData string false "题目JSON（multipart 时）"
// @Param   media formData file false "题目附件"
// @Success 201 {object} util.Response{data=model.Question} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/teacher/exams/{id}/questions [post]
func (c *ExamController) AddQuestion(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req service.QuestionRequest
	if err := bindQuestion(ctx, &req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var files []service.UploadFile
	if form, err := ctx.MultipartForm(); err == nil {
		uploads, closeAll, err := openUploads(form.File["media"], 0)
		if err != nil {
			util.HandleServiceError(ctx, err)
			return
		}
		defer closeAll()
		files = uploads
	}

	q, err := c.ExamService.AddQuestion(ctx.Request.Context(), p, ctx.Param("id"), req, files)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// UpdateQuestion godoc
// @Summary 更新题目
// @Description 选项整体替换；已开始的作答不受影响
// @Tags 试卷管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "题目ID"
// @Param   body body service.QuestionRequest true "题目信息"
// @Success 200 {object} util.Response{data=model.Question} "成功"
// @Router /api/teacher/questions/{id} [put]
func (c *ExamController) UpdateQuestion(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.ExamService.UpdateQuestion(ctx.Request.Context(), p, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary 删除题目
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "题目ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/teacher/questions/{id} [delete]
func (c *ExamController) DeleteQuestion(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	if err := c.ExamService.DeleteQuestion(ctx.Request.Context(), p, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": id})
}

// DeleteQuestionMedia godoc
// @Summary 删除题目附件
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Param   mediaId path int true "附件ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/teacher/questions/media/{mediaId} [delete]
func (c *ExamController) DeleteQuestionMedia(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "mediaId")
	if !ok {
		return
	}
	if err := c.ExamService.DeleteQuestionMedia(ctx.Request.Context(), p, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": id})
}

// ListBankQuestions godoc
// @Summary 获取题库
// @Description 未归属任何试卷的题目
// @Tags 试卷管理
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Question} "成功"
// @Router /api/teacher/questions/bank [get]
func (c *ExamController) ListBankQuestions(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	qs, err := c.ExamService.ListBankQuestions(ctx.Request.Context(), p)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, qs)
}
