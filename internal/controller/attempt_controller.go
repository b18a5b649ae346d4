package controller

import (
	"encoding/json"
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"
	"strings"

	"github.com/gin-gonic/gin"
)

// AttemptController 学生端开始、保存与提交作答
type AttemptController struct {
	AttemptService  *service.AttemptService
	ResponseService *service.ResponseService
}

func NewAttemptController(attemptService *service.AttemptService, responseService *service.ResponseService) *AttemptController {
	return &AttemptController{
		AttemptService:  attemptService,
		ResponseService: responseService,
	}
}

// swagger:model AnswersRequest
type AnswersRequest struct {
	Responses []service.AnswerInput `json:"responses" binding:"dive"`
}

// StartAttempt godoc
// @Summary 开始或继续作答
// @Description 存在进行中的作答时返回同一份试卷（题目与选项顺序不变）
// @Tags 学生作答
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "布置ID"
// @Success 200 {object} util.Response{data=service.AttemptView} "成功"
// @Failure 403 {object} util.Response "未开放、已截止、已超时或次数用尽"
// @Failure 404 {object} util.Response "布置不存在"
// @Failure 409 {object} util.Response "请求冲突"
// @Router /api/student/assignments/{id}/start [post]
func (c *AttemptController) StartAttempt(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	assignmentID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	view, err := c.AttemptService.StartOrResume(ctx.Request.Context(), assignmentID, p.ID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// SaveProgress godoc
// @Summary 保存草稿答案
// @Tags 学生作答
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作答ID"
// @Param   body body AnswersRequest true "答案"
// @Success 200 {object} util.Response{data=service.DraftResult} "成功"
// @Router /api/student/attempts/{id}/responses [put]
func (c *AttemptController) SaveProgress(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	attemptID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	var req AnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	result, err := c.ResponseService.SaveProgress(ctx.Request.Context(), p.ID, attemptID, req.Responses)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// SubmitAttempt godoc
// @Summary 提交作答
// @Description multipart 表单：responses 为答案 JSON 数组，问答题附件字段为 files_<questionId>；也可直接提交 JSON
// @Tags 学生作答
// @Accept  json,mpfd
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作答ID"
// @Param   responses formData string false "答案JSON数组"
// @Success 200 {object} util.Response{data=service.SubmitResult} "成功"
// @Failure 400 {object} util.Response "答案无效"
// @Failure 403 {object} util.Response "作答已超时"
// @Failure 409 {object} util.Response "作答已提交"
// @Router /api/student/attempts/{id}/submit [post]
func (c *AttemptController) SubmitAttempt(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	attemptID, ok := idParam(ctx, "id")
	if !ok {
		return
	}

	var answers []service.AnswerInput
	var files []service.UploadFile
	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		form, err := ctx.MultipartForm()
		if err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
		if raw := ctx.PostForm("responses"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &answers); err != nil {
				util.BadRequest(ctx, util.ErrInvalidPayload.Error())
				return
			}
		}
		uploads, closeAll, err := responseUploads(form)
		if err != nil {
			util.HandleServiceError(ctx, err)
			return
		}
		defer closeAll()
		files = uploads
	} else {
		var req AnswersRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
		answers = req.Responses
	}

	result, err := c.ResponseService.SubmitAttempt(ctx.Request.Context(), p.ID, attemptID, answers, files)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// GetAttemptResult godoc
// @Summary 查看作答结果
// @Tags 学生作答
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=service.AttemptResult} "成功"
// @Failure 404 {object} util.Response "作答不存在"
// @Router /api/student/attempts/{id} [get]
func (c *AttemptController) GetAttemptResult(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	attemptID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	result, err := c.AttemptService.GetAttemptResult(ctx.Request.Context(), p.ID, attemptID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
