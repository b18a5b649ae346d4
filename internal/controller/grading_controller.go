package controller

import (
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GradingController struct {
	ScoringService *service.ScoringService
}

func NewGradingController(scoringService *service.ScoringService) *GradingController {
	return &GradingController{ScoringService: scoringService}
}

// GetGradingView godoc
// @Summary 获取批改数据
// @Description 按作答展示顺序返回题目、学生答案与附件
// @Tags 批改
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=service.GradingView} "成功"
// @Failure 403 {object} util.Response "无权访问"
// @Failure 404 {object} util.Response "作答不存在"
// @Router /api/teacher/attempts/{id}/grade [get]
func (c *GradingController) GetGradingView(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	view, err := c.ScoringService.GetGradingView(ctx.Request.Context(), p, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// GradeAttempt godoc
// @Summary 批改问答题
// @Description scores 以回答ID为键；分数可为数字或字符串，无效值按 0 分，超出范围截断到 [0, 题目分值]
// @Tags 批改
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作答ID"
// @Param   body body service.GradeRequest true "分数与评语"
// @Success 200 {object} util.Response{data=model.Attempt} "成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 409 {object} util.Response "作答尚未提交"
// @Router /api/teacher/attempts/{id}/grade [post]
func (c *GradingController) GradeAttempt(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	var req service.GradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.ScoringService.GradeAttempt(ctx.Request.Context(), p, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}
