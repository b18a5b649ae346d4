package controller

import (
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AssignmentController 试卷布置与成绩汇总
type AssignmentController struct {
	AssignmentService *service.AssignmentService
}

func NewAssignmentController(assignmentService *service.AssignmentService) *AssignmentController {
	return &AssignmentController{AssignmentService: assignmentService}
}

// CreateAssignment godoc
// @Summary 布置试卷到班级
// @Description 设置开放/截止时间与最大作答次数（为空表示不限）
// @Tags 试卷布置
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Param   body body service.CreateAssignmentRequest true "布置信息"
// @Success 201 {object} util.Response{data=model.ExamAssignment} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "无权访问"
// @Router /api/teacher/exams/{id}/assignments [post]
func (c *AssignmentController) CreateAssignment(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	examID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	var req service.CreateAssignmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	a, err := c.AssignmentService.CreateAssignment(ctx.Request.Context(), p, examID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, a)
}

// ListAssignments godoc
// @Summary 获取试卷的布置列表
// @Tags 试卷布置
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Success 200 {object} util.Response{data=[]repository.AssignmentListRow} "成功"
// @Router /api/teacher/exams/{id}/assignments [get]
func (c *AssignmentController) ListAssignments(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	examID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	rows, err := c.AssignmentService.ListAssignments(ctx.Request.Context(), p, examID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// ListAvailableClasses godoc
// @Summary 可布置的班级
// @Description 教师名下尚未布置该试卷的班级
// @Tags 试卷布置
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Class} "成功"
// @Router /api/teacher/exams/{id}/available-classes [get]
func (c *AssignmentController) ListAvailableClasses(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	examID, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	classes, err := c.AssignmentService.ListAvailableClasses(ctx.Request.Context(), p, examID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, classes)
}

// DeleteAssignment godoc
// @Summary 删除布置
// @Description 同时删除该布置下的全部作答与附件
// @Tags 试卷布置
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "布置ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/teacher/assignments/{id} [delete]
func (c *AssignmentController) DeleteAssignment(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	if err := c.AssignmentService.DeleteAssignment(ctx.Request.Context(), p, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": id})
}

// ListAssignmentScores godoc
// @Summary 布置成绩汇总
// @Description 班级每个学生最近一次作答的状态与分数
// @Tags 试卷布置
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "布置ID"
// @Success 200 {object} util.Response{data=service.ScoreBoard} "成功"
// @Router /api/teacher/assignments/{id}/scores [get]
func (c *AssignmentController) ListAssignmentScores(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, ok := idParam(ctx, "id")
	if !ok {
		return
	}
	board, err := c.AssignmentService.ListAssignmentScores(ctx.Request.Context(), p, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, board)
}

// ListStudentAssignments godoc
// @Summary 学生的考试列表
// @Tags 学生作答
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.StudentAssignment} "成功"
// @Router /api/student/assignments [get]
func (c *AssignmentController) ListStudentAssignments(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	list, err := c.AssignmentService.ListStudentAssignments(ctx.Request.Context(), p.ID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, list)
}
