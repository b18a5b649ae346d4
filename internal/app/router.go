package app

import (
	"school_exam_backend/docs"
	"school_exam_backend/internal/config"
	"school_exam_backend/internal/middleware"
	"school_exam_backend/internal/model"
	"school_exam_backend/pkg/monitoring"
	"school_exam_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		a.registerTeacherRoutes(authGroup, c, cfg)
		a.registerStudentRoutes(authGroup, c, cfg)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerTeacherRoutes(group *gin.RouterGroup, c *controllers, cfg *config.Config) {
	teacher := group.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.GET("/exams", c.exam.ListExams)
		teacher.POST("/exams", c.exam.CreateExam)
		teacher.GET("/exams/:id", c.exam.GetExam)
		teacher.PUT("/exams/:id", c.exam.UpdateExam)
		teacher.DELETE("/exams/:id", c.exam.DeleteExam)
		teacher.POST("/exams/:id/questions", security.BodyLimit(cfg.Exam.MaxUploadBytes()), c.exam.AddQuestion)

		teacher.GET("/questions/bank", c.exam.ListBankQuestions)
		teacher.PUT("/questions/:id", c.exam.UpdateQuestion)
		teacher.DELETE("/questions/:id", c.exam.DeleteQuestion)
		teacher.DELETE("/questions/media/:mediaId", c.exam.DeleteQuestionMedia)

		teacher.GET("/exams/:id/assignments", c.assignment.ListAssignments)
		teacher.POST("/exams/:id/assignments", c.assignment.CreateAssignment)
		teacher.GET("/exams/:id/available-classes", c.assignment.ListAvailableClasses)
		teacher.DELETE("/assignments/:id", c.assignment.DeleteAssignment)
		teacher.GET("/assignments/:id/scores", c.assignment.ListAssignmentScores)

		teacher.GET("/attempts/:id/grade", c.grading.GetGradingView)
		teacher.POST("/attempts/:id/grade", c.grading.GradeAttempt)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers, cfg *config.Config) {
	student := group.Group("/student")
	student.Use(middleware.RoleMiddleware(model.Student))
	{
		student.GET("/assignments", c.assignment.ListStudentAssignments)
		student.POST("/assignments/:id/start", c.attempt.StartAttempt)
		student.PUT("/attempts/:id/responses", c.attempt.SaveProgress)
		student.POST("/attempts/:id/submit", security.BodyLimit(cfg.Exam.MaxUploadBytes()), c.attempt.SubmitAttempt)
		student.GET("/attempts/:id", c.attempt.GetAttemptResult)
	}
}
