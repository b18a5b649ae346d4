package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"school_exam_backend/internal/config"
	"school_exam_backend/internal/controller"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/configwatcher"
	"school_exam_backend/pkg/database"
	"school_exam_backend/pkg/lock"
	"school_exam_backend/pkg/logger"
	"school_exam_backend/pkg/monitoring"
	"school_exam_backend/pkg/security"
	"school_exam_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const configDir = "configs"

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	Settings *service.ExamSettings

	tracer          *sdktrace.TracerProvider
	stopWatch       context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	class      *repository.ClassRepository
	exam       *repository.ExamRepository
	assignment *repository.AssignmentRepository
	attempt    *repository.AttemptRepository
	response   *repository.ResponseRepository
}

type services struct {
	auth       *service.AuthService
	storage    *service.StorageService
	exam       *service.ExamService
	assignment *service.AssignmentService
	attempt    *service.AttemptService
	response   *service.ResponseService
	scoring    *service.ScoringService
}

type controllers struct {
	auth       *controller.AuthController
	health     *controller.HealthController
	exam       *controller.ExamController
	assignment *controller.AssignmentController
	attempt    *controller.AttemptController
	grading    *controller.GradingController
}

// RegisterConfigCallback 配置文件变更后依次调用
func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		class:      repository.NewClassRepository(db),
		exam:       repository.NewExamRepository(db),
		assignment: repository.NewAssignmentRepository(db),
		attempt:    repository.NewAttemptRepository(db),
		response:   repository.NewResponseRepository(db),
	}
}

// newLocker 启用 Redis 时使用分布式锁，否则使用进程内锁
func newLocker(rdb *redis.Client) lock.Locker {
	if rdb != nil {
		return lock.NewRedisLocker(rdb)
	}
	return lock.NewLocalLocker()
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB) *services {
	s := &services{}
	locker := newLocker(a.Redis)

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, &cfg.JWT)
	s.exam = service.NewExamService(db, repos.exam, s.storage)
	s.assignment = service.NewAssignmentService(repos.assignment, repos.exam, repos.class, repos.attempt, s.storage)
	s.scoring = service.NewScoringService(db, repos.assignment, repos.attempt, repos.response, repos.user, s.storage)
	s.attempt = service.NewAttemptService(
		db,
		repos.assignment,
		repos.class,
		repos.exam,
		repos.attempt,
		repos.response,
		s.scoring,
		s.storage,
		locker,
		a.Settings,
	)
	s.response = service.NewResponseService(
		db,
		repos.attempt,
		repos.response,
		s.scoring,
		s.storage,
		locker,
		a.Settings,
	)
	return s
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		health:     controller.NewHealthController(a.DB, a.Redis),
		exam:       controller.NewExamController(s.exam),
		assignment: controller.NewAssignmentController(s.assignment),
		attempt:    controller.NewAttemptController(s.attempt, s.response),
		grading:    controller.NewGradingController(s.scoring),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// watchConfig 热更新日志级别与考试参数，其余配置需重启生效
func (a *App) watchConfig() {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		logger.SetMode(cfg.Server.Mode)
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		a.Settings.Update(cfg.Exam)
		logger.Log.Info("exam settings reloaded",
			zap.Int("submitGraceSeconds", cfg.Exam.SubmitGraceSeconds),
			zap.Int("lockWaitMillis", cfg.Exam.LockWaitMillis))
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	go func() {
		err := configwatcher.WatchConfig(ctx, configDir, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
		if err != nil {
			logger.Log.Error("config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// release 模式下默认不自动迁移，需显式指定 -migrate
	if cfg.Server.Mode != gin.ReleaseMode || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	app := &App{
		Config:   cfg,
		DB:       db,
		Settings: service.NewExamSettings(cfg.Exam),
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
			log.Fatalf("Failed to initialize redis: %v", err)
		}
		app.Redis = rdb
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db)
	controllers := app.initControllers(services)
	controller.RegisterValidators()

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	router.NoRoute(util.NotFound)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static(cfg.Storage.BaseURL, cfg.Storage.LocalPath)
	}

	app.watchConfig()
	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	log.Println("Server exiting")
}
