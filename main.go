package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"messenger/api"
	"messenger/config"
	"messenger/middleware"
	"messenger/repository"
	"messenger/services"
)

func main() {
	// 设置最大处理器数量
	runtime.GOMAXPROCS(runtime.NumCPU())

	// 加载配置
	envErr := config.LoadConfig()
	cfg := &config.AppConfig

	logger, err := config.NewLogger(cfg.Mode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("未找到.env文件，使用环境变量")
	}
	if cfg.JWTSecret == "your-secret-key" && config.IsRelease() {
		logger.Fatal("生产环境必须设置 JWT_SECRET")
	}

	ctx := context.Background()

	// 连接数据库
	stores, err := repository.Open(ctx, repository.Options{
		Driver:        cfg.DBDriver,
		DSN:           cfg.DBConnectionString,
		MaxIdleConns:  cfg.DBMaxIdleConns,
		MaxOpenConns:  cfg.DBMaxOpenConns,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		logger.Fatal("数据库连接失败", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	logger.Info("数据库连接成功", zap.String("driver", cfg.DBDriver))

	// 初始化Redis客户端（缓存、限流、在线用户镜像），允许失败
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis连接失败，应用将在没有缓存的情况下运行", zap.Error(err))
		rdb.Close()
		rdb = nil
	} else {
		logger.Info("Redis连接成功")
	}

	// 初始化Kafka服务（允许失败）
	var kafkaService *services.KafkaService
	if cfg.KafkaEnabled {
		kafkaService, err = services.NewKafkaService(cfg.KafkaBootstrapServers, cfg.KafkaTopicPrefix, logger)
		if err != nil {
			logger.Warn("Kafka服务初始化失败，事件不会发布", zap.Error(err))
			kafkaService = nil
		}
	}

	// 媒体存储
	var media services.MediaUploader = services.InlineUploader{}
	if cfg.MediaDriver == "s3" {
		media = services.NewS3Uploader(services.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
	}

	// 初始化WebSocket管理器
	wsManager := services.NewWebSocketManager(cfg.MaxConnections, logger)
	if rdb != nil {
		wsManager.SetRedis(ctx, rdb)
	}

	// 初始化服务
	userService := services.NewUserService(stores.Users, rdb, media, time.Duration(cfg.CacheExpiration)*time.Second, logger)
	userService.SetPresence(wsManager)
	tokenService := services.NewTokenService(cfg.JWTSecret, cfg.JWTExpiresIn)
	authService := services.NewAuthService(stores.Users, userService, tokenService, logger)
	messageService := services.NewMessageService(stores.Messages, stores.Users, media, wsManager, logger)

	if kafkaService != nil {
		wsManager.SetEventPublisher(kafkaService)
		messageService.SetEventPublisher(kafkaService)
	}

	// 创建Gin实例
	if config.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(logger), middleware.ErrorHandler(config.IsRelease(), logger), middleware.Recovery(logger))

	// 配置CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	staticDir := ""
	if config.IsRelease() {
		staticDir = cfg.StaticDir
	}

	// 注册路由
	api.RegisterRoutes(r, api.Dependencies{
		AuthService:    authService,
		UserService:    userService,
		MessageService: messageService,
		WSManager:      wsManager,
		KafkaService:   kafkaService,
		RateLimiter:    middleware.NewRateLimiter(rdb, cfg.RateLimitAPI, cfg.RateLimitWS, "/api/ws", logger),
		Upgrader:       services.NewUpgrader(cfg.CORSOrigins),
		Cookie: api.CookieConfig{
			Name:   cfg.CookieName,
			Secure: config.IsRelease(),
			MaxAge: cfg.JWTExpiresIn,
		},
		StaticDir: staticDir,
		Logger:    logger,
	})

	srv := services.StartServer(r, cfg.Port, logger)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("正在关闭服务器...")

	services.ShutdownServer(srv, 5*time.Second, logger)

	if kafkaService != nil {
		if err := kafkaService.Close(); err != nil {
			logger.Warn("关闭Kafka失败", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	if err := stores.Close(context.Background()); err != nil {
		logger.Warn("关闭数据库失败", zap.Error(err))
	}
}
