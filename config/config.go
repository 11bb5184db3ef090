package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 运行模式
const (
	ModeDebug   = "debug"
	ModeRelease = "release"
)

// AppConfig 应用配置
var AppConfig struct {
	// 服务器配置
	Port           string
	Mode           string // debug 或 release
	LogLevel       string
	CORSOrigins    []string
	StaticDir      string // 生产环境下前端构建产物目录
	MaxConnections int    // 最大WebSocket连接数

	// 会话配置
	JWTSecret    string
	JWTExpiresIn time.Duration
	CookieName   string

	// 数据库配置
	DBDriver           string // mysql, postgres, sqlite 或 mongo
	DBConnectionString string
	DBMaxIdleConns     int
	DBMaxOpenConns     int
	MongoURI           string
	MongoDatabase      string

	// Redis配置（缓存与限流）
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// 缓存配置
	CacheExpiration int // 缓存过期时间（秒）

	// 限流配置（每分钟请求数）
	RateLimitAPI int
	RateLimitWS  int

	// Kafka配置（领域事件）
	KafkaEnabled          bool
	KafkaBootstrapServers []string
	KafkaTopicPrefix      string

	// 媒体存储配置
	MediaDriver       string // inline 或 s3
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Bucket          string
	S3PublicBaseURL   string
}

// LoadConfig 从环境变量加载配置，返回值表示.env文件的加载错误（可忽略）
func LoadConfig() error {
	// 尝试加载.env文件
	envErr := godotenv.Load()

	// 服务器配置
	AppConfig.Port = getEnv("PORT", "5000")
	AppConfig.Mode = getEnv("MODE", ModeDebug)
	AppConfig.LogLevel = getEnv("LOG_LEVEL", "info")
	AppConfig.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	AppConfig.StaticDir = getEnv("STATIC_DIR", "")
	AppConfig.MaxConnections = getEnvInt("MAX_CONNECTIONS", 10000)

	// 会话配置
	AppConfig.JWTSecret = getEnv("JWT_SECRET", "your-secret-key")
	AppConfig.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", 7*24*time.Hour)
	AppConfig.CookieName = getEnv("COOKIE_NAME", "jwt")

	// 数据库配置
	AppConfig.DBDriver = getEnv("DB_DRIVER", "mysql")
	AppConfig.DBConnectionString = getEnv("DB_CONNECTION_STRING", "root:password@tcp(127.0.0.1:3306)/messenger?charset=utf8mb4&parseTime=True&loc=UTC")
	AppConfig.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	AppConfig.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 100)
	AppConfig.MongoURI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	AppConfig.MongoDatabase = getEnv("MONGO_DATABASE", "messenger")

	// Redis配置
	AppConfig.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	AppConfig.RedisPassword = getEnv("REDIS_PASSWORD", "")
	AppConfig.RedisDB = getEnvInt("REDIS_DB", 0)
	AppConfig.RedisPoolSize = getEnvInt("REDIS_POOL_SIZE", runtime.NumCPU()*10)

	AppConfig.CacheExpiration = getEnvInt("CACHE_EXPIRATION", 300)

	AppConfig.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 60)
	AppConfig.RateLimitWS = getEnvInt("RATE_LIMIT_WS", 5)

	// Kafka配置
	AppConfig.KafkaEnabled = getEnvBool("KAFKA_ENABLED", false)
	AppConfig.KafkaBootstrapServers = splitList(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"))
	AppConfig.KafkaTopicPrefix = getEnv("KAFKA_TOPIC_PREFIX", "messenger-")

	// 媒体存储配置
	AppConfig.MediaDriver = getEnv("MEDIA_DRIVER", "inline")
	AppConfig.S3Endpoint = getEnv("S3_ENDPOINT", "")
	AppConfig.S3Region = getEnv("S3_REGION", "auto")
	AppConfig.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", "")
	AppConfig.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", "")
	AppConfig.S3Bucket = getEnv("S3_BUCKET", "")
	AppConfig.S3PublicBaseURL = getEnv("S3_PUBLIC_BASE_URL", "")

	return envErr
}

// IsRelease 是否为生产模式
func IsRelease() bool {
	return AppConfig.Mode == ModeRelease
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, defaultValue.String()))
	if err != nil {
		return defaultValue
	}
	return value
}

// splitList 拆分逗号分隔的列表，忽略空项
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
