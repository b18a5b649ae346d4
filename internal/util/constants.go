package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 存储目录
const (
	ExamMediaDir     = "exam_media"
	ResponseMediaDir = "response_media"
)

// 附件允许的 MIME 前缀
var AllowedMediaTypes = []string{
	"image/",
	"audio/",
	"video/",
	"text/plain",
	"application/pdf",
	"application/zip",
	"application/octet-stream",
}

// ContextUserKey 鉴权中间件写入 gin.Context 的键
const ContextUserKey = "user"

// 题库题目在路由中的占位 examId
const BankExamID = "bank"
