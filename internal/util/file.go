package util

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DetectMimeType 读取前 512 字节识别 MIME 类型，并将读取位置复位
func DetectMimeType(r io.ReadSeeker) (string, error) {
	buffer := make([]byte, 512)
	n, err := r.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

// ValidateMimeType allowedTypes 为 MIME 前缀或完整类型
func ValidateMimeType(r io.ReadSeeker, allowedTypes []string) (string, error) {
	mimeType, err := DetectMimeType(r)
	if err != nil {
		return "", err
	}

	for _, allowed := range allowedTypes {
		if strings.HasPrefix(mimeType, allowed) || mimeType == allowed {
			return mimeType, nil
		}
	}

	return mimeType, errors.New("invalid file type: " + mimeType)
}

// StoredName 生成 dir/<uuid><ext>，原始文件名只保留扩展名
func StoredName(dir, original string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if len(ext) > 10 {
		ext = ""
	}
	return dir + "/" + uuid.NewString() + ext
}

// SafeFileName 去除路径部分，用于记录原始文件名
func SafeFileName(original string) string {
	name := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if name == "." || name == "/" {
		return "file"
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}
