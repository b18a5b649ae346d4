package controller

import (
	"mime/multipart"
	"school_exam_backend/internal/service"
	"school_exam_backend/internal/util"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// principal 从鉴权中间件写入的 Claims 构造调用者身份
func principal(ctx *gin.Context) (service.Principal, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return service.Principal{}, false
	}
	return service.Principal{ID: claims.UserID, Role: claims.Role}, true
}

func idParam(ctx *gin.Context, name string) (uint, bool) {
	id := util.MustParseUint(ctx.Param(name))
	if id == 0 {
		util.BadRequest(ctx, "无效的"+name)
		return 0, false
	}
	return id, true
}

// openUploads 打开表单文件并校验类型；返回的 closer 由调用方在请求结束时调用
func openUploads(headers []*multipart.FileHeader, questionID uint) ([]service.UploadFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, f)

		mimeType, err := util.ValidateMimeType(f, util.AllowedMediaTypes)
		if err != nil {
			closeAll()
			return nil, nil, util.Validationf("%s: %v", fh.Filename, err)
		}
		files = append(files, service.UploadFile{
			QuestionID:  questionID,
			FileName:    fh.Filename,
			Size:        fh.Size,
			ContentType: mimeType,
			Reader:      f,
		})
	}
	return files, closeAll, nil
}

// responseUploads 作答附件字段名为 files_<questionId>
func responseUploads(form *multipart.Form) ([]service.UploadFile, func(), error) {
	var all []service.UploadFile
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for field, headers := range form.File {
		if !strings.HasPrefix(field, "files_") {
			continue
		}
		qid, err := strconv.ParseUint(strings.TrimPrefix(field, "files_"), 10, 32)
		if err != nil || qid == 0 {
			closeAll()
			return nil, nil, util.Validationf("invalid file field %q", field)
		}
		files, closer, err := openUploads(headers, uint(qid))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, closer)
		all = append(all, files...)
	}
	return all, closeAll, nil
}
