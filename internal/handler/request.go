// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// newValidator はエラーのフィールド名にJSONタグ名を使うvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeBody はリクエストボディをdstにデコードする。
// 失敗した場合はエラーレスポンスを書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// decodeJSON はリクエストボディをデコードし、validateタグで検証する。
func decodeJSON(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	if !decodeBody(w, r, dst) {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

// validationError はvalidatorのエラーを統一エラーフォーマットに変換する。
func validationError(err error) *model.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewValidationError(err.Error())
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return model.NewValidationError(strings.Join(fields, ", "))
}

// failedField は最初に検証に失敗したフィールドのJSON名とタグを返す。
func failedField(err error) (field, tag string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field(), verrs[0].Tag()
	}
	return "", ""
}
