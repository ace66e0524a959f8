// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, dashboard, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountExists      = "ACCOUNT_EXISTS"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeMentorNotFound     = "MENTOR_NOT_FOUND"
	ErrCodeCourseNotFound     = "COURSE_NOT_FOUND"
	ErrCodeFederatedDisabled  = "FEDERATED_SIGNIN_DISABLED"
	ErrCodeUploadUnavailable  = "UPLOAD_UNAVAILABLE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeCSRFFailed         = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewAccountExistsError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewAccountExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しい形式のメールアドレスを入力してください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", detail),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "メンターアカウントでログインしてください。",
	}
}

// NewMentorNotFoundError はメンター未検出エラーを生成する。
func NewMentorNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeMentorNotFound,
		Message:  fmt.Sprintf("指定されたメンターが見つかりません: %s", slug),
		Category: "catalog",
		Action:   "メンター一覧から選択し直してください。",
	}
}

// NewCourseNotFoundError はコース未検出エラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定されたコースが見つかりません: %s", courseID),
		Category: "dashboard",
		Action:   "コースIDを確認してください。",
	}
}

// NewFederatedDisabledError は外部IdPログインが無効な場合のエラーを生成する。
func NewFederatedDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeFederatedDisabled,
		Message:  "Googleログインは現在利用できません。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewUploadUnavailableError は画像アップロード先が未設定の場合のエラーを生成する。
func NewUploadUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadUnavailable,
		Message:  "画像アップロードは現在利用できません。",
		Category: "dashboard",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
