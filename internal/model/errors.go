// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: validation, auth, network, pin, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位のバリデーションメッセージ
	Err      error             // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeAPIRejected      = "API_REJECTED"
	ErrCodeAPIUnavailable   = "API_UNAVAILABLE"
	ErrCodeSessionRequired  = "SESSION_REQUIRED"
	ErrCodePinUnavailable   = "PIN_UNAVAILABLE"
	ErrCodeInvalidPin       = "INVALID_PIN"
)

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryNetwork    = "network"
	CategoryPin        = "pin"
	CategorySystem     = "system"
)

// NewValidationError は入力バリデーションエラーを生成する。
// fieldsにはフィールド名ごとのメッセージを渡す。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Some fields are invalid.",
		Category: CategoryValidation,
		Action:   "Correct the highlighted fields and submit again.",
		Fields:   fields,
	}
}

// NewAuthFailedError は認証失敗エラーを生成する。
// messageが空の場合は汎用メッセージを使用する。
func NewAuthFailedError(message string) *APIError {
	if message == "" {
		message = "Invalid email or password."
	}
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Check your credentials and try again.",
	}
}

// NewAPIRejectedError は外部APIが操作を拒否した場合のエラーを生成する。
func NewAPIRejectedError(message string) *APIError {
	if message == "" {
		message = "The request was rejected."
	}
	return &APIError{
		Code:     ErrCodeAPIRejected,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Review the request and try again.",
	}
}

// NewAPIUnavailableError は外部APIに到達できない場合のエラーを生成する。
func NewAPIUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeAPIUnavailable,
		Message:  "The service is temporarily unavailable.",
		Category: CategoryNetwork,
		Action:   "Wait a moment and try again.",
		Err:      err,
	}
}

// NewSessionRequiredError はログインが必要な操作を未認証で呼び出した場合のエラーを生成する。
func NewSessionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionRequired,
		Message:  "You need to sign in first.",
		Category: CategoryAuth,
		Action:   "Sign in and try again.",
	}
}

// NewPinUnavailableError はピン留めが利用できない状態での操作エラーを生成する。
func NewPinUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodePinUnavailable,
		Message:  "Pinning is only available to signed-in members.",
		Category: CategoryPin,
		Action:   "Sign in with a member account to pin sections.",
	}
}

// NewInvalidPinError は不正なピン留め入力のエラーを生成する。
func NewInvalidPinError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPin,
		Message:  fmt.Sprintf("Invalid pinned tab: %s", reason),
		Category: CategoryValidation,
		Action:   "Specify a non-empty tab id.",
	}
}
