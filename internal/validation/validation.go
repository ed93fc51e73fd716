// Package validation はフォーム入力のクライアント側バリデーションを提供する。
// ネットワーク呼び出しの前に実行され、失敗時はフィールド単位のメッセージを含む
// model.APIError（カテゴリ validation）を返す。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/civicportal/internal/model"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// instance はJSONタグ名をフィールド名として使うvalidatorを返す。
func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Struct は構造体タグに基づいて入力を検証する。
// 問題がなければnilを返す。
func Struct(v any) *model.APIError {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewValidationError(map[string]string{"_": err.Error()})
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, exists := fields[fe.Field()]; exists {
			continue
		}
		fields[fe.Field()] = message(fe)
	}
	return model.NewValidationError(fields)
}

// Login は一般ユーザーのログイン入力を検証する。
func Login(c model.LoginCredentials) *model.APIError { return Struct(c) }

// AdminLogin は管理者のログイン入力を検証する。
func AdminLogin(c model.AdminCredentials) *model.APIError { return Struct(c) }

// Register は新規登録の入力を検証する。
func Register(d model.RegisterData) *model.APIError { return Struct(d) }

// ProfileUpdate はプロフィール更新の入力を検証する。
func ProfileUpdate(u model.ProfileUpdate) *model.APIError { return Struct(u) }

// PasswordChange はパスワード変更の入力を検証する。
func PasswordChange(c model.PasswordChange) *model.APIError { return Struct(c) }

func message(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s may only contain letters and digits", field)
	case "nefield":
		return fmt.Sprintf("%s must differ from the current password", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
