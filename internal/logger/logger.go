package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys は値をログに残してはならない属性名。
var redactedKeys = map[string]struct{}{
	"token":         {},
	"password":      {},
	"authorization": {},
}

// Setup はlevel以上のレコードをwへJSONで出力するslog.Loggerを生成する。
// 資格情報を表す属性の値は"[REDACTED]"に置き換える。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログをグローバルロガーとして設定し、レベルを変更するためのLevelVarを返す。
// 設定読み込み前はInfoで出力し、読み込み後にLOG_LEVELの値をSetする。
func SetupDefault(w io.Writer) *slog.LevelVar {
	if w == nil {
		w = os.Stdout
	}
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	slog.SetDefault(Setup(w, level))
	return level
}

// ParseLevel は"debug"、"info"、"warn"、"error"を大文字小文字を区別せずslog.Levelに変換する。
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
	return level, nil
}
