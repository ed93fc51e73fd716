package app

import (
	"fmt"
	"strings"
)

// Command はポータルゲートウェイの起動モードを表す。
type Command string

const (
	// CommandServe は端末ごとのセッションを保持するBFFサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は監査イベントの保持期間管理ジョブを実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はKV・監査テーブルのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを確認する。distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands はサポートするサブコマンドと説明。usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "run the portal gateway (default)"},
	{CommandWorker, "prune audit events past AUDIT_RETENTION_DAYS"},
	{CommandMigrate, "apply database migrations"},
	{CommandHealthcheck, "check /health on SERVER_PORT"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。未知のサブコマンドはエラーとする。
// 2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := strings.ToLower(strings.TrimSpace(args[0]))
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q\n%s", args[0], Usage())
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: civicportal [command]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
