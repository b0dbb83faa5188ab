package app

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandHelp        Command = "help"
)

// commands はサブコマンドと説明の一覧。Usageの表示順を兼ねる。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "モデレーションAPIサーバーを起動する（既定）"},
	{CommandWorker, "ブロックリスト同期とセッション掃除のワーカーを起動する"},
	{CommandMigrate, "未適用のデータベースマイグレーションを適用する"},
	{CommandHealthcheck, "ローカルAPIの /health を確認する（コンテナ用）"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空、または未知のコマンドの場合はCommandServeを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	name := args[0]
	if name == "-h" || name == "--help" {
		return CommandHelp
	}
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンド一覧をwに書き出す。
func Usage(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "usage: tradeguard <command>")
	fmt.Fprintln(tw)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.cmd, c.summary)
	}
	return tw.Flush()
}
