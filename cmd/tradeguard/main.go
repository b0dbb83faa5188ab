// Command tradeguard はマーケットプレイスの信頼・安全性サービスを起動する。
//
// サブコマンド:
//
//	serve        APIサーバー（既定）
//	worker       ブロックリストフィード同期とセッションクリーンアップ
//	migrate      データベースマイグレーション
//	healthcheck  /health への疎通確認（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tradeguard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tradeguard: %v\n", err)
		os.Exit(1)
	}
}
