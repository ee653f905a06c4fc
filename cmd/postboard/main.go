// Command postboard は投稿APIのクライアント（CLI）とBFFサーバーを提供する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/postboard/internal/app"
)

func main() {
	// 標準出力はコマンドの結果に使うため、ログは標準エラーへ出す
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
