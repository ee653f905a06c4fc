package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hitoshi/postboard/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はBFFサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// globalFlags はすべてのサブコマンドで共通のフラグ。
// 指定された値は環境変数より優先する。
type globalFlags struct {
	apiURL      string
	sessionFile string
	logLevel    string
}

// application はコマンド実行中に共有する状態を保持する。
type application struct {
	logOut io.Writer
	flags  globalFlags
	cfg    *config.Config
}

// NewRootCommand はpostboardのコマンドツリーを構築する。
// logOutは構造化ログの出力先。コマンドの出力はcmd.OutOrStdout()に書く。
// サブコマンドを省略した場合はserveとして起動する。
func NewRootCommand(logOut io.Writer) *cobra.Command {
	a := &application{logOut: logOut}

	root := &cobra.Command{
		Use:   "postboard",
		Short: "Postboard - social posting client",
		Long: `Postboard is a client for the posts API.

Use it from the terminal to log in, read the feed, post, like and comment,
or run it as a backend-for-frontend server that keeps one view per browser
session.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.apiURL, "api-url", "", "remote API base URL (overrides API_BASE_URL)")
	root.PersistentFlags().StringVar(&a.flags.sessionFile, "session-file", "", "path of the saved login session (overrides SESSION_FILE)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(a.serverCommands()...)
	root.AddCommand(a.clientCommands()...)
	return root
}

// init は設定を読み込み、フラグで上書きしてからロガーを初期化する。
func (a *application) init(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := a.flags.apply(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	setupLogger(a.logOut, cfg.LogLevel)
	return nil
}

func (f globalFlags) apply(cfg *config.Config) error {
	if f.apiURL != "" {
		cfg.APIBaseURL = f.apiURL
	}
	if f.sessionFile != "" {
		cfg.SessionFile = f.sessionFile
	}
	if f.logLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", f.logLevel, err)
		}
		cfg.LogLevel = level
	}
	return nil
}

// serverCommands はBFFの運用系サブコマンドを返す。
func (a *application) serverCommands() []*cobra.Command {
	serveCmd := &cobra.Command{
		Use:   string(CommandServe),
		Short: "Run the BFF HTTP server",
		Long: `Run the backend-for-frontend HTTP server.

Requires DATABASE_URL. Also runs the web session cleanup loop in the
background. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg)
		},
	}

	workerCmd := &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the web session cleanup worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), a.cfg)
		},
	}

	var migrateOpts migrateOptions
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations.

With --down N, roll back the last N migrations instead.
With --version, print the current schema version and exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(a.cfg, cmd.OutOrStdout(), migrateOpts)
		},
	}
	migrateCmd.Flags().IntVar(&migrateOpts.down, "down", 0, "roll back this many migrations")
	migrateCmd.Flags().BoolVar(&migrateOpts.showVersion, "version", false, "print the current schema version")
	migrateCmd.MarkFlagsMutuallyExclusive("down", "version")

	healthcheckCmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), a.cfg.ServerPort)
		},
	}

	return []*cobra.Command{serveCmd, workerCmd, migrateCmd, healthcheckCmd}
}
