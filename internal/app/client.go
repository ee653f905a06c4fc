package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/session"
	"github.com/hitoshi/postboard/internal/validation"
)

var (
	errInvalidInput = errors.New("some fields are invalid")
	errNotLoggedIn  = errors.New("not logged in: run `postboard login` first")
)

// clientEnv はCLIの1回のコマンド実行で使う依存関係。
// ログイン状態はSESSION_FILEに保存され、コマンド間で引き継がれる。
type clientEnv struct {
	api       *gateway.Client
	store     *session.Store
	sanitizer *security.PostSanitizer
	logger    *slog.Logger
	out       io.Writer
	errOut    io.Writer
}

func (a *application) newClientEnv(cmd *cobra.Command) (*clientEnv, error) {
	guard := security.NewEgressGuard()
	httpClient, err := newAPIHTTPClient(a.cfg, guard)
	if err != nil {
		return nil, err
	}

	log := slog.Default()
	store := session.NewStore(session.NewFilePersister(a.cfg.SessionFile), log)
	if err := store.Restore(cmd.Context()); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	return &clientEnv{
		api:       gateway.NewClient(httpClient, a.cfg.APIBaseURL, log, nil),
		store:     store,
		sanitizer: security.NewPostSanitizer(guard),
		logger:    log,
		out:       cmd.OutOrStdout(),
		errOut:    cmd.ErrOrStderr(),
	}, nil
}

func (e *clientEnv) deps() controller.Deps {
	return controller.Deps{
		API:      e.api,
		Store:    e.store,
		Notifier: controller.NotifierFunc(e.printNotice),
		Logger:   e.logger,
	}
}

// printNotice は通知を標準エラーに出力する。
func (e *clientEnv) printNotice(n controller.Notice) {
	fmt.Fprintf(e.errOut, "[%s] %s\n", n.Level, n.Message)
}

// finish は操作結果をコマンドの終了ステータスに変換する。
// 通知で表示済みの内容は繰り返さない。
func (e *clientEnv) finish(res controller.Result) error {
	switch res.Status {
	case controller.StatusSucceeded:
		return nil
	case controller.StatusInvalid:
		printFieldErrors(e.errOut, res.Err)
		return errInvalidInput
	case controller.StatusIgnored, controller.StatusDropped:
		return fmt.Errorf("request was not completed (%s)", res.Status)
	}

	if res.Redirect == controller.RouteLogin && res.Err != nil && res.Err.Category == model.CategoryAuth {
		return errNotLoggedIn
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New("request failed")
}

func (e *clientEnv) requireLogin() error {
	if !e.store.LoggedIn() {
		return errNotLoggedIn
	}
	return nil
}

func printFieldErrors(w io.Writer, err *model.APIError) {
	if err == nil {
		return
	}
	names := make([]string, 0, len(err.Fields))
	for name := range err.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %s\n", name, err.Fields[name])
	}
}

// printPosts は投稿一覧を人間向けの書式で出力する。
func (e *clientEnv) printPosts(posts []*model.Post) {
	user := e.store.User()
	for _, p := range e.sanitizer.Posts(posts) {
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(e.out, "%s  %s  by %s\n", p.ID, title, p.Author.Name)
		if p.Description != "" {
			fmt.Fprintf(e.out, "    %s\n", strings.ReplaceAll(p.Description, "\n", "\n    "))
		}
		if p.Image != "" {
			fmt.Fprintf(e.out, "    image: %s\n", p.Image)
		}
		fmt.Fprintf(e.out, "    %s, %s [%s]\n",
			controller.LikesCount(p), controller.CommentsCount(p), controller.LikeLabel(p, user))
		for _, c := range p.Comments {
			fmt.Fprintf(e.out, "      %s: %s\n", c.Author.Name, e.sanitizer.Text(c.Text))
		}
	}
}

// readUpload はファイルを読み込みアップロード用に変換する。pathが空ならnil。
func readUpload(path string) (*model.Upload, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &model.Upload{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

// clientCommands はリモートAPIを操作するサブコマンドを返す。
func (a *application) clientCommands() []*cobra.Command {
	return []*cobra.Command{
		a.loginCommand(),
		a.signUpCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.feedCommand(),
		a.postCommand(),
		a.likeCommand(),
		a.commentCommand(),
		a.profileCommand(),
		a.editCommand(),
		a.deleteCommand(),
	}
}

func (a *application) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewLogin(env.deps())
			defer c.Close()

			c.SetField(validation.FieldEmail, email)
			c.SetField(validation.FieldPassword, password)
			if err := env.finish(c.Submit(cmd.Context())); err != nil {
				return err
			}
			fmt.Fprintln(env.out, controller.Greeting(env.store.User()))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email address")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (a *application) signUpCommand() *cobra.Command {
	var name, email, password, image string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Long: `Create an account with a profile picture.

The session is not saved; run "postboard login" afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			upload, err := readUpload(image)
			if err != nil {
				return err
			}
			c := controller.NewSignUp(env.deps())
			defer c.Close()

			c.SetField(validation.FieldName, name)
			c.SetField(validation.FieldEmail, email)
			c.SetField(validation.FieldPassword, password)
			c.SetImage(upload)
			return env.finish(c.Submit(cmd.Context()))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email address")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&image, "image", "", "path of the profile picture")
	return cmd
}

func (a *application) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			res := controller.Logout(cmd.Context(), env.store, controller.NotifierFunc(env.printNotice))
			if !res.OK() {
				return res.Err
			}
			fmt.Fprintln(env.out, "Logged out.")
			return nil
		},
	}
}

func (a *application) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			if err := env.requireLogin(); err != nil {
				return err
			}
			u := env.store.User()
			fmt.Fprintf(env.out, "%s <%s> (%s)\n", env.sanitizer.Text(u.Name), u.Email, u.ID)
			return nil
		},
	}
}

func (a *application) feedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Show posts from everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewFeed(env.deps())
			defer c.Close()

			if err := env.finish(c.Load(cmd.Context())); err != nil {
				return err
			}
			env.printPosts(c.Posts())
			return nil
		},
	}
}

func (a *application) postCommand() *cobra.Command {
	var title, description, image string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Create a post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			upload, err := readUpload(image)
			if err != nil {
				return err
			}
			c := controller.NewFeed(env.deps())
			defer c.Close()

			c.SetPostField(validation.FieldTitle, title)
			c.SetPostField(validation.FieldDescription, description)
			c.SetPostImage(upload)
			if err := env.finish(c.SubmitPost(cmd.Context())); err != nil {
				return err
			}
			env.printPosts(c.Posts())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "post title")
	cmd.Flags().StringVar(&description, "description", "", "post body")
	cmd.Flags().StringVar(&image, "image", "", "path of an image to attach")
	return cmd
}

func (a *application) likeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <post-id>",
		Short: "Like or unlike a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewFeed(env.deps())
			defer c.Close()

			if err := env.finish(c.Load(cmd.Context())); err != nil {
				return err
			}
			if err := env.finish(c.Like(cmd.Context(), args[0])); err != nil {
				return err
			}
			if p, ok := c.Post(args[0]); ok {
				env.printPosts([]*model.Post{p})
			}
			return nil
		},
	}
}

func (a *application) commentCommand() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <post-id>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewFeed(env.deps())
			defer c.Close()

			if err := env.finish(c.Load(cmd.Context())); err != nil {
				return err
			}
			if !c.OpenComments(args[0]) {
				return fmt.Errorf("post %s not found", args[0])
			}
			c.SetCommentText(text)
			if err := env.finish(c.SubmitComment(cmd.Context())); err != nil {
				return err
			}
			if p, ok := c.Post(args[0]); ok {
				env.printPosts([]*model.Post{p})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	return cmd
}

func (a *application) profileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show your own posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewProfile(env.deps())
			defer c.Close()

			res := c.Load(cmd.Context())
			if res.Redirect == controller.RouteLogin {
				return env.finish(res)
			}
			if msg := c.LoadError(); msg != "" {
				return errors.New(msg)
			}
			if err := env.finish(res); err != nil {
				return err
			}
			if msg := c.EmptyMessage(); msg != "" {
				fmt.Fprintln(env.out, msg)
				return nil
			}
			env.printPosts(c.Posts())
			return nil
		},
	}
}

func (a *application) editCommand() *cobra.Command {
	var title, description, image string
	cmd := &cobra.Command{
		Use:   "edit <post-id>",
		Short: "Edit one of your posts",
		Long: `Edit one of your posts.

Only the given flags change; other fields keep their current values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			upload, err := readUpload(image)
			if err != nil {
				return err
			}
			c := controller.NewProfile(env.deps())
			defer c.Close()

			if err := env.finish(c.Load(cmd.Context())); err != nil {
				return err
			}
			if !c.BeginEdit(args[0]) {
				return fmt.Errorf("post %s not found in your posts", args[0])
			}
			if cmd.Flags().Changed("title") {
				c.SetEditField(validation.FieldTitle, title)
			}
			if cmd.Flags().Changed("description") {
				c.SetEditField(validation.FieldDescription, description)
			}
			if upload != nil {
				c.SetEditImage(upload)
			}
			if err := env.finish(c.SubmitEdit(cmd.Context())); err != nil {
				return err
			}
			env.printPosts(c.Posts())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new body")
	cmd.Flags().StringVar(&image, "image", "", "path of a replacement image")
	return cmd
}

func (a *application) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newClientEnv(cmd)
			if err != nil {
				return err
			}
			c := controller.NewProfile(env.deps())
			defer c.Close()

			return env.finish(c.Delete(cmd.Context(), args[0]))
		},
	}
}
