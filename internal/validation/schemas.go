package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// フォームのフィールド名
const (
	FieldName        = "name"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldImage       = "image"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldText        = "text"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s]+$`)

const passwordSpecials = "@$!%*?&"

func emailField() Field {
	return F(FieldEmail,
		Required("Email is required."),
		Email("Email must be a valid email address."),
	)
}

// LoginSchema はログインフォームの制約。
func LoginSchema() *Schema {
	return NewSchema("login",
		emailField(),
		F(FieldPassword, Required("Password is required.")),
	)
}

// SignUpSchema はサインアップフォームの制約。
func SignUpSchema() *Schema {
	return NewSchema("signup",
		F(FieldName,
			Required("Name is required."),
			Pattern(namePattern, "Name must only contain alphabetic characters and spaces."),
		),
		emailField(),
		F(FieldPassword,
			Required("Password is required."),
			MinLen(8, "Password must be at least 8 characters long."),
			Func(strongPassword, "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character(@$!%*?)."),
		),
		F(FieldImage, Required("Profile picture is required.")),
	)
}

// PostSchema は投稿の作成・編集フォームの制約。画像は任意。
func PostSchema() *Schema {
	return NewSchema("post",
		F(FieldTitle,
			Required("Title cannot be empty"),
			MinLen(3, "Title should have a minimum length of 3 characters"),
			MaxLen(100, "Title should have a maximum length of 100 characters"),
		),
		F(FieldDescription,
			Required("Description cannot be empty"),
			MinLen(10, "Description should have a minimum length of 10 characters"),
			MaxLen(500, "Description should have a maximum length of 500 characters"),
		),
		F(FieldImage),
	)
}

// CommentSchema はコメントフォームの制約。空白のみのコメントは送信しない。
func CommentSchema() *Schema {
	return NewSchema("comment",
		F(FieldText,
			Required("Comment cannot be empty"),
			Func(func(s string) bool { return strings.TrimSpace(s) != "" }, "Comment cannot be empty"),
		),
	)
}

// strongPassword は 8〜128文字、英小文字・英大文字・数字・記号(@$!%*?&)を各1文字以上含み、
// それ以外の文字を含まないことを検証する。
func strongPassword(s string) bool {
	if len(s) < 8 || len(s) > 128 {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
			return false
		case 'a' <= r && r <= 'z':
			lower = true
		case 'A' <= r && r <= 'Z':
			upper = true
		case '0' <= r && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return lower && upper && digit && special
}
