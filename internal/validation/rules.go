// Package validation はフォーム入力の宣言的な検証ルールを提供する。
//
// 検証は純粋・同期的でI/Oを行わない。フィールドごとに独立して評価し、
// 違反したすべてのフィールドについて最初に違反したルールのメッセージを返す。
package validation

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/postboard/internal/model"
)

// Values はフィールド名 → 生の入力値のマッピング。
// 値は string または *model.Upload を想定する。
type Values map[string]any

// Rule はフィールドに対する1つの制約。
type Rule struct {
	required bool
	message  string
	check    func(s string) bool
}

// Message はルール違反時のメッセージを返す。
func (r Rule) Message() string {
	return r.message
}

// Required は値が存在し空でないことを要求する。
// 入力マッピングに存在しないフィールドは空として扱う。
func Required(message string) Rule {
	return Rule{required: true, message: message}
}

// MinLen は文字数（rune数）の下限を指定する。
func MinLen(n int, message string) Rule {
	return Rule{message: message, check: func(s string) bool {
		return utf8.RuneCountInString(s) >= n
	}}
}

// MaxLen は文字数（rune数）の上限を指定する。
func MaxLen(n int, message string) Rule {
	return Rule{message: message, check: func(s string) bool {
		return utf8.RuneCountInString(s) <= n
	}}
}

// Pattern は値全体が正規表現に一致することを要求する。
func Pattern(re *regexp.Regexp, message string) Rule {
	return Rule{message: message, check: re.MatchString}
}

// Email はメールアドレスの形式を要求する。
// TLDの許可リストは持たず、ドメイン部は2セグメント以上を必要とする。
func Email(message string) Rule {
	return Rule{message: message, check: isEmail}
}

// Func は正規表現で表現できない制約を関数で指定する。
func Func(fn func(s string) bool, message string) Rule {
	return Rule{message: message, check: fn}
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return false
	}
	labels := strings.Split(s[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}

// stringValue は値を文字列として取り出す。ファイルは存在すればファイル名を返す。
// 2つ目の戻り値は値が「空でない」かどうか。
func stringValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case *model.Upload:
		if !val.Present() {
			return "", false
		}
		return val.Filename, true
	case model.Upload:
		return stringValue(&val)
	default:
		return "", false
	}
}
