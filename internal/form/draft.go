// Package form はフォーム入力の下書き（FormDraft）を扱う。
//
// Draft はフィールドごとの (値, エラー) の組を保持する値オブジェクトで、
// 更新はすべて新しい Draft を返す純粋なリデューサー関数で行う。
package form

import "github.com/hitoshi/postboard/internal/validation"

// Field はフィールド1つ分の値と検証エラー。
type Field struct {
	Value any
	Error string
}

// Draft はフォーム1つ分の下書き。ゼロ値は空のフォームとして使える。
type Draft struct {
	fields    map[string]Field
	formError string
}

// New は指定フィールドを空値で持つDraftを生成する。
func New(names ...string) Draft {
	d := Draft{fields: make(map[string]Field, len(names))}
	for _, n := range names {
		d.fields[n] = Field{}
	}
	return d
}

func (d Draft) clone() Draft {
	c := Draft{fields: make(map[string]Field, len(d.fields)), formError: d.formError}
	for k, v := range d.fields {
		c.fields[k] = v
	}
	return c
}

// With はフィールド値を更新する。
// 入力し直したフィールドのエラーとフォーム全体のエラーは消去する。
func (d Draft) With(name string, value any) Draft {
	c := d.clone()
	c.fields[name] = Field{Value: value}
	c.formError = ""
	return c
}

// WithErrors は検証エラーを反映する。エラーのないフィールドのエラーは消去する。
func (d Draft) WithErrors(errs map[string]string) Draft {
	c := d.clone()
	for name, f := range c.fields {
		f.Error = errs[name]
		c.fields[name] = f
	}
	for name, msg := range errs {
		if _, ok := c.fields[name]; !ok {
			c.fields[name] = Field{Error: msg}
		}
	}
	return c
}

// WithFormError はサーバーからのエラーなどフォーム全体のメッセージを設定する。
// 入力値は保持する。
func (d Draft) WithFormError(message string) Draft {
	c := d.clone()
	c.formError = message
	return c
}

// Clear は指定フィールドの値とエラーを消去する。
func (d Draft) Clear(names ...string) Draft {
	c := d.clone()
	for _, n := range names {
		c.fields[n] = Field{}
	}
	return c
}

// Reset は全フィールドを空に戻す。フィールド集合は維持する。
func (d Draft) Reset() Draft {
	c := Draft{fields: make(map[string]Field, len(d.fields))}
	for k := range d.fields {
		c.fields[k] = Field{}
	}
	return c
}

// Value はフィールド値を返す。
func (d Draft) Value(name string) any {
	return d.fields[name].Value
}

// String はフィールド値を文字列として返す。文字列以外は空文字列。
func (d Draft) String(name string) string {
	s, _ := d.fields[name].Value.(string)
	return s
}

// Error はフィールドの検証エラーを返す。
func (d Draft) Error(name string) string {
	return d.fields[name].Error
}

// Errors はエラーのあるフィールドのみをマップで返す。
func (d Draft) Errors() map[string]string {
	errs := map[string]string{}
	for name, f := range d.fields {
		if f.Error != "" {
			errs[name] = f.Error
		}
	}
	return errs
}

// FormError はフォーム全体のエラーを返す。
func (d Draft) FormError() string {
	return d.formError
}

// HasErrors はフィールドエラーまたはフォームエラーがあるかを返す。
func (d Draft) HasErrors() bool {
	return d.formError != "" || len(d.Errors()) > 0
}

// Values は検証に渡す入力マッピングを返す。
func (d Draft) Values() validation.Values {
	v := make(validation.Values, len(d.fields))
	for name, f := range d.fields {
		if f.Value != nil {
			v[name] = f.Value
		}
	}
	return v
}
