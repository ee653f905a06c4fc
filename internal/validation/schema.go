package validation

// Field はフィールド名とルール列の組。ルールは宣言順に評価する。
type Field struct {
	Name  string
	Rules []Rule
}

// F はFieldを簡潔に宣言するためのヘルパー。
func F(name string, rules ...Rule) Field {
	return Field{Name: name, Rules: rules}
}

// Schema はフォーム1つ分のフィールド制約の集合。
type Schema struct {
	name   string
	fields []Field
}

// NewSchema はSchemaを生成する。nameはメトリクスやログでフォームを識別するために使う。
func NewSchema(name string, fields ...Field) *Schema {
	return &Schema{name: name, fields: fields}
}

// Name はフォーム名を返す。
func (s *Schema) Name() string {
	return s.name
}

// Result は検証結果。Errorsが空なら有効。
type Result struct {
	Errors map[string]string
}

// Valid は違反がないかを返す。
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Error は指定フィールドのエラーメッセージを返す。違反がなければ空文字列。
func (r Result) Error(field string) string {
	return r.Errors[field]
}

// Validate は全フィールドを独立に評価する。
// 空の値は required ルールがあればその違反として報告し、なければ任意入力として他のルールを評価しない。
func (s *Schema) Validate(values Values) Result {
	res := Result{Errors: map[string]string{}}

	for _, f := range s.fields {
		str, present := stringValue(values[f.Name])
		if !present {
			for _, rule := range f.Rules {
				if rule.required {
					res.Errors[f.Name] = rule.message
					break
				}
			}
			continue
		}

		for _, rule := range f.Rules {
			if rule.check == nil {
				continue
			}
			if !rule.check(str) {
				res.Errors[f.Name] = rule.message
				break
			}
		}
	}

	return res
}
