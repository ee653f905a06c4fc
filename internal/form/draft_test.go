package form

import (
	"testing"

	"github.com/hitoshi/postboard/internal/validation"
)

func TestDraft_With_DoesNotMutateOriginal(t *testing.T) {
	d := New("email", "password")
	d2 := d.With("email", "a@b.com")

	if d.String("email") != "" {
		t.Errorf("元のDraftが変更された: %q", d.String("email"))
	}
	if d2.String("email") != "a@b.com" {
		t.Errorf("email = %q, want %q", d2.String("email"), "a@b.com")
	}
}

func TestDraft_With_ClearsFieldAndFormError(t *testing.T) {
	d := New("email", "password").
		WithErrors(map[string]string{"email": "Email is required.", "password": "Password is required."}).
		WithFormError("Login failed")

	d = d.With("email", "a@b.com")

	if d.Error("email") != "" {
		t.Errorf("入力し直したフィールドのエラーが残っている: %q", d.Error("email"))
	}
	if d.Error("password") != "Password is required." {
		t.Errorf("他フィールドのエラーは残るべき: %q", d.Error("password"))
	}
	if d.FormError() != "" {
		t.Errorf("フォームエラーが残っている: %q", d.FormError())
	}
}

func TestDraft_WithFormError_PreservesValues(t *testing.T) {
	d := New("email", "password").With("email", "a@b.com").With("password", "secret1")
	d = d.WithFormError("Invalid credentials")

	if d.String("email") != "a@b.com" || d.String("password") != "secret1" {
		t.Errorf("入力値が保持されていない: email=%q password=%q", d.String("email"), d.String("password"))
	}
	if d.FormError() != "Invalid credentials" {
		t.Errorf("FormError = %q", d.FormError())
	}
	if !d.HasErrors() {
		t.Error("HasErrors は true であるべき")
	}
}

func TestDraft_ClearAndReset(t *testing.T) {
	d := New("email", "password").With("email", "a@b.com").With("password", "secret1")

	cleared := d.Clear("password")
	if cleared.String("password") != "" || cleared.String("email") != "a@b.com" {
		t.Errorf("Clear の結果が不正: %+v", cleared.Values())
	}

	reset := d.Reset()
	if len(reset.Values()) != 0 {
		t.Errorf("Reset 後に値が残っている: %v", reset.Values())
	}
}

func TestDraft_Values_FeedsValidation(t *testing.T) {
	d := New("email", "password").With("email", "a@b.com")

	res := validation.LoginSchema().Validate(d.Values())
	if res.Error("password") != "Password is required." {
		t.Errorf("password エラー = %q", res.Error("password"))
	}

	d = d.WithErrors(res.Errors)
	if d.Error("password") == "" {
		t.Error("検証エラーがDraftに反映されていない")
	}
	if d.Error("email") != "" {
		t.Errorf("email にエラーがあってはならない: %q", d.Error("email"))
	}
}

func TestDraft_ZeroValueIsUsable(t *testing.T) {
	var d Draft
	d = d.With("text", "hello")
	if d.String("text") != "hello" {
		t.Errorf("text = %q", d.String("text"))
	}
}
