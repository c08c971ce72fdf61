package cvc

import (
	"errors"
	"testing"
)

func TestNormalizeFeatureName(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "simple", raw: "x", want: "feature/x"},
		{name: "spaces and case", raw: "  Spring Campaign ", want: "feature/spring-campaign"},
		{name: "punctuation runs collapse", raw: "new -- hero!!image", want: "feature/new-hero-image"},
		{name: "existing prefix not doubled", raw: "feature/Copy Edit", want: "feature/copy-edit"},
		{name: "prefix case-insensitive", raw: "Feature/cta", want: "feature/cta"},
		{name: "unicode dropped", raw: "café menu", want: "feature/caf-menu"},
		{name: "digits kept", raw: "v2", want: "feature/v2"},
		{name: "only punctuation", raw: "!!!", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "prefix only", raw: "feature/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeFeatureName(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("NormalizeFeatureName(%q) error = %v, want ErrInvalidName", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeFeatureName(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeFeatureName(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeFeatureName_Truncates(t *testing.T) {
	raw := ""
	for i := 0; i < 40; i++ {
		raw += "ab "
	}
	got, err := NormalizeFeatureName(raw)
	if err != nil {
		t.Fatalf("NormalizeFeatureName() error = %v", err)
	}
	slug := got[len("feature/"):]
	if len(slug) > 64 {
		t.Errorf("slug length = %d, want <= 64", len(slug))
	}
	if slug[len(slug)-1] == '-' {
		t.Errorf("slug %q ends with a dash", slug)
	}
}

func TestNormalizeBranchName(t *testing.T) {
	for _, raw := range []string{"main", "MAIN", " main "} {
		got, err := NormalizeBranchName(raw)
		if err != nil {
			t.Fatalf("NormalizeBranchName(%q) error = %v", raw, err)
		}
		if got != "main" {
			t.Errorf("NormalizeBranchName(%q) = %q, want main", raw, got)
		}
	}

	got, err := NormalizeBranchName("My Idea")
	if err != nil {
		t.Fatalf("NormalizeBranchName() error = %v", err)
	}
	if got != "feature/my-idea" {
		t.Errorf("NormalizeBranchName() = %q, want feature/my-idea", got)
	}
}

func TestError_Is(t *testing.T) {
	err := NewError(ErrNameTaken, "branch %q exists", "feature/x")
	if !errors.Is(err, ErrNameTaken) {
		t.Error("errors.Is(err, ErrNameTaken) = false, want true")
	}
	if errors.Is(err, ErrInvalidName) {
		t.Error("errors.Is(err, ErrInvalidName) = true, want false")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf() = %v, want validation", KindOf(err))
	}

	wrapped := errors.Join(errors.New("outer"), WrapError(ErrHeadMoved, errors.New("cause"), "branch b1"))
	if !errors.Is(wrapped, ErrHeadMoved) {
		t.Error("errors.Is(wrapped, ErrHeadMoved) = false, want true")
	}
	if KindOf(wrapped) != KindConflict {
		t.Errorf("KindOf(wrapped) = %v, want conflict", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf(plain) should be unknown")
	}
}
