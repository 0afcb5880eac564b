package media

import "testing"

func TestBuildCaptionUsesSourceCaptionWhenPresent(t *testing.T) {
	got := BuildCaption("my caption", "ignored text", "From TG: {text}", "", 2200)
	if got != "my caption" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCaptionFallsBackToTemplate(t *testing.T) {
	got := BuildCaption("", "hello world", "From TG: {text}", "", 2200)
	if got != "From TG: hello world" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCaptionAppendsHashtags(t *testing.T) {
	got := BuildCaption("caption", "", "From TG: {text}", "#foo #bar", 2200)
	if got != "caption\n\n#foo #bar" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCaptionEmptyCaptionUsesTemplateThenHashtags(t *testing.T) {
	got := BuildCaption("", "", "From TG: {text}", "#foo", 2200)
	if got != "From TG: \n\n#foo" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCaptionTruncatesToMaxLength(t *testing.T) {
	got := BuildCaption("this is a long caption that should be cut", "", "{text}", "", 10)
	if len(got) > 10 {
		t.Fatalf("caption length %d exceeds max 10: %q", len(got), got)
	}
	if got != "this is a" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCaptionTruncationStripsTrailingWhitespace(t *testing.T) {
	got := BuildCaption("abcde fghij", "", "{text}", "", 6)
	if got != "abcde" {
		t.Errorf("got %q, want trailing space stripped", got)
	}
}
