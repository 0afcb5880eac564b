package publish

import (
	"os"
	"path/filepath"
	"testing"
)

func TestImageContentTypeTableCoversCommonFormats(t *testing.T) {
	for ext, want := range map[string]string{".jpg": "image/jpeg", ".png": "image/png", ".webp": "image/webp"} {
		if got := imageContentTypes[ext]; got != want {
			t.Errorf("imageContentTypes[%q] = %q, want %q", ext, got, want)
		}
	}
}

func TestPublishVideoFailsOnMissingFile(t *testing.T) {
	p := New(nil)
	_, err := p.publishVideoAtMode(nil, "token", filepath.Join(os.TempDir(), "does-not-exist.mp4"), "caption", "draft")
	if err == nil {
		t.Fatal("expected error for missing video file")
	}
}

func TestTryPublishPhotoOrCarouselNoImagesIsNoop(t *testing.T) {
	p := New(nil)
	result, ok, err := p.TryPublishPhotoOrCarousel(nil, "token", nil, "caption", "draft")
	if err != nil || ok || result.PostID != "" {
		t.Fatalf("expected no-op result, got %+v ok=%v err=%v", result, ok, err)
	}
}
