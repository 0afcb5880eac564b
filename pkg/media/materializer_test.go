package media

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/tg2tok/clipbridge/pkg/sourceclient"
	"github.com/tg2tok/clipbridge/pkg/store"
)

type fakeSourceClient struct {
	files     map[string]sourceclient.FileInfo
	payloads  map[string][]byte
	downloads int
}

func (f *fakeSourceClient) GetUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
	return nil, nil
}

func (f *fakeSourceClient) GetFile(ctx context.Context, fileID string) (sourceclient.FileInfo, error) {
	info, ok := f.files[fileID]
	if !ok {
		return sourceclient.FileInfo{}, errors.New("unknown handle")
	}
	return info, nil
}

func (f *fakeSourceClient) Download(ctx context.Context, filePath string) ([]byte, error) {
	f.downloads++
	payload, ok := f.payloads[filePath]
	if !ok {
		return nil, errors.New("no payload")
	}
	return payload, nil
}

func (f *fakeSourceClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMaterializerDownloadsEachHandle(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateContentItem(store.KindPhoto, 1, 1, "", "", "", []string{"h1", "h2"}, nil)
	if err != nil {
		t.Fatalf("CreateContentItem: %v", err)
	}

	src := &fakeSourceClient{
		files: map[string]sourceclient.FileInfo{
			"h1": {FileID: "h1", FilePath: "photos/1.jpg"},
			"h2": {FileID: "h2", FilePath: "photos/2.jpg"},
		},
		payloads: map[string][]byte{
			"photos/1.jpg": []byte("fake-jpeg-1"),
			"photos/2.jpg": []byte("fake-jpeg-2"),
		},
	}

	m := NewMaterializer(src, s, t.TempDir())
	paths, err := m.Ensure(context.Background(), item)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if filepath.Ext(paths[0]) != ".jpg" {
		t.Errorf("expected .jpg extension, got %q", paths[0])
	}
}

func TestMaterializerSkipsFailedHandles(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateContentItem(store.KindPhoto, 1, 1, "", "", "", []string{"good", "bad"}, nil)
	if err != nil {
		t.Fatalf("CreateContentItem: %v", err)
	}

	src := &fakeSourceClient{
		files: map[string]sourceclient.FileInfo{
			"good": {FileID: "good", FilePath: "photos/1.jpg"},
		},
		payloads: map[string][]byte{"photos/1.jpg": []byte("ok")},
	}

	m := NewMaterializer(src, s, t.TempDir())
	paths, err := m.Ensure(context.Background(), item)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 surviving path, got %d", len(paths))
	}
}

func TestMaterializerFailsWhenNoFileObtained(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateContentItem(store.KindPhoto, 1, 1, "", "", "", []string{"bad"}, nil)
	if err != nil {
		t.Fatalf("CreateContentItem: %v", err)
	}

	m := NewMaterializer(&fakeSourceClient{}, s, t.TempDir())
	if _, err := m.Ensure(context.Background(), item); !errors.Is(err, ErrNoFilesMaterialized) {
		t.Fatalf("expected ErrNoFilesMaterialized, got %v", err)
	}
}

func TestMaterializerIsIdempotentWhenAlreadyPresent(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateContentItem(store.KindPhoto, 1, 1, "", "", "", []string{"h1"}, nil)
	if err != nil {
		t.Fatalf("CreateContentItem: %v", err)
	}

	src := &fakeSourceClient{
		files:    map[string]sourceclient.FileInfo{"h1": {FileID: "h1", FilePath: "photos/1.jpg"}},
		payloads: map[string][]byte{"photos/1.jpg": []byte("ok")},
	}
	m := NewMaterializer(src, s, t.TempDir())

	if _, err := m.Ensure(context.Background(), item); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if src.downloads != 1 {
		t.Fatalf("expected 1 download, got %d", src.downloads)
	}

	item, err = s.GetContentItem(item.ID)
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if _, err := m.Ensure(context.Background(), item); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if src.downloads != 1 {
		t.Fatalf("expected no additional downloads on re-invocation, got %d", src.downloads)
	}
}
