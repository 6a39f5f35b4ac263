package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/cover-studio/pkg/store"
)

func openTestBucket(t *testing.T) *Bucket {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "covers.db"), "http://localhost:8081/covers/")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func names(entries []store.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestUploadAndGet(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()

	if err := b.Upload(ctx, "album_1.webp", []byte("data"), store.UploadOptions{ContentType: "image/webp"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	obj, err := b.Get(ctx, "album_1.webp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(obj.Data) != "data" || obj.ContentType != "image/webp" {
		t.Errorf("Unexpected object %+v", obj)
	}

	if _, err := b.Get(ctx, "missing.webp"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUploadNeverOverwrites(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()

	if err := b.Upload(ctx, "a.png", []byte("one"), store.UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	err := b.Upload(ctx, "a.png", []byte("two"), store.UploadOptions{})
	if !errors.Is(err, store.ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}
	obj, _ := b.Get(ctx, "a.png")
	if string(obj.Data) != "one" {
		t.Errorf("Object was overwritten: %q", obj.Data)
	}

	if err := b.Upload(ctx, "a.png", []byte("three"), store.UploadOptions{Upsert: true}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	obj, _ = b.Get(ctx, "a.png")
	if string(obj.Data) != "three" {
		t.Errorf("Expected upsert to replace data, got %q", obj.Data)
	}
}

func TestUploadRejectsPlaceholder(t *testing.T) {
	b := openTestBucket(t)
	if err := b.Upload(context.Background(), "folder/", []byte("x"), store.UploadOptions{}); err == nil {
		t.Error("Expected error for folder name")
	}
}

func TestListNewestFirstPaged(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	tick := 0
	b.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 5; i++ {
		if err := b.Upload(ctx, fmt.Sprintf("album_%d.webp", i), []byte{byte(i)}, store.UploadOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := b.List(ctx, "", store.ListOptions{Limit: 2, Offset: 0, SortBy: store.NewestFirst})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if diff := cmp.Diff([]string{"album_4.webp", "album_3.webp"}, names(page)); diff != "" {
		t.Errorf("First page mismatch (-want +got):\n%s", diff)
	}

	page, err = b.List(ctx, "", store.ListOptions{Limit: 2, Offset: 4, SortBy: store.NewestFirst})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"album_0.webp"}, names(page)); diff != "" {
		t.Errorf("Last page mismatch (-want +got):\n%s", diff)
	}
	if page[0].Size != 1 || !page[0].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("Unexpected entry %+v", page[0])
	}
}

func TestListSameInstantKeepsOrder(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()
	fixed := time.Unix(1700000000, 0)
	b.now = func() time.Time { return fixed }

	for _, n := range []string{"b.png", "a.png", "c.png"} {
		if err := b.Upload(ctx, n, []byte("x"), store.UploadOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := b.List(ctx, "", store.ListOptions{SortBy: store.NewestFirst})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"c.png", "a.png", "b.png"}, names(page)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestListFolder(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()
	for _, n := range []string{"covers/album_1.webp", "drafts/album_1.webp", "covers/album_2.webp", "covers_old.webp"} {
		if err := b.Upload(ctx, n, []byte("x"), store.UploadOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	for _, folder := range []string{"covers", "covers/", "/covers"} {
		page, err := b.List(ctx, folder, store.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"album_1.webp", "album_2.webp"}, names(page)); diff != "" {
			t.Errorf("%q: folder mismatch (-want +got):\n%s", folder, diff)
		}
	}
}

func TestPublicURLAndServe(t *testing.T) {
	b := openTestBucket(t)
	ctx := context.Background()
	if err := b.Upload(ctx, "album_7.png", []byte("pngdata"), store.UploadOptions{ContentType: "image/png"}); err != nil {
		t.Fatal(err)
	}

	if got := b.PublicURL("album_7.png"); got != "http://localhost:8081/covers/album_7.png" {
		t.Errorf("Unexpected public URL %s", got)
	}

	srv := httptest.NewServer(http.StripPrefix("/covers", b))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/covers/album_7.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "pngdata" {
		t.Errorf("Expected 200 pngdata, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("Unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	missing, err := http.Get(srv.URL + "/covers/nope.png")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", missing.StatusCode)
	}
}

func TestServeFolderObject(t *testing.T) {
	b := openTestBucket(t)
	if err := b.Upload(context.Background(), "covers/album 8.png", []byte("nested"), store.UploadOptions{ContentType: "image/png"}); err != nil {
		t.Fatal(err)
	}
	want := "http://localhost:8081/covers/covers/album%208.png"
	if got := b.PublicURL("covers/album 8.png"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	srv := httptest.NewServer(http.StripPrefix("/covers", b))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/covers/covers/album%208.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "nested" {
		t.Errorf("Expected 200 nested, got %d %q", resp.StatusCode, body)
	}
}

func TestReopenKeepsObjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covers.db")
	b, err := Open(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Upload(context.Background(), "keep.png", []byte("x"), store.UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b, err = Open(path, "")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, err := b.Get(context.Background(), "keep.png"); err != nil {
		t.Errorf("Expected object after reopen, got %v", err)
	}
}
