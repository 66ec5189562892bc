package library

import (
	"path/filepath"
	"testing"
)

func TestKeyIsRootRelativeAndSlashed(t *testing.T) {
	t.Parallel()
	root := filepath.Join("lib", "media")

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "top level", path: filepath.Join(root, "a.jpg"), want: "a.jpg"},
		{name: "nested", path: filepath.Join(root, "sub", "dir", "b.mp4"), want: "sub/dir/b.mp4"},
		{name: "dot segments", path: filepath.Join(root, "sub", "..", "c.png"), want: "c.png"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Key(root, tt.path)
			if err != nil {
				t.Fatalf("Key(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Fatalf("Key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyRejectsEscapes(t *testing.T) {
	t.Parallel()
	root := filepath.Join("lib", "media")
	if _, err := Key(root, filepath.Join("lib", "other", "a.jpg")); err == nil {
		t.Fatal("expected error for path outside root")
	}
	if _, err := Key(root, filepath.Join(root, "..", "a.jpg")); err == nil {
		t.Fatal("expected error for parent escape")
	}
}

func TestPathRoundTrip(t *testing.T) {
	t.Parallel()
	root := filepath.Join("lib", "media")
	p := Path(root, "sub/dir/b.mp4")
	key, err := Key(root, p)
	if err != nil {
		t.Fatalf("Key(Path()) error: %v", err)
	}
	if key != "sub/dir/b.mp4" {
		t.Fatalf("round trip = %q", key)
	}
}

func TestDistinctFilesNeverCollide(t *testing.T) {
	t.Parallel()
	root := "lib"
	a, err := Key(root, filepath.Join(root, "Photo.JPG"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Key(root, filepath.Join(root, "photo.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("case-distinct files collided")
	}
}
