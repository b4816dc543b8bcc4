package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDispatchUnregistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewFileOpTool(t.TempDir()))

	_, err := reg.Dispatch(context.Background(), "teleport", map[string]any{})
	if err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
	if !strings.Contains(err.Error(), "teleport") || !strings.Contains(err.Error(), "file_op") {
		t.Errorf("error should name the tool and list alternatives, got: %v", err)
	}
}

func TestDispatchDecodesJSONOutput(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	reg.Register(NewFileOpTool(dir))

	out, err := reg.Dispatch(context.Background(), "file_op", map[string]any{"op": "list", "path": "."})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	listing, ok := out.([]any)
	if !ok {
		t.Fatalf("expected a decoded JSON array for an empty directory, got %T: %v", out, out)
	}
	if len(listing) != 0 {
		t.Errorf("expected empty listing, got %v", listing)
	}
}

func TestDispatchPassesPlainText(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	reg.Register(NewFileOpTool(dir))

	out, err := reg.Dispatch(context.Background(), "file_op", map[string]any{"op": "read", "path": "note.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected plain string output, got %T: %v", out, out)
	}
}

func TestFileOpWriteReadRoundTrip(t *testing.T) {
	f := NewFileOpTool(t.TempDir())
	ctx := context.Background()

	if _, err := f.Execute(ctx, `{"op":"write","path":"sub/dir/a.txt","content":"data"}`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := f.Execute(ctx, `{"op":"read","path":"sub/dir/a.txt"}`)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "data" {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestFileOpRejectsEscape(t *testing.T) {
	f := NewFileOpTool(t.TempDir())

	for _, path := range []string{"../outside.txt", "a/../../outside.txt"} {
		if _, err := f.Execute(context.Background(), `{"op":"read","path":"`+path+`"}`); err == nil {
			t.Errorf("path %q should have been rejected", path)
		}
	}
}

func TestFileOpCopyAndMove(t *testing.T) {
	f := NewFileOpTool(t.TempDir())
	ctx := context.Background()

	if _, err := f.Execute(ctx, `{"op":"write","path":"a.txt","content":"x"}`); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Execute(ctx, `{"op":"copy","path":"a.txt","dest":"b.txt"}`); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if _, err := f.Execute(ctx, `{"op":"move","path":"b.txt","dest":"c.txt"}`); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if got, _ := f.Execute(ctx, `{"op":"exists","path":"b.txt"}`); got != `{"exists": false}` {
		t.Errorf("b.txt should be gone after move, got %s", got)
	}
	if got, _ := f.Execute(ctx, `{"op":"read","path":"c.txt"}`); got != "x" {
		t.Errorf("moved content mismatch: %q", got)
	}
}

func TestJSONToolQuery(t *testing.T) {
	dir := t.TempDir()
	doc := `{"users":[{"name":"asha","email":"asha@example.com"},{"name":"ravi"}]}`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	j := NewJSONTool(NewFileOpTool(dir))
	ctx := context.Background()

	got, err := j.Execute(ctx, `{"op":"read","path":"users.json","query":"users.0.email"}`)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got != `"asha@example.com"` {
		t.Errorf("unexpected query result: %s", got)
	}

	if _, err := j.Execute(ctx, `{"op":"read","path":"users.json","query":"users.5.email"}`); err == nil {
		t.Error("out-of-range index should fail")
	}
	if _, err := j.Execute(ctx, `{"op":"read","path":"users.json","query":"users.0.phone"}`); err == nil {
		t.Error("missing key should fail")
	}
}

func TestJSONToolWrite(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONTool(NewFileOpTool(dir))

	if _, err := j.Execute(context.Background(), `{"op":"write","path":"out.json","value":{"count":3}}`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"count": 3`) {
		t.Errorf("written JSON missing value: %s", data)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for name, content := range map[string]string{"one.txt": "first", "two.txt": "second"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	a := NewArchiveTool(dir)
	if _, err := a.Execute(ctx, `{"op":"create","archive":"bundle.zip","files":["one.txt","two.txt"]}`); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	listing, err := a.Execute(ctx, `{"op":"list","archive":"bundle.zip"}`)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(listing, "one.txt") || !strings.Contains(listing, "two.txt") {
		t.Errorf("listing missing entries: %s", listing)
	}

	if _, err := a.Execute(ctx, `{"op":"extract","archive":"bundle.zip","dest":"out"}`); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out", "one.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first" {
		t.Errorf("extracted content mismatch: %q", data)
	}
}

func TestArchiveCreateWithoutFiles(t *testing.T) {
	a := NewArchiveTool(t.TempDir())
	if _, err := a.Execute(context.Background(), `{"op":"create","archive":"empty.zip"}`); err == nil {
		t.Error("creating an archive with no files should fail")
	}
}
