package tools

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveTool creates, extracts, and inspects zip archives inside the
// workspace root.
type ArchiveTool struct {
	Root string
}

func NewArchiveTool(root string) *ArchiveTool {
	absRoot, _ := filepath.Abs(root)
	return &ArchiveTool{Root: absRoot}
}

func (a *ArchiveTool) Name() string {
	return "archive_op"
}

func (a *ArchiveTool) Description() string {
	return "Work with zip archives: create an archive from files, extract one, or list its contents."
}

func (a *ArchiveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "extract", "list"},
				"description": "The operation to perform",
			},
			"archive": map[string]any{
				"type":        "string",
				"description": "Path of the zip archive",
			},
			"files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Files to include (for 'create')",
			},
			"dest": map[string]any{
				"type":        "string",
				"description": "Directory to extract into (for 'extract')",
			},
		},
		"required": []string{"op", "archive"},
	}
}

func (a *ArchiveTool) resolve(p string) (string, error) {
	target := filepath.Join(a.Root, p)
	rel, err := filepath.Rel(a.Root, target)
	if err != nil || (len(rel) >= 2 && rel[:2] == "..") {
		return "", fmt.Errorf("unsafe path attempt: %s", p)
	}
	return target, nil
}

func (a *ArchiveTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Op      string   `json:"op"`
		Archive string   `json:"archive"`
		Files   []string `json:"files"`
		Dest    string   `json:"dest"`
	}

	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	archivePath, err := a.resolve(args.Archive)
	if err != nil {
		return "", err
	}

	switch args.Op {
	case "create":
		if len(args.Files) == 0 {
			return "", fmt.Errorf("no files given to archive")
		}
		return a.create(archivePath, args.Files)
	case "extract":
		dest := args.Dest
		if dest == "" {
			dest = "."
		}
		destPath, err := a.resolve(dest)
		if err != nil {
			return "", err
		}
		return a.extract(archivePath, destPath)
	case "list":
		return a.list(archivePath)
	default:
		return "", fmt.Errorf("unknown op '%s', use create, extract, or list", args.Op)
	}
}

func (a *ArchiveTool) create(archivePath string, files []string) (string, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range files {
		src, err := a.resolve(name)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		w, err := zw.Create(filepath.ToSlash(name))
		if err != nil {
			return "", fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return fmt.Sprintf("Successfully archived %d files into %s", len(files), filepath.Base(archivePath)), nil
}

func (a *ArchiveTool) extract(archivePath, dest string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		// Reject entries that would escape the destination.
		name := filepath.FromSlash(f.Name)
		if strings.Contains(name, "..") {
			return "", fmt.Errorf("archive contains unsafe entry: %s", f.Name)
		}
		target := filepath.Join(dest, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open entry %s: %w", f.Name, err)
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return "", fmt.Errorf("failed to create %s: %w", target, err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		count++
	}
	return fmt.Sprintf("Successfully extracted %d files", count), nil
}

func (a *ArchiveTool) list(archivePath string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	entries := make([]map[string]any, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, map[string]any{
			"name": f.Name,
			"size": f.UncompressedSize64,
		})
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode listing: %w", err)
	}
	return string(out), nil
}
