package tree

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"projecttree/backend/internal/objectstore"
	"projecttree/backend/internal/store"
)

var ErrPublishingDisabled = errors.New("export publishing is not configured")

// Exporter serializes a project tree into a zip archive.
type Exporter struct {
	tree       store.TreeStore
	objects    objectstore.Store // nil disables Publish
	linkExpiry time.Duration
}

func NewExporter(tree store.TreeStore, objects objectstore.Store, linkExpiry time.Duration) *Exporter {
	return &Exporter{tree: tree, objects: objects, linkExpiry: linkExpiry}
}

// Export returns the project as zip bytes.
func (e *Exporter) Export(ctx context.Context, projectID uuid.UUID) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteArchive(ctx, &buf, projectID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArchive walks the assembled tree depth-first and writes one entry per
// folder (a "name/" marker, even when empty) and one per file. Sibling name
// collisions are written as-is; most unzip tools keep the last entry.
// Rows and contents come from a single consistent read.
// It returns the number of entries written.
func (e *Exporter) WriteArchive(ctx context.Context, w io.Writer, projectID uuid.UUID) (int, error) {
	rows, contents, err := e.tree.GetSubtreeWithContents(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("load tree: %w", err)
	}
	t := Assemble(rows, nil)

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	type frame struct {
		node   *Node
		parent string
	}

	entries := 0
	var stack []frame
	if t.Root != nil {
		stack = append(stack, frame{node: t.Root})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entryPath := path.Join(f.parent, entryName(f.node.Name))

		if f.node.IsFolder {
			_, err := zw.CreateHeader(&zip.FileHeader{
				Name:     entryPath + "/",
				Method:   zip.Store,
				Modified: f.node.CreatedAt,
			})
			if err != nil {
				return entries, fmt.Errorf("write folder %q: %w", entryPath, err)
			}
			entries++
			for i := len(f.node.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: f.node.Children[i], parent: entryPath})
			}
			continue
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entryPath,
			Method:   zip.Deflate,
			Modified: f.node.CreatedAt,
		})
		if err != nil {
			return entries, fmt.Errorf("write file %q: %w", entryPath, err)
		}
		if _, err := io.WriteString(fw, contents[f.node.ID].Data.Content); err != nil {
			return entries, fmt.Errorf("write file %q: %w", entryPath, err)
		}
		entries++
	}

	if err := zw.Close(); err != nil {
		return entries, fmt.Errorf("finalize archive: %w", err)
	}
	return entries, nil
}

// entryName keeps a node name from escaping its folder inside the archive.
func entryName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	switch name {
	case "", ".", "..":
		return "_"
	}
	return name
}

// Publish uploads the archive to object storage and returns a temporary link.
func (e *Exporter) Publish(ctx context.Context, projectID uuid.UUID) (string, error) {
	if e.objects == nil {
		return "", ErrPublishingDisabled
	}

	data, err := e.Export(ctx, projectID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s/%s.zip", projectID, time.Now().UTC().Format("20060102T150405Z"))
	if err := e.objects.Put(ctx, key, bytes.NewReader(data), "application/zip"); err != nil {
		return "", fmt.Errorf("store archive: %w", err)
	}
	url, err := e.objects.PresignedURL(ctx, key, e.linkExpiry)
	if err != nil {
		return "", fmt.Errorf("sign archive link: %w", err)
	}
	return url, nil
}
