package tree

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/store"
)

func row(id uuid.UUID, parent *uuid.UUID, name string, folder bool, at time.Time) models.FileNode {
	return models.FileNode{ID: id, ParentID: parent, Name: name, IsFolder: folder, CreatedAt: at}
}

func TestAssembleEmpty(t *testing.T) {
	tr := Assemble(nil, nil)
	assert.Nil(t, tr.Root)
	assert.Empty(t, tr.Orphans)
}

func TestAssembleOrdersAndMarksExpanded(t *testing.T) {
	now := time.Now()
	root, src, lib, readme, main := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	rows := []models.FileNode{
		row(readme, &root, "README.md", false, now),
		row(main, &src, "main.go", false, now),
		row(src, &root, "src", true, now),
		row(root, nil, "project", true, now),
		row(lib, &root, "lib", true, now),
	}
	tr := Assemble(rows, map[uuid.UUID]struct{}{src: {}})

	require.NotNil(t, tr.Root)
	assert.Equal(t, root, tr.Root.ID)
	assert.Empty(t, tr.Orphans)

	require.Len(t, tr.Root.Children, 3)
	assert.Equal(t, "lib", tr.Root.Children[0].Name)
	assert.Equal(t, "src", tr.Root.Children[1].Name)
	assert.Equal(t, "README.md", tr.Root.Children[2].Name)

	assert.True(t, tr.Root.Children[1].Expanded)
	assert.False(t, tr.Root.Children[0].Expanded)
	require.Len(t, tr.Root.Children[1].Children, 1)
	assert.Equal(t, main, tr.Root.Children[1].Children[0].ID)

	folders, files := tr.Count()
	assert.Equal(t, 3, folders)
	assert.Equal(t, 2, files)
}

func TestAssembleSkipsOrphans(t *testing.T) {
	now := time.Now()
	root, missing, lost, lostChild := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	rows := []models.FileNode{
		row(root, nil, "project", true, now),
		row(lost, &missing, "lost", true, now),
		row(lostChild, &lost, "inside.txt", false, now),
	}
	tr := Assemble(rows, nil)

	require.NotNil(t, tr.Root)
	assert.Empty(t, tr.Root.Children)
	assert.ElementsMatch(t, []uuid.UUID{lost, lostChild}, tr.Orphans)
}

func TestAssembleDeepChain(t *testing.T) {
	now := time.Now()
	rootID := uuid.New()
	rows := []models.FileNode{row(rootID, nil, "project", true, now)}
	parent := rootID
	for i := 0; i < 10000; i++ {
		id := uuid.New()
		p := parent
		rows = append(rows, row(id, &p, "d", true, now))
		parent = id
	}

	tr := Assemble(rows, nil)
	folders, files := tr.Count()
	assert.Equal(t, 10001, folders)
	assert.Zero(t, files)
}

func TestAnnotate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	out := Annotate([]models.FileNode{{ID: a}, {ID: b}}, map[uuid.UUID]struct{}{b: {}})
	require.Len(t, out, 2)
	assert.False(t, out[0].Expanded)
	assert.True(t, out[1].Expanded)
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func seedProject(t *testing.T, st *store.Memory) (uuid.UUID, *models.FileNode) {
	t.Helper()
	ctx := context.Background()
	projectID := uuid.New()
	root, err := st.CreateRoot(ctx, projectID, "Proj")
	require.NoError(t, err)

	src, err := st.CreateNode(ctx, projectID, root.ID, "src", true, "")
	require.NoError(t, err)
	mainGo, err := st.CreateNode(ctx, projectID, src.ID, "main.go", false, "go")
	require.NoError(t, err)
	require.NoError(t, st.SaveContent(ctx, mainGo.ID, "package main\n"))
	_, err = st.CreateNode(ctx, projectID, root.ID, "empty", true, "")
	require.NoError(t, err)
	_, err = st.CreateNode(ctx, projectID, root.ID, "notes.txt", false, "txt")
	require.NoError(t, err)
	return projectID, root
}

func TestExport(t *testing.T) {
	st := store.NewMemory()
	projectID, _ := seedProject(t, st)

	ex := NewExporter(st, nil, time.Minute)
	data, err := ex.Export(context.Background(), projectID)
	require.NoError(t, err)

	entries := readArchive(t, data)
	assert.Equal(t, map[string]string{
		"Proj/":            "",
		"Proj/empty/":      "",
		"Proj/src/":        "",
		"Proj/src/main.go": "package main\n",
		"Proj/notes.txt":   "",
	}, entries)

	rows, err := st.GetSubtree(context.Background(), projectID)
	require.NoError(t, err)
	folders, files := Assemble(rows, nil).Count()
	assert.Len(t, entries, folders+files)
}

// deletingTree removes a node as soon as the exporter has read the tree, and
// counts any per-file reads made after that.
type deletingTree struct {
	store.TreeStore
	projectID   uuid.UUID
	victim      uuid.UUID
	lateReads   int
	deleteError error
}

func (d *deletingTree) GetSubtreeWithContents(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, map[uuid.UUID]models.FileContent, error) {
	rows, contents, err := d.TreeStore.GetSubtreeWithContents(ctx, projectID)
	_, d.deleteError = d.TreeStore.DeleteNode(ctx, d.projectID, d.victim)
	return rows, contents, err
}

func (d *deletingTree) GetContent(ctx context.Context, nodeID uuid.UUID) (*models.FileContent, error) {
	d.lateReads++
	return d.TreeStore.GetContent(ctx, nodeID)
}

func (d *deletingTree) GetSubtree(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, error) {
	d.lateReads++
	return d.TreeStore.GetSubtree(ctx, projectID)
}

func TestExportUnaffectedByConcurrentDelete(t *testing.T) {
	st := store.NewMemory()
	projectID, _ := seedProject(t, st)

	rows, err := st.GetSubtree(context.Background(), projectID)
	require.NoError(t, err)
	var mainGo uuid.UUID
	for _, r := range rows {
		if r.Name == "main.go" {
			mainGo = r.ID
		}
	}

	dt := &deletingTree{TreeStore: st, projectID: projectID, victim: mainGo}
	data, err := NewExporter(dt, nil, time.Minute).Export(context.Background(), projectID)
	require.NoError(t, err)
	require.NoError(t, dt.deleteError)
	assert.Zero(t, dt.lateReads)

	entries := readArchive(t, data)
	assert.Equal(t, "package main\n", entries["Proj/src/main.go"], "the archive reflects the tree as it was read")
}

func TestExportEmptyProject(t *testing.T) {
	ex := NewExporter(store.NewMemory(), nil, time.Minute)

	var buf bytes.Buffer
	n, err := ex.WriteArchive(context.Background(), &buf, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, readArchive(t, buf.Bytes()))
}

func TestExportDuplicateSiblingNames(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	projectID := uuid.New()
	root, err := st.CreateRoot(ctx, projectID, "Proj")
	require.NoError(t, err)

	first, err := st.CreateNode(ctx, projectID, root.ID, "a.txt", false, "txt")
	require.NoError(t, err)
	require.NoError(t, st.SaveContent(ctx, first.ID, "one"))
	second, err := st.CreateNode(ctx, projectID, root.ID, "a.txt", false, "txt")
	require.NoError(t, err)
	require.NoError(t, st.SaveContent(ctx, second.ID, "two"))

	var buf bytes.Buffer
	n, err := NewExporter(st, nil, time.Minute).WriteArchive(ctx, &buf, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Proj/", "Proj/a.txt", "Proj/a.txt"}, names)
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "a_b", entryName("a/b"))
	assert.Equal(t, "_", entryName(".."))
	assert.Equal(t, "_", entryName(""))
	assert.Equal(t, "main.go", entryName("main.go"))
}

type fakeObjects struct {
	key  string
	body []byte
	err  error
}

func (f *fakeObjects) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	var err error
	f.body, err = io.ReadAll(body)
	return err
}

func (f *fakeObjects) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://exports.example.test/" + key + "?expires=" + expiry.String(), nil
}

func TestPublish(t *testing.T) {
	st := store.NewMemory()
	projectID, _ := seedProject(t, st)

	t.Run("disabled", func(t *testing.T) {
		_, err := NewExporter(st, nil, time.Minute).Publish(context.Background(), projectID)
		assert.ErrorIs(t, err, ErrPublishingDisabled)
	})

	t.Run("uploads and signs", func(t *testing.T) {
		objs := &fakeObjects{}
		url, err := NewExporter(st, objs, 15*time.Minute).Publish(context.Background(), projectID)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(objs.key, "exports/"+projectID.String()+"/"))
		assert.Contains(t, url, objs.key)
		assert.Contains(t, readArchive(t, objs.body), "Proj/src/main.go")
	})

	t.Run("upload failure", func(t *testing.T) {
		objs := &fakeObjects{err: errors.New("bucket gone")}
		_, err := NewExporter(st, objs, time.Minute).Publish(context.Background(), projectID)
		assert.ErrorContains(t, err, "bucket gone")
	})
}
