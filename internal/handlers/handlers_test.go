package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"projecttree/backend/internal/auth"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/presence"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/tree"
	"projecttree/backend/internal/ws"
)

type fixture struct {
	srv       *httptest.Server
	st        *store.Memory
	verifier  *auth.Verifier
	projectID uuid.UUID
	root      *models.FileNode
	src       *models.FileNode
	file      *models.FileNode
}

type user struct {
	id    uuid.UUID
	name  string
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)

	tracker := presence.NewTracker(st, presence.NewMemorySessions())
	hub := ws.NewHub(st, st, tracker, ws.Options{})
	api := &API{
		Store:    st,
		Presence: tracker,
		Exporter: tree.NewExporter(st, nil, time.Minute),
		Hub:      hub,
		Verifier: verifier,
	}
	srv := httptest.NewServer(NewRouter(api, []string{"http://localhost:5173"}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})

	f := &fixture{srv: srv, st: st, verifier: verifier, projectID: uuid.New()}
	f.root, err = st.CreateRoot(ctx, f.projectID, "Proj")
	require.NoError(t, err)
	f.src, err = st.CreateNode(ctx, f.projectID, f.root.ID, "src", true, "")
	require.NoError(t, err)
	f.file, err = st.CreateNode(ctx, f.projectID, f.src.ID, "main.go", false, "go")
	require.NoError(t, err)
	require.NoError(t, st.SaveContent(ctx, f.file.ID, "package main\n"))
	return f
}

func (f *fixture) user(t *testing.T, name, role string) user {
	t.Helper()
	u := user{id: uuid.New(), name: name}
	if role != "" {
		f.st.AddMember(f.projectID, u.id, role)
	}
	var err error
	u.token, err = f.verifier.CreateJWT(u.id.String(), name, time.Hour)
	require.NoError(t, err)
	return u
}

func (f *fixture) do(t *testing.T, u user, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/project/" + f.projectID.String() + "/files"

	resp := f.do(t, user{}, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, user{token: "garbage"}, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stranger := f.user(t, "mallory", "")
	resp = f.do(t, stranger, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, stranger, http.MethodGet, "/api/v1/file/"+f.file.ID.String()+"/users", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, stranger, http.MethodGet, "/api/v1/file/"+uuid.NewString()+"/users", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, stranger, http.MethodGet, "/api/v1/project/not-a-uuid/files", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFilesAndExpand(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", models.RoleViewer)
	base := "/api/v1/project/" + f.projectID.String()

	resp := f.do(t, alice, http.MethodPost, base+"/expand", map[string]interface{}{"nodeId": f.src.ID, "expand": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, alice, http.MethodGet, base+"/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody[[]models.TreeRow](t, resp)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, row.ID == f.src.ID, row.Expanded, row.Name)
	}

	resp = f.do(t, alice, http.MethodGet, base+"/tree", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeBody[tree.Tree](t, resp)
	require.NotNil(t, tr.Root)
	require.Len(t, tr.Root.Children, 1)
	assert.True(t, tr.Root.Children[0].Expanded)
	require.Len(t, tr.Root.Children[0].Children, 1)
	assert.Equal(t, "main.go", tr.Root.Children[0].Children[0].Name)

	// collapse is idempotent
	for i := 0; i < 2; i++ {
		resp = f.do(t, alice, http.MethodPost, base+"/expand", map[string]interface{}{"nodeId": f.src.ID, "expand": false})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp = f.do(t, alice, http.MethodGet, base+"/files", nil)
	for _, row := range decodeBody[[]models.TreeRow](t, resp) {
		assert.False(t, row.Expanded)
	}

	// node from another project
	other, err := f.st.CreateRoot(context.Background(), uuid.New(), "other")
	require.NoError(t, err)
	resp = f.do(t, alice, http.MethodPost, base+"/expand", map[string]interface{}{"nodeId": other.ID, "expand": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, alice, http.MethodPost, base+"/expand", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	viewer := f.user(t, "vic", models.RoleViewer)
	editor := f.user(t, "eve", models.RoleEditor)
	base := "/api/v1/project/" + f.projectID.String()

	resp := f.do(t, viewer, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".zip")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	assert.Equal(t, []string{"Proj/", "Proj/src/", "Proj/src/main.go"}, names)

	resp = f.do(t, viewer, http.MethodPost, base+"/export", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, editor, http.MethodPost, base+"/export", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPresenceRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", models.RoleEditor)
	f.st.SetUserImage("alice", "https://img.example.test/alice.png")

	tracker := presence.NewTracker(f.st, nil)
	_, err := tracker.SetActiveTab(ctx, f.file.ID, "alice", true)
	require.NoError(t, err)
	_, err = f.st.SetLiveForUser(ctx, "alice", false)
	require.NoError(t, err)

	resp := f.do(t, alice, http.MethodGet, "/api/v1/file/"+f.file.ID.String()+"/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decodeBody[[]models.UserPresence](t, resp)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.False(t, users[0].IsLive)
	assert.Equal(t, "https://img.example.test/alice.png", users[0].Image)

	resp = f.do(t, alice, http.MethodGet, "/api/v1/project/"+f.projectID.String()+"/tabs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tabs := decodeBody[[]models.PresenceRecord](t, resp)
	require.Len(t, tabs, 1)
	assert.Equal(t, f.file.ID, tabs[0].FileID)
	assert.True(t, tabs[0].IsLive)

	_, err = f.st.SetLiveForUser(ctx, "alice", false)
	require.NoError(t, err)
	resp = f.do(t, alice, http.MethodPost, "/api/v1/presence/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int64{"updated": 1}, decodeBody[map[string]int64](t, resp))

	resp = f.do(t, alice, http.MethodGet, "/api/v1/presence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody[[]models.PresenceRecord](t, resp)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsLive)
}

func TestRoleAndHealth(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "olga", models.RoleOwner)

	resp := f.do(t, owner, http.MethodGet, "/api/v1/project/"+f.projectID.String()+"/role", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"role": "owner"}, decodeBody[map[string]string](t, resp))

	resp = f.do(t, user{}, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]interface{}](t, resp)
	assert.Equal(t, "ok", health["status"])
}

func TestServeWs(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", models.RoleEditor)
	stranger := f.user(t, "mallory", "")
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/" + f.projectID.String()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?auth_token="+stranger.token, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?auth_token="+alice.token, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.WsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, ws.TypeSnapshot, msg.Type)
	var snap ws.Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Len(t, snap.Nodes, 3)

	raw, err := json.Marshal(ws.InsertNodeCommand{ParentID: f.src.ID.String(), Name: "util.go"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.WsMessage{Type: ws.TypeInsertNode, Payload: raw}))
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != ws.TypePresenceUpdate {
			break
		}
	}
	assert.Equal(t, ws.TypeInsertNode, msg.Type)
}

func TestCreateProjectRoot(t *testing.T) {
	f := newFixture(t)
	projectID := uuid.New()
	owner := f.user(t, "olga", "")
	f.st.AddMember(projectID, owner.id, models.RoleOwner)
	editor := f.user(t, "eve", "")
	f.st.AddMember(projectID, editor.id, models.RoleEditor)
	path := "/api/v1/project/" + projectID.String() + "/root"

	resp := f.do(t, editor, http.MethodPost, path, map[string]string{"name": "Proj"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, owner, http.MethodPost, path, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, owner, http.MethodPost, path, map[string]string{"name": "Proj"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	root := decodeBody[models.FileNode](t, resp)
	assert.Equal(t, projectID, root.ProjectID)
	assert.Nil(t, root.ParentID)

	resp = f.do(t, owner, http.MethodPost, path, map[string]string{"name": "Again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
