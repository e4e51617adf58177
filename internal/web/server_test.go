package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MinBZK/par-dpia-form/internal/session"
	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	docs, err := session.LoadDocuments(map[string]string{
		session.NamespaceDPIA:    filepath.Join("..", "session", "testdata", "dpia.json"),
		session.NamespacePrescan: filepath.Join("..", "session", "testdata", "prescan.yaml"),
	})
	require.NoError(t, err)
	s, err := session.New(docs, session.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	srv := NewServer(s)
	return srv, srv.Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func firstInstance(t *testing.T, srv *Server, ns, taskID string) string {
	t.Helper()
	n, err := srv.session.Namespace(ns)
	require.NoError(t, err)
	insts := n.Instances.InstancesOf(taskID)
	require.NotEmpty(t, insts)
	return insts[0].ID
}

func TestNamespaces(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/namespaces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"namespaces":["dpia","prescan"],"active":"dpia"}`, rec.Body.String())
}

func TestTree(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/namespaces/dpia/tree?root=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []session.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "0", nodes[0].TaskID)
	assert.Len(t, nodes[0].Children, 2)

	rec = do(t, h, http.MethodGet, "/api/namespaces/nope/tree", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/namespaces/dpia/tree?root=0.1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerLifecycle(t *testing.T) {
	srv, h := newTestServer(t)
	id := firstInstance(t, srv, "dpia", "1.1.2")

	rec := do(t, h, http.MethodPut, "/api/namespaces/dpia/answers/"+id, `{"value":["bsn","health"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/namespaces/dpia/assessments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Scores      map[string]float64 `json:"scores"`
		Assessments []struct {
			ID       string `json:"id"`
			Level    string `json:"level"`
			Required bool   `json:"required"`
		} `json:"assessments"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2.0, res.Scores["sensitivity"])
	require.Len(t, res.Assessments, 1)
	assert.Equal(t, "required", res.Assessments[0].Level)
	assert.Empty(t, res.Errors)

	rec = do(t, h, http.MethodGet, "/api/namespaces/dpia/values/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"instanceId":"`+id+`","value":["bsn","health"],"origin":"answer"}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/namespaces/dpia/answers/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/namespaces/dpia/answers/missing", `{"value":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/namespaces/dpia/answers/"+id, `{"value":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstances(t *testing.T) {
	srv, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/namespaces/dpia/instances", `{"taskId":"1.1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["instanceId"])

	n, err := srv.session.Namespace("dpia")
	require.NoError(t, err)
	assert.Len(t, n.Instances.InstancesOf("2.1"), 2)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/instances", `{"taskId":"2.1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/instances", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/namespaces/dpia/instances/"+created["instanceId"], "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, n.Instances.InstancesOf("2.1"), 1)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"created":0,"removed":0}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/prune", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNavigation(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/namespaces/dpia/navigation", `{"action":"next"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var nav navigationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nav))
	assert.Equal(t, "1", nav.CurrentRootTaskID)
	assert.True(t, nav.Moved)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/navigation", `{"action":"complete","rootTaskId":"0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/namespaces/dpia/navigation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nav))
	assert.Equal(t, []string{"0"}, nav.CompletedRootTaskIDs)
	assert.False(t, nav.IsFirst)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/navigation", `{"action":"jump"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/namespaces/dpia/navigation", `{"action":"goto","rootTaskId":"1.1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportImport(t *testing.T) {
	srv, h := newTestServer(t)
	id := firstInstance(t, srv, "dpia", "0.1")
	rec := do(t, h, http.MethodPut, "/api/namespaces/dpia/answers/"+id, `{"value":"Burgerzaken"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "DPIA_")
	exported := rec.Body.String()

	rec = do(t, h, http.MethodGet, "/api/export?embedded=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var env snapshot.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, snapshot.Checksum(env.Data), env.Checksum)

	other, oh := newTestServer(t)
	rec = do(t, oh, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n, err := other.session.Namespace("dpia")
	require.NoError(t, err)
	assert.Equal(t, "Burgerzaken", n.Answers.Get(id).String())

	env.Checksum = strings.Repeat("0", 64)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	rec = do(t, oh, http.MethodPost, "/api/import?embedded=true", string(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errResp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, snapshot.CodeTampered, errResp.Code)

	rec = do(t, oh, http.MethodPost, "/api/import", "{")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, snapshot.CodeMalformed, errResp.Code)
}

func TestPreview(t *testing.T) {
	srv, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/preview/1.1.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	prescan := firstInstance(t, srv, "prescan", "1")
	rec = do(t, h, http.MethodPut, "/api/namespaces/prescan/answers/"+prescan, `{"value":"Vergunningen"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/preview/1.1.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Vergunningen")
}
