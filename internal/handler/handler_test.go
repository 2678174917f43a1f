package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/middleware"
	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/repository"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "test-admin-key"

type testServer struct {
	app   *fiber.App
	store *service.Store
	hub   *service.WSHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := service.NewStore(repository.NewMemorySnapshotRepository(nil))
	require.NoError(t, store.Open(context.Background(), []string{"Home", "general"}))
	blobs, err := repository.NewDiskBlobRepository(t.TempDir())
	require.NoError(t, err)

	channels := service.NewChannelRegistry(store)
	authSvc := service.NewAuthService(store, "handler-test-secret", time.Hour, []string{"admin"})
	hub := service.NewWSHub(channels)
	router := service.NewRouter(hub, channels, store, authSvc, blobs, service.RouterConfig{HistoryLimit: 50})
	reconciler := service.NewReconciler(store, channels)

	app := fiber.New(fiber.Config{BodyLimit: service.MaxFileSize*4/3 + 64*1024})

	healthH := NewHealthHandler(store)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	v1 := app.Group("/api/v1")
	authH := NewAuthHandler(authSvc, channels)
	v1.Post("/auth/register", authH.Register)
	v1.Post("/auth/login", authH.Login)
	v1.Post("/auth/logout", authH.Logout)
	v1.Get("/auth/session", authH.Session)

	adminH := NewAdminHandler(store, hub, router, authSvc)
	admin := v1.Group("/admin", middleware.AdminKey(testAdminKey))
	admin.Get("/stats", adminH.Stats)
	admin.Post("/announce", adminH.Announce)

	chatH := NewChatHandler(router, channels, store, reconciler)
	v1.Get("/files/:fileId", chatH.DownloadFile)

	protected := v1.Group("", middleware.Auth(authSvc))
	protected.Get("/channels", chatH.ListChannels)
	protected.Post("/channels", chatH.CreateChannel)
	protected.Post("/private-chat", chatH.OpenPrivateChat)
	protected.Get("/channels/:channel/messages", chatH.ListMessages)
	protected.Post("/channels/:channel/messages", chatH.PostMessage)
	protected.Get("/channels/:channel/messages/last5", chatH.LastMessages)
	protected.Delete("/channels/:channel/messages/:id", chatH.DeleteMessage)
	protected.Post("/channels/:channel/files", chatH.PostFile)
	protected.Post("/channels/:channel/reconcile", chatH.Reconcile)

	return &testServer{app: app, store: store, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// signUp registers and logs in, returning the session token.
func (s *testServer) signUp(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret1"}

	status, _ := s.do(t, "POST", "/api/v1/auth/register", "", creds)
	require.Equal(t, 201, status)

	status, body := s.do(t, "POST", "/api/v1/auth/login", "", creds)
	require.Equal(t, 200, status)
	return body["sessionToken"].(string)
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/api/v1/auth/register", "", map[string]string{"username": "alice", "password": "123"})
	assert.Equal(t, 400, status)
	assert.Contains(t, body["error"], "6 characters")

	token := s.signUp(t, "alice")

	status, _ = s.do(t, "POST", "/api/v1/auth/register", "", map[string]string{"username": "alice", "password": "secret1"})
	assert.Equal(t, 409, status)

	status, _ = s.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong!"})
	assert.Equal(t, 401, status)

	status, body = s.do(t, "GET", "/api/v1/auth/session", token, nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "alice", body["username"])

	status, body = s.do(t, "POST", "/api/v1/auth/logout", token, nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, true, body["success"])

	status, body = s.do(t, "GET", "/api/v1/auth/session", token, nil)
	assert.Equal(t, 401, status)
	assert.Equal(t, false, body["valid"])
}

func TestLoginReturnsVisibleChannels(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "bob")
	s.signUp(t, "carol")
	token := s.signUp(t, "alice")

	status, _ := s.do(t, "POST", "/api/v1/private-chat", token, map[string]string{"targetUser": "bob"})
	require.Equal(t, 200, status)

	carol := map[string]string{"username": "carol", "password": "secret1"}
	_, body := s.do(t, "POST", "/api/v1/auth/login", "", carol)
	names := channelNames(body["channels"])
	assert.Equal(t, []string{"Home", "general"}, names)

	_, body = s.do(t, "GET", "/api/v1/channels", token, nil)
	assert.Equal(t, []string{"Home", "general", "alice-bob"}, channelNames(body["channels"]))
}

func channelNames(v any) []string {
	var names []string
	for _, ch := range v.([]any) {
		names = append(names, ch.(map[string]any)["name"].(string))
	}
	return names
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "GET", "/api/v1/channels", "", nil)
	assert.Equal(t, 401, status)

	status, _ = s.do(t, "GET", "/api/v1/channels", "garbage", nil)
	assert.Equal(t, 401, status)
}

func TestCreateChannelAdminOnly(t *testing.T) {
	s := newTestServer(t)
	user := s.signUp(t, "alice")
	admin := s.signUp(t, "admin")

	status, _ := s.do(t, "POST", "/api/v1/channels", user, map[string]string{"channelName": "random"})
	assert.Equal(t, 403, status)

	status, body := s.do(t, "POST", "/api/v1/channels", admin, map[string]string{"channelName": "random"})
	assert.Equal(t, 201, status)
	assert.Equal(t, "random", body["channel"].(map[string]any)["name"])

	status, _ = s.do(t, "POST", "/api/v1/channels", admin, map[string]string{"channelName": "random"})
	assert.Equal(t, 409, status)
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice")
	bob := s.signUp(t, "bob")

	var ids []int64
	for _, text := range []string{"one", "two", "three", "four", "five", "six"} {
		status, body := s.do(t, "POST", "/api/v1/channels/general/messages", alice, map[string]string{"message": text})
		require.Equal(t, 201, status)
		assert.Equal(t, "alice", body["author"])
		ids = append(ids, int64(body["timestamp"].(float64)))
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	status, body := s.do(t, "GET", "/api/v1/channels/general/messages", bob, nil)
	assert.Equal(t, 200, status)
	assert.Len(t, body["messages"], 6)

	status, body = s.do(t, "GET", "/api/v1/channels/general/messages/last5", bob, nil)
	assert.Equal(t, 200, status)
	last := body["messages"].([]any)
	require.Len(t, last, 5)
	assert.Equal(t, "two", last[0].(map[string]any)["content"])

	path := "/api/v1/channels/general/messages/" + jsonInt(ids[2])
	status, _ = s.do(t, "DELETE", path, bob, nil)
	assert.Equal(t, 403, status)

	status, body = s.do(t, "DELETE", path, alice, nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(ids[2]), body["messageId"])

	status, _ = s.do(t, "DELETE", "/api/v1/channels/general/messages/1", alice, nil)
	assert.Equal(t, 404, status)

	status, _ = s.do(t, "DELETE", "/api/v1/channels/general/messages/abc", alice, nil)
	assert.Equal(t, 400, status)

	status, body = s.do(t, "POST", "/api/v1/channels/general/reconcile", bob, map[string]any{"known": []int64{ids[1], ids[2], ids[3]}})
	assert.Equal(t, 200, status)
	assert.Len(t, body["toAdd"], 3)
	assert.Equal(t, []any{float64(ids[2])}, body["toRemove"])
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestPostMessageRejections(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice")

	status, _ := s.do(t, "POST", "/api/v1/channels/general/messages", alice, map[string]string{"message": "/roll"})
	assert.Equal(t, 400, status)

	status, _ = s.do(t, "POST", "/api/v1/channels/general/messages", alice, map[string]string{"message": "   "})
	assert.Equal(t, 400, status)

	status, _ = s.do(t, "POST", "/api/v1/channels/nowhere/messages", alice, map[string]string{"message": "hi"})
	assert.Equal(t, 404, status)

	status, _ = s.do(t, "GET", "/api/v1/channels/bob-carol/messages", alice, nil)
	assert.Equal(t, 404, status)
}

func TestFileUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice")

	payload := base64.StdEncoding.EncodeToString([]byte("hello file"))
	status, body := s.do(t, "POST", "/api/v1/channels/general/files", alice, map[string]string{
		"filename": "hello.txt",
		"fileData": "data:text/plain;base64," + payload,
	})
	require.Equal(t, 201, status)

	fileID, filename, ok := model.ParseFileContent(body["content"].(string))
	require.True(t, ok)
	assert.Equal(t, "hello.txt", filename)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/files/"+fileID+"?name=hello.txt", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello file", string(data))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "hello.txt")

	status, _ = s.do(t, "GET", "/api/v1/files/does-not-exist", "", nil)
	assert.Equal(t, 404, status)
}

func TestFileUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice")

	big := base64.StdEncoding.EncodeToString(make([]byte, service.MaxFileSize+1))
	status, _ := s.do(t, "POST", "/api/v1/channels/general/files", alice, map[string]string{
		"filename": "big.bin",
		"fileData": big,
	})
	assert.Equal(t, 413, status)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])

	status, body = s.do(t, "GET", "/ready", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ready", body["status"])

	app := fiber.New()
	app.Get("/ready", NewHealthHandler(failingPinger{}).Ready)
	resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice")

	status, _ := s.do(t, "GET", "/api/v1/admin/stats", "", nil)
	assert.Equal(t, 403, status)

	req := httptest.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, float64(0), stats["online"])
	assert.Equal(t, float64(1), stats["active_sessions"])

	req = httptest.NewRequest("POST", "/api/v1/admin/announce", strings.NewReader(`{"message":"maintenance at noon"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	req = httptest.NewRequest("POST", "/api/v1/admin/announce", strings.NewReader(`{"message":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
