package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bubblegumsoldier/liive/internal/config"
	"github.com/bubblegumsoldier/liive/internal/db"
	"github.com/bubblegumsoldier/liive/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	cfg := config.Config{Port: "0", JWTSecret: "test-secret", Env: "test", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	return SetupRouter(cfg, gdb, ws.NewHub())
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func registerAndLogin(t *testing.T, engine *gin.Engine, email, username string) (uint, string) {
	t.Helper()
	w := doJSON(t, engine, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": email, "username": username, "password": "password1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := uint(decode(t, w)["id"].(float64))

	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": email, "password": "password1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id, decode(t, w)["access_token"].(string)
}

func TestHealthz(t *testing.T) {
	engine := newTestRouter(t)

	w := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestAuthFlow(t *testing.T) {
	engine := newTestRouter(t)

	_, token := registerAndLogin(t, engine, "a@example.com", "alice")
	assert.NotEmpty(t, token)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/auth/register", "", gin.H{
			"email": "a@example.com", "username": "other", "password": "password1",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing token is unauthorized", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodGet, "/api/v1/chats", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodGet, "/api/v1/chats", "not.a.token", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestChatEndpoints(t *testing.T) {
	engine := newTestRouter(t)

	aID, aToken := registerAndLogin(t, engine, "a@example.com", "alice")
	bID, bToken := registerAndLogin(t, engine, "b@example.com", "bob")
	cID, _ := registerAndLogin(t, engine, "c@example.com", "carol")

	var chatID string

	t.Run("create group chat", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats", aToken, gin.H{
			"is_one_on_one": false,
			"participants": []gin.H{
				{"user_id": aID, "role": "admin"},
				{"user_id": bID, "role": "member"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		chatID = body["id"].(string)
		require.NotEmpty(t, chatID)
		assert.Len(t, body["participants"].([]any), 2)
	})

	t.Run("create chat without participants is rejected", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats", aToken, gin.H{
			"is_one_on_one": false,
			"participants":  []gin.H{},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("one-on-one with three participants is rejected", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats", aToken, gin.H{
			"is_one_on_one": true,
			"participants": []gin.H{
				{"user_id": aID, "role": "admin"},
				{"user_id": bID, "role": "member"},
				{"user_id": cID, "role": "member"},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid role is rejected", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats", aToken, gin.H{
			"is_one_on_one": false,
			"participants":  []gin.H{{"user_id": aID, "role": "owner"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list chats", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodGet, "/api/v1/chats", bToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode(t, w)["chats"].([]any), 1)
	})

	t.Run("member cannot add participant", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats/"+chatID+"/participants", bToken, gin.H{
			"user_id": cID, "role": "member",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin adds participant", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats/"+chatID+"/participants", aToken, gin.H{
			"user_id": cID, "role": "member",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "member", decode(t, w)["role"])
	})

	t.Run("adding twice is rejected", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats/"+chatID+"/participants", aToken, gin.H{
			"user_id": cID, "role": "member",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown chat is not found", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/chats/00000000-0000-0000-0000-000000000001/participants", aToken, gin.H{
			"user_id": cID, "role": "member",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("update participant role", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPatch, fmt.Sprintf("/api/v1/chats/%s/participants/%d", chatID, cID), aToken, gin.H{
			"role": "admin",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "admin", decode(t, w)["role"])
	})

	t.Run("remove participant", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodDelete, fmt.Sprintf("/api/v1/chats/%s/participants/%d", chatID, bID), aToken, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(t, engine, http.MethodGet, "/api/v1/chats/"+chatID, aToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode(t, w)["participants"].([]any), 2)
	})

	t.Run("removed user no longer sees the chat", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodGet, "/api/v1/chats/"+chatID, bToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("set own status message", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPut, "/api/v1/chats/"+chatID+"/message", aToken, gin.H{
			"message": "in a meeting",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "in a meeting", body["message"])
		assert.NotEmpty(t, body["message_updated_at"])
	})

	t.Run("message history is member-gated", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", aToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, engine, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", bToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
