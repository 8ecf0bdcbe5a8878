package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/conversations"
	"chat-sync/internal/messages"
	"chat-sync/internal/middleware"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/remote"
)

func setupRouter(convs *mocks.ConversationServiceMock, streams *mocks.StreamServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	RegisterRoutes(r, NewConversationHandler(convs), NewMessageHandler(streams))
	return r
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListConversations(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("Conversations").Return([]models.ConversationSummary{{ID: "c1", Name: "Bea", Unread: true}}).Once()

	rec := do(router, http.MethodGet, "/conversations", "")

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["conversations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Bea", list[0].(map[string]any)["name"])
	convs.AssertExpectations(t)
}

func TestListConversationsRefreshFailure(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("Refresh", mock.Anything).Return(fmt.Errorf("query: %w", remote.ErrTransient)).Once()

	rec := do(router, http.MethodGet, "/conversations?refresh=true", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	convs.AssertNotCalled(t, "Conversations")
}

func TestCreateDirect(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("CreateDirect", mock.Anything, "u2").Return(models.Conversation{ID: "c9"}, nil).Once()

	rec := do(router, http.MethodPost, "/conversations/direct", `{"user_id":"u2"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "c9", resp["conversation"].(map[string]any)["id"])
	assert.NotContains(t, resp, "warning")
	convs.AssertExpectations(t)
}

func TestCreateDirectMissingUser(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	rec := do(router, http.MethodPost, "/conversations/direct", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	convs.AssertNotCalled(t, "CreateDirect", mock.Anything, mock.Anything)
}

func TestCreateDirectValidation(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("CreateDirect", mock.Anything, "u1").
		Return(models.Conversation{}, fmt.Errorf("%w: cannot start a conversation with yourself", models.ErrValidation)).Once()

	rec := do(router, http.MethodPost, "/conversations/direct", `{"user_id":"u1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroupPartialFailure(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	warning := &conversations.InconsistentStateWarning{
		Operation:      "create_group",
		ConversationID: "c5",
		UserID:         "u3",
		Err:            remote.ErrRejected,
	}
	convs.On("CreateGroup", mock.Anything, "team", []string{"u2", "u3"}).
		Return(models.Conversation{ID: "c5", IsGroup: true}, warning).Once()

	rec := do(router, http.MethodPost, "/conversations/group", `{"name":"team","member_ids":["u2","u3"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "c5", resp["conversation"].(map[string]any)["id"])
	assert.Contains(t, resp["warning"], "u3")
}

func TestCreateGroupRejected(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("CreateGroup", mock.Anything, "", []string{"u2"}).
		Return(models.Conversation{}, fmt.Errorf("create conversation: %w", remote.ErrRejected)).Once()

	rec := do(router, http.MethodPost, "/conversations/group", `{"member_ids":["u2"]}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkRead(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupRouter(convs, new(mocks.StreamServiceMock))

	convs.On("MarkRead", mock.Anything, "c1").Return(nil).Once()

	rec := do(router, http.MethodPost, "/conversations/c1/read", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	convs.AssertExpectations(t)
}

func TestListMessages(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	streams.On("Messages", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ConversationID: "c1", AuthorID: "u2", Content: "hi", SentAt: at, Status: models.MessageConfirmed},
	}, nil).Once()

	rec := do(router, http.MethodGet, "/conversations/c1/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["messages"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "hi", list[0].(map[string]any)["content"])
}

func TestListMessagesOpenFailure(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	streams.On("Messages", mock.Anything, "c1").Return(nil, fmt.Errorf("subscribe: %w", remote.ErrTransient)).Once()

	rec := do(router, http.MethodGet, "/conversations/c1/messages", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendMessage(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	streams.On("Send", mock.Anything, "c1", "hello").
		Return(models.Message{ID: "m7", Content: "hello", Status: models.MessageConfirmed}, nil).Once()

	rec := do(router, http.MethodPost, "/conversations/c1/messages", `{"content":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "m7", decode(t, rec)["message"].(map[string]any)["id"])
}

func TestSendMessageFailedDelivery(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	failed := models.Message{ID: "tmp-1", Content: "hello", Status: models.MessageFailed}
	streams.On("Send", mock.Anything, "c1", "hello").Return(failed, fmt.Errorf("send message: %w", remote.ErrTransient)).Once()

	rec := do(router, http.MethodPost, "/conversations/c1/messages", `{"content":"hello"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "tmp-1", resp["message"].(map[string]any)["id"])
	assert.Equal(t, "failed", resp["message"].(map[string]any)["status"])
}

func TestSendMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"empty content", fmt.Errorf("%w: message content is empty", models.ErrValidation), http.StatusBadRequest},
		{"not live", messages.ErrNotLive, http.StatusConflict},
		{"closed", messages.ErrStreamClosed, http.StatusConflict},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			streams := new(mocks.StreamServiceMock)
			router := setupRouter(new(mocks.ConversationServiceMock), streams)
			streams.On("Send", mock.Anything, "c1", " ").Return(models.Message{}, tc.err).Once()

			rec := do(router, http.MethodPost, "/conversations/c1/messages", `{"content":" "}`)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRetryMessage(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	streams.On("Retry", mock.Anything, "c1", "tmp-1").
		Return(models.Message{ID: "m8", Status: models.MessageConfirmed}, nil).Once()
	streams.On("Retry", mock.Anything, "c1", "nope").Return(models.Message{}, messages.ErrUnknownMessage).Once()
	streams.On("Retry", mock.Anything, "c1", "m1").Return(models.Message{}, messages.ErrNotRetryable).Once()

	assert.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/conversations/c1/messages/tmp-1/retry", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/conversations/c1/messages/nope/retry", "").Code)
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/conversations/c1/messages/m1/retry", "").Code)
	streams.AssertExpectations(t)
}

func TestCloseStream(t *testing.T) {
	streams := new(mocks.StreamServiceMock)
	router := setupRouter(new(mocks.ConversationServiceMock), streams)

	streams.On("CloseStream", "c1").Return().Once()

	rec := do(router, http.MethodDelete, "/conversations/c1/stream", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	streams.AssertExpectations(t)
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audit := new(mocks.AuditMock)
	r := gin.New()
	r.Use(middleware.RequestID())
	RegisterDebugRoutes(r, audit, "u1", true)

	audit.On("Emit", mock.Anything, "INFO", "audit test", "req-9", mock.MatchedBy(func(id *string) bool {
		return id != nil && *id == "u1"
	})).Return().Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-Id", "req-9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	audit.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, new(mocks.AuditMock), "u1", false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	started := false
	r := gin.New()
	r.GET("/healthz", Health("u1", func() bool { return started }))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	started = true
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decode(t, rec)["user_id"])
}
