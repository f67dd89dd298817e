package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/adapters/repository"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/services"
)

const testAdminKey = "admin-key"

type dashboardFixture struct {
	router    http.Handler
	store     *repository.MemoryStore
	trainer   *MockProcessor
	llmSwitch *services.LLMSwitch
}

func newDashboardFixture(t *testing.T, health map[string]HealthCheck) *dashboardFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	trainer := new(MockProcessor)
	llmSwitch := services.NewLLMSwitch()
	admin := services.NewAdminService(store, store, store, nil, nil)

	h := NewDashboardHandler(admin, trainer, llmSwitch, DashboardConfig{
		Version:           "test",
		WatchdogThreshold: 80,
		Health:            health,
		LLMConfigured:     true,
		EventClients:      func() int { return 3 },
	})

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(AdminAuth(testAdminKey))
		h.Routes(r)
	})
	return &dashboardFixture{router: r, store: store, trainer: trainer, llmSwitch: llmSwitch}
}

func (f *dashboardFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *dashboardFixture) seedConversation(t *testing.T, channel domain.Channel, session string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := f.store.GetOrCreateConversation(ctx, channel, session, "")
	require.NoError(t, err)
	_, err = f.store.AppendMessage(ctx, domain.NewMessage{
		ConversationID: conv.ID,
		SenderType:     domain.SenderTypeCustomer,
		MessageType:    domain.MessageTypeText,
		Content:        domain.MessageContent{Text: "còn hàng không ạ"},
	})
	require.NoError(t, err)
	return conv
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	env := decodeEnvelope(t, rec)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

func TestAdminAuth(t *testing.T) {
	f := newDashboardFixture(t, nil)
	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-Admin-Key", "nope", http.StatusUnauthorized},
		{"header key", "X-Admin-Key", testAdminKey, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + testAdminKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/system/llm", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAdminAuth_NoKeyConfiguredDeniesAll(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Admin-Key", "")
	rec := httptest.NewRecorder()

	AdminAuth("")(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboard_Conversations(t *testing.T) {
	f := newDashboardFixture(t, nil)
	web := f.seedConversation(t, domain.ChannelWeb, "web-1")
	f.seedConversation(t, domain.ChannelZalo, "zalo-1")

	rec := f.do(t, http.MethodGet, "/api/conversations?channel=web", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[[]domain.Conversation](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, web.ID, list[0].ID)

	rec = f.do(t, http.MethodGet, "/api/conversations?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations?channel=telegram", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+web.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web-1", decodeData[domain.Conversation](t, rec).ExternalSessionID)

	rec = f.do(t, http.MethodGet, "/api/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+web.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeData[[]domain.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, "còn hàng không ạ", msgs[0].Content.Text)
}

func TestDashboard_ReplyAndControls(t *testing.T) {
	f := newDashboardFixture(t, nil)
	conv := f.seedConversation(t, domain.ChannelWeb, "web-1")
	base := "/api/conversations/" + conv.ID

	rec := f.do(t, http.MethodPost, base+"/reply", `{"text":"Dạ em gửi chị bảng size","quick_replies":["Size S"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decodeData[ReplyResponse](t, rec)
	require.NotNil(t, reply.Message)
	assert.Equal(t, domain.SenderTypeAdmin, reply.Message.SenderType)
	assert.Nil(t, reply.Delivery)

	rec = f.do(t, http.MethodPost, base+"/reply", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, base+"/agent", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeData[domain.Conversation](t, rec).AgentEnabled)

	rec = f.do(t, http.MethodPatch, base, `{"status":"resolved","customer_name":"Chị Mai"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decodeData[domain.Conversation](t, rec)
	assert.Equal(t, domain.ConversationStatusResolved, patched.Status)
	assert.Equal(t, "Chị Mai", patched.CustomerName)
	assert.True(t, patched.AgentEnabled)

	rec = f.do(t, http.MethodGet, base+"/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]domain.Delivery](t, rec))

	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestDashboard_Scenarios(t *testing.T) {
	f := newDashboardFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/scenarios", `{
		"id": "ignored",
		"name": "Hỏi giá",
		"trigger_keywords": ["giá", "bao nhiêu"],
		"priority": 10,
		"response_type": "template",
		"response_template": "Dạ {{customer_name}} ơi, giá là 250k ạ",
		"quick_replies": ["Đặt hàng"],
		"is_active": true
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeData[domain.ScenarioRecord](t, rec)
	require.NotEmpty(t, created.ID)
	assert.NotEqual(t, "ignored", created.ID)
	assert.Equal(t, domain.ResponseTypeTemplate, created.ResponseType)

	rec = f.do(t, http.MethodPost, "/api/scenarios", `{"name":"x","trigger_keywords":["a"],"response_type":"webhook"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/scenarios", `{"name":"x","response_type":"template","response_template":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "needs a keyword or an intent")

	rec = f.do(t, http.MethodPut, "/api/scenarios/"+created.ID, `{
		"name": "Hỏi giá",
		"trigger_keywords": ["giá"],
		"response_type": "llm",
		"llm_system_prompt": "Trả lời ngắn gọn về giá",
		"is_active": false
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeData[domain.ScenarioRecord](t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, domain.ResponseTypeLLM, updated.ResponseType)
	assert.False(t, updated.IsActive)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	rec = f.do(t, http.MethodPut, "/api/scenarios/missing", `{"name":"x","trigger_keywords":["a"],"response_type":"template","response_template":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]domain.ScenarioRecord](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/scenarios/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/scenarios/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard_LLMSwitch(t *testing.T) {
	f := newDashboardFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/system/llm", `{"enabled":false,"reason":"budget exceeded"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeData[LLMStatusResponse](t, rec)
	assert.False(t, status.Enabled)
	assert.Equal(t, "budget exceeded", status.Reason)
	assert.True(t, status.Configured)
	assert.False(t, f.llmSwitch.Enabled())

	rec = f.do(t, http.MethodPut, "/api/system/llm", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.llmSwitch.Enabled())

	f.llmSwitch.Disable("", "ops")
	rec = f.do(t, http.MethodGet, "/api/system/llm", "")
	assert.False(t, decodeData[LLMStatusResponse](t, rec).Enabled)
}

func TestDashboard_Status(t *testing.T) {
	f := newDashboardFixture(t, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := f.do(t, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeData[SystemStatusResponse](t, rec)
	assert.False(t, status.Online)
	assert.Equal(t, "ok", status.Dependencies["database"])
	assert.Equal(t, "error: connection refused", status.Dependencies["redis"])
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 3, status.EventClients)
	assert.True(t, status.LLM.Enabled)
}

func TestDashboard_TrainerChat(t *testing.T) {
	f := newDashboardFixture(t, nil)
	f.trainer.On("HandleDirect", mock.Anything, mock.MatchedBy(func(in domain.InboundMessage) bool {
		return in.ExternalSessionID == "trainer:s1" && in.ScenarioID == "sc-1" && in.Channel == domain.ChannelWeb
	})).Return(&domain.OutboundMessage{ConversationID: "c1", ResponseText: "Dạ 250k ạ", AutoReplied: true}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/chat/test", `{"session_id":"s1","text":"giá?","scenario_id":"sc-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dạ 250k ạ", decodeData[map[string]any](t, rec)["response_text"])
	f.trainer.AssertExpectations(t)
}

func TestDashboardHelpers(t *testing.T) {
	assert.Equal(t, "safe", diskWarningLevel(50, 80))
	assert.Equal(t, "warning", diskWarningLevel(75, 80))
	assert.Equal(t, "critical", diskWarningLevel(80, 80))
	assert.Equal(t, "safe", diskWarningLevel(99, 0))

	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "2d 1h 0m", formatDuration(49*time.Hour))
	assert.Equal(t, 1.23, roundTo2Decimals(1.2399))
	assert.Equal(t, float64(1), bytesToGB(1<<30))
}
