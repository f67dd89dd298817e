package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/services"
)

// AdminAPI is the narrow admin write path
type AdminAPI interface {
	ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Reply(ctx context.Context, conversationID, text string, quickReplies []string) (*domain.Message, *domain.Delivery, error)
	SetAgentEnabled(ctx context.Context, conversationID string, enabled bool) (*domain.Conversation, error)
	UpdateConversation(ctx context.Context, conversationID string, patch domain.ConversationPatch) (*domain.Conversation, error)
	ListDeliveries(ctx context.Context, conversationID string) ([]domain.Delivery, error)
	ListScenarios(ctx context.Context) ([]domain.Scenario, error)
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	SaveScenario(ctx context.Context, sc *domain.Scenario) error
	DeleteScenario(ctx context.Context, id string) error
}

// HealthCheck pings one dependency for the status endpoint
type HealthCheck func(ctx context.Context) error

// DashboardConfig wires the system panels
type DashboardConfig struct {
	Version           string
	DiskPath          string
	WatchdogThreshold float64
	Health            map[string]HealthCheck
	LLMConfigured     bool
	EventClients      func() int
}

// DashboardHandler handles admin dashboard API requests
type DashboardHandler struct {
	admin     AdminAPI
	trainer   MessageProcessor
	llmSwitch *services.LLMSwitch
	cfg       DashboardConfig
	startedAt time.Time
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(admin AdminAPI, trainer MessageProcessor, llmSwitch *services.LLMSwitch, cfg DashboardConfig) *DashboardHandler {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &DashboardHandler{
		admin:     admin,
		trainer:   trainer,
		llmSwitch: llmSwitch,
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// Routes mounts the admin API; callers wrap it with AdminAuth
func (h *DashboardHandler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/system/metrics", h.GetSystemMetrics)
	r.Get("/system/llm", h.GetLLMSwitch)
	r.Put("/system/llm", h.SetLLMSwitch)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.GetConversations)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Patch("/", h.PatchConversation)
			r.Get("/messages", h.GetConversationMessages)
			r.Post("/reply", h.ReplyToConversation)
			r.Put("/agent", h.ToggleAgent)
			r.Get("/deliveries", h.GetDeliveries)
		})
	})

	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.GetScenarios)
		r.Post("/", h.CreateScenario)
		r.Get("/{id}", h.GetScenario)
		r.Put("/{id}", h.UpdateScenario)
		r.Delete("/{id}", h.DeleteScenario)
	})

	r.Post("/chat/test", h.TrainerChat)
}

// AdminAuth requires the admin key in X-Admin-Key or "Authorization: Bearer"
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if adminKey == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				slog.Warn("⚠️ Unauthorized admin request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	var cpuPercent float64
	if cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = bytesToGB(memStat.Used)
		ramTotalGB = bytesToGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, h.cfg.DiskPath); err == nil {
		diskUsedGB = bytesToGB(diskStat.Used)
		diskTotalGB = bytesToGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	threshold := h.cfg.WatchdogThreshold
	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    threshold > 0 && diskPercent >= threshold,
		WatchdogThreshold: threshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, threshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
		"watchdog_active", response.WatchdogActive,
	)
	writeSuccess(w, response)
}

// diskWarningLevel is "warning" within 10 points of the purge threshold
func diskWarningLevel(percent, threshold float64) string {
	switch {
	case threshold <= 0 || percent < threshold-10:
		return "safe"
	case percent < threshold:
		return "warning"
	default:
		return "critical"
	}
}

// ============================================================================
// System Status
// ============================================================================

// SystemStatusResponse represents overall system status
type SystemStatusResponse struct {
	Online       bool              `json:"online"`
	Uptime       string            `json:"uptime"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	LLM          LLMStatusResponse `json:"llm"`
	EventClients int               `json:"event_clients"`
}

// LLMStatusResponse combines the kill switch with credential presence
type LLMStatusResponse struct {
	services.LLMSwitchStatus
	Configured bool `json:"configured"`
}

// GetStatus returns system status
// GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.cfg.Health))
	online := true
	for name, check := range h.cfg.Health {
		if err := check(ctx); err != nil {
			deps[name] = "error: " + err.Error()
			online = false
			continue
		}
		deps[name] = "ok"
	}

	response := SystemStatusResponse{
		Online:       online,
		Uptime:       formatDuration(time.Since(h.startedAt)),
		Version:      h.cfg.Version,
		Dependencies: deps,
		LLM:          h.llmStatus(),
	}
	if h.cfg.EventClients != nil {
		response.EventClients = h.cfg.EventClients()
	}
	writeSuccess(w, response)
}

func (h *DashboardHandler) llmStatus() LLMStatusResponse {
	return LLMStatusResponse{
		LLMSwitchStatus: h.llmSwitch.Status(),
		Configured:      h.cfg.LLMConfigured,
	}
}

// GetLLMSwitch returns the kill switch state
// GET /api/system/llm
func (h *DashboardHandler) GetLLMSwitch(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.llmStatus())
}

// SetLLMSwitch engages or releases the kill switch
// PUT /api/system/llm
func (h *DashboardHandler) SetLLMSwitch(w http.ResponseWriter, r *http.Request) {
	var req dto.LLMSwitchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	by := "admin@" + r.RemoteAddr
	if req.Enabled {
		h.llmSwitch.Enable(by)
	} else {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "manual"
		}
		h.llmSwitch.Disable(reason, by)
	}
	writeSuccess(w, h.llmStatus())
}

// ============================================================================
// Conversation Management & Reply APIs
// ============================================================================

// GetConversations lists conversations, newest activity first
// GET /api/conversations?status=open&channel=zalo&limit=50
func (h *DashboardHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ConversationFilter{
		Status:  domain.ConversationStatus(q.Get("status")),
		Channel: domain.Channel(q.Get("channel")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, BadRequestResponse("Invalid limit"))
			return
		}
		filter.Limit = limit
	}

	conversations, err := h.admin.ListConversations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, conversations)
}

// GetConversation returns one conversation
// GET /api/conversations/{id}
func (h *DashboardHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.admin.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, conv)
}

// PatchConversation updates status and/or customer name
// PATCH /api/conversations/{id}
func (h *DashboardHandler) PatchConversation(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConversationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	conv, err := h.admin.UpdateConversation(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, conv)
}

// GetConversationMessages returns message history for a conversation, oldest first
// GET /api/conversations/{id}/messages
func (h *DashboardHandler) GetConversationMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.admin.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, messages)
}

// ReplyResponse is returned after an admin reply
type ReplyResponse struct {
	Message  *domain.Message  `json:"message"`
	Delivery *domain.Delivery `json:"delivery,omitempty"`
}

// ReplyToConversation stores an agent message and queues channel delivery
// POST /api/conversations/{id}/reply
func (h *DashboardHandler) ReplyToConversation(w http.ResponseWriter, r *http.Request) {
	var req dto.AdminReplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, delivery, err := h.admin.Reply(r.Context(), chi.URLParam(r, "id"), req.Text, req.QuickReplies)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, ReplyResponse{Message: msg, Delivery: delivery})
}

// ToggleAgent flips agent_enabled; the next inbound message observes it
// PUT /api/conversations/{id}/agent
func (h *DashboardHandler) ToggleAgent(w http.ResponseWriter, r *http.Request) {
	var req dto.AgentToggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	conv, err := h.admin.SetAgentEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, conv)
}

// GetDeliveries lists outbound sends for a conversation
// GET /api/conversations/{id}/deliveries
func (h *DashboardHandler) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.admin.ListDeliveries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, deliveries)
}

// ============================================================================
// Scenario CRUD
// ============================================================================

// GetScenarios lists every scenario, active or not
// GET /api/scenarios
func (h *DashboardHandler) GetScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListScenarios(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	records := make([]domain.ScenarioRecord, 0, len(list))
	for _, sc := range list {
		records = append(records, sc.Record())
	}
	writeSuccess(w, records)
}

// GetScenario returns one scenario
// GET /api/scenarios/{id}
func (h *DashboardHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.admin.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, sc.Record())
}

// CreateScenario creates a scenario; any id in the body is ignored
// POST /api/scenarios
func (h *DashboardHandler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	h.saveScenario(w, r, "", time.Time{})
}

// UpdateScenario replaces a scenario
// PUT /api/scenarios/{id}
func (h *DashboardHandler) UpdateScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.admin.GetScenario(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.saveScenario(w, r, id, existing.CreatedAt)
}

func (h *DashboardHandler) saveScenario(w http.ResponseWriter, r *http.Request, id string, createdAt time.Time) {
	var rec domain.ScenarioRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, err)
		return
	}
	rec.ID = id
	rec.CreatedAt = createdAt

	sc, err := rec.ToScenario()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.admin.SaveScenario(r.Context(), &sc); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, sc.Record())
}

// DeleteScenario removes a scenario
// DELETE /api/scenarios/{id}
func (h *DashboardHandler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admin.DeleteScenario(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]string{"deleted": id})
}

// ============================================================================
// Bot trainer
// ============================================================================

// TrainerChat runs a full turn on a trainer session, optionally forcing a scenario
// POST /api/chat/test
func (h *DashboardHandler) TrainerChat(w http.ResponseWriter, r *http.Request) {
	var req dto.TrainerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.trainer.HandleDirect(r.Context(), req.ToInbound())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, dto.NewWebChatResponse(out))
}

// ============================================================================
// Helpers
// ============================================================================

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
