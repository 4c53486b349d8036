package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// mockDB implements handler.DBPinger for testing.
type mockDB struct {
	err error
}

func (m *mockDB) Ping(ctx context.Context) error { return m.err }

// mockAuthClient implements service.AuthClient for testing.
type mockAuthClient struct {
	uid string
	err error
}

func (m *mockAuthClient) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &auth.Token{UID: m.uid}, nil
}

// mockConversations implements handler.ConversationStore and
// handler.ConversationOwnerCheck for testing.
type mockConversations struct{}

func (m *mockConversations) Create(ctx context.Context, conv *model.Conversation) error { return nil }
func (m *mockConversations) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	return &model.Conversation{ID: id, UserID: "test-user"}, nil
}
func (m *mockConversations) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	return []model.Conversation{}, nil
}
func (m *mockConversations) Archive(ctx context.Context, id string) error { return nil }

// mockOrchestrator implements handler.Orchestrator for testing.
type mockOrchestrator struct{}

func (m *mockOrchestrator) Orchestrate(ctx context.Context, p service.OrchestrateParams) (*service.OrchestrateResult, error) {
	return &service.OrchestrateResult{Answer: "reponse de test"}, nil
}

// mockRatings implements handler.RatingStore for testing.
type mockRatings struct{}

func (m *mockRatings) Upsert(ctx context.Context, rating *model.MessageRating) error { return nil }

func newTestRouter(authErr error) http.Handler {
	client := &mockAuthClient{uid: "test-user", err: authErr}
	deps := &Dependencies{
		DB:            &mockDB{},
		AuthService:   service.NewAuthService(client),
		FrontendURL:   "http://localhost:3000",
		Version:       "0.2.0",
		Conversations: &mockConversations{},
		Messages:      &mockConversations{},
		Orchestrator:  &mockOrchestrator{},
		Ratings:       &mockRatings{},
	}
	return New(deps)
}

func TestHealth_IsPublic(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["version"] != "0.2.0" {
		t.Errorf("version = %q, want %q", body["version"], "0.2.0")
	}
}

func TestHealth_DBDown(t *testing.T) {
	deps := &Dependencies{
		DB:            &mockDB{err: fmt.Errorf("connection refused")},
		AuthService:   service.NewAuthService(&mockAuthClient{uid: "test-user"}),
		FrontendURL:   "http://localhost:3000",
		Conversations: &mockConversations{},
		Messages:      &mockConversations{},
		Orchestrator:  &mockOrchestrator{},
		Ratings:       &mockRatings{},
	}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestConversations_RequiresAuth(t *testing.T) {
	r := newTestRouter(fmt.Errorf("invalid token"))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestConversations_WithAuth(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMessages_RequiresAuth(t *testing.T) {
	r := newTestRouter(fmt.Errorf("invalid token"))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestInternalAuth_Bypasses_Firebase(t *testing.T) {
	client := &mockAuthClient{uid: "test-user", err: fmt.Errorf("firebase should not be called")}
	deps := &Dependencies{
		DB:                 &mockDB{},
		AuthService:        service.NewAuthService(client),
		FrontendURL:        "http://localhost:3000",
		InternalAuthSecret: "test-secret-123",
		Conversations:      &mockConversations{},
		Messages:           &mockConversations{},
		Orchestrator:       &mockOrchestrator{},
		Ratings:            &mockRatings{},
	}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Internal-Auth", "test-secret-123")
	req.Header.Set("X-User-ID", "internal-user-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestInternalAuth_BadSecret_Returns401(t *testing.T) {
	client := &mockAuthClient{uid: "test-user", err: fmt.Errorf("firebase should not be called")}
	deps := &Dependencies{
		DB:                 &mockDB{},
		AuthService:        service.NewAuthService(client),
		FrontendURL:        "http://localhost:3000",
		InternalAuthSecret: "correct-secret",
		Conversations:      &mockConversations{},
		Messages:           &mockConversations{},
		Orchestrator:       &mockOrchestrator{},
		Ratings:            &mockRatings{},
	}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Internal-Auth", "wrong-secret")
	req.Header.Set("X-User-ID", "internal-user-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
