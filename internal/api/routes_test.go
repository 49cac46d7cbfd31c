package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/auth"
	"github.com/satriahrh/sahayak/internal/metrics"
	"github.com/satriahrh/sahayak/internal/websocket"
	"github.com/satriahrh/sahayak/usecase"
)

type fakeController struct {
	profile  entities.Profile
	state    entities.LiveState
	muted    bool
	startErr error
	key      string
}

func (f *fakeController) Start(ctx context.Context) error {
	if f.startErr != nil {
		f.state = entities.LiveStateError
		return f.startErr
	}
	f.state = entities.LiveStateConnected
	return nil
}

func (f *fakeController) Stop() { f.state = entities.LiveStateIdle }

func (f *fakeController) ToggleMute() (bool, error) {
	if f.state != entities.LiveStateConnected {
		return false, domain.ErrNotConnected
	}
	f.muted = !f.muted
	return f.muted, nil
}

func (f *fakeController) SelectCredential(ctx context.Context, key string) error {
	f.key = key
	return f.Start(ctx)
}

func (f *fakeController) SetProfile(p entities.Profile) error {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	f.profile = p
	return nil
}

func (f *fakeController) Profile() entities.Profile { return f.profile }

func (f *fakeController) Snapshot() entities.LiveSnapshot {
	return entities.LiveSnapshot{State: f.state, Muted: f.muted}
}

type fakeCredentials struct{ key string }

func (f *fakeCredentials) Resolve() string { return f.key }

func (f *fakeCredentials) SetOverride(k string) error { f.key = k; return nil }

type fakeGenerator struct {
	request repositories.ChatRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, credential string, request repositories.ChatRequest) (repositories.ChatMessage, error) {
	f.request = request
	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: "Namaste " + request.UserName}, nil
}

type testEnv struct {
	e     *echo.Echo
	ctrl  *fakeController
	gen   *fakeGenerator
	creds *fakeCredentials
}

func setupTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	ctrl := &fakeController{profile: entities.Profile{Voice: entities.DefaultVoice}, state: entities.LiveStateIdle}
	gen := &fakeGenerator{}
	creds := &fakeCredentials{key: "k"}

	live := usecase.NewLiveService(ctrl, logger)
	reg := prometheus.NewRegistry()
	metrics.NewMetrics(reg)

	e := echo.New()
	InitRoutes(e, Dependencies{
		Live:     live,
		Chat:     usecase.NewChatService(gen, creds, logger),
		Hub:      websocket.NewHub(live, logger),
		Signer:   auth.NewSigner(secret, time.Hour),
		Gatherer: reg,
		Logger:   logger,
	})
	return &testEnv{e: e, ctrl: ctrl, gen: gen, creds: creds}
}

func (env *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func signIn(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/v1/auth", `{"name":"`+name+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Sign in failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	decode(t, rec, &resp)
	return resp.Token
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, "")
	rec := env.do(http.MethodGet, "/health", "", "")

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sahayak") {
		t.Errorf("Unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t, "")
	rec := env.do(http.MethodGet, "/metrics", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sahayak_live_sessions_started_total") {
		t.Error("Expected live session metrics to be exposed")
	}
}

func TestSignIn(t *testing.T) {
	env := setupTestEnv(t, "secret")

	rec := env.do(http.MethodPost, "/api/v1/auth", `{"name":" Asha ","voice":"Puck"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	var resp AuthResponse
	decode(t, rec, &resp)
	if resp.Token == "" || resp.ExpiresAt == nil {
		t.Error("Expected a token with expiry")
	}
	if resp.UserName != "Asha" || resp.Voice != "Puck" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if env.ctrl.profile.UserName != "Asha" {
		t.Errorf("Expected profile name to be captured, got %q", env.ctrl.profile.UserName)
	}
}

func TestSignInValidation(t *testing.T) {
	env := setupTestEnv(t, "secret")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing name", `{"name":"  "}`, "missing_fields"},
		{"unknown voice", `{"name":"Asha","voice":"Robot"}`, "invalid_voice"},
		{"bad json", `{"name":`, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/auth", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Error != tt.code {
				t.Errorf("Expected %s, got %s", tt.code, resp.Error)
			}
		})
	}
}

func TestSignInWithoutSecret(t *testing.T) {
	env := setupTestEnv(t, "")

	var resp AuthResponse
	rec := env.do(http.MethodPost, "/api/v1/auth", `{"name":"Asha"}`, "")
	decode(t, rec, &resp)
	if resp.Token != "" || resp.UserName != "Asha" {
		t.Errorf("Expected name without token, got %+v", resp)
	}
}

func TestLiveRequiresToken(t *testing.T) {
	env := setupTestEnv(t, "secret")

	if rec := env.do(http.MethodPost, "/api/v1/live/start", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/v1/live/start", "", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/ws", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for websocket without token, got %d", rec.Code)
	}
}

func TestLiveStartUsesTokenName(t *testing.T) {
	env := setupTestEnv(t, "secret")
	token := signIn(t, env, "Ravi")
	env.ctrl.profile.UserName = "someone else"

	rec := env.do(http.MethodPost, "/api/v1/live/start", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	var snap entities.LiveSnapshot
	decode(t, rec, &snap)
	if snap.State != entities.LiveStateConnected {
		t.Errorf("Expected connected, got %s", snap.State)
	}
	if env.ctrl.profile.UserName != "Ravi" {
		t.Errorf("Expected session for Ravi, got %q", env.ctrl.profile.UserName)
	}
}

func TestLiveStartErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewMissingCredentialError(), http.StatusPreconditionFailed, "missing_credential"},
		{domain.NewAccessDeniedError(nil), http.StatusForbidden, "access_denied"},
		{domain.NewConfigurationError(nil), http.StatusUnprocessableEntity, "configuration"},
		{domain.NewDeviceError(nil), http.StatusServiceUnavailable, "device"},
		{domain.NewTransportError(nil), http.StatusBadGateway, "transport"},
		{domain.ErrSessionCanceled, http.StatusConflict, "session_canceled"},
	}

	for _, tt := range tests {
		env := setupTestEnv(t, "")
		env.ctrl.startErr = tt.err

		rec := env.do(http.MethodPost, "/api/v1/live/start", "", "")
		if rec.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, rec.Code)
		}
		var resp ErrorResponse
		decode(t, rec, &resp)
		if resp.Error != tt.code {
			t.Errorf("%v: expected code %s, got %s", tt.err, tt.code, resp.Error)
		}
	}
}

func TestLiveMuteStopAndState(t *testing.T) {
	env := setupTestEnv(t, "")

	if rec := env.do(http.MethodPost, "/api/v1/live/mute", "", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 when not connected, got %d", rec.Code)
	}

	env.do(http.MethodPost, "/api/v1/live/start", "", "")
	rec := env.do(http.MethodPost, "/api/v1/live/mute", "", "")
	var mute MuteResponse
	decode(t, rec, &mute)
	if !mute.Muted {
		t.Error("Expected muted")
	}

	env.do(http.MethodPost, "/api/v1/live/stop", "", "")
	var snap entities.LiveSnapshot
	decode(t, env.do(http.MethodGet, "/api/v1/live", "", ""), &snap)
	if snap.State != entities.LiveStateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
}

func TestLiveVoiceAndCredential(t *testing.T) {
	env := setupTestEnv(t, "")

	if rec := env.do(http.MethodPut, "/api/v1/live/voice", `{"voice":"Fenrir"}`, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if env.ctrl.profile.Voice != "Fenrir" {
		t.Errorf("Expected Fenrir, got %s", env.ctrl.profile.Voice)
	}
	if rec := env.do(http.MethodPut, "/api/v1/live/voice", `{"voice":"Robot"}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown voice, got %d", rec.Code)
	}

	if rec := env.do(http.MethodPost, "/api/v1/live/credential", `{"api_key":" "}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank key, got %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/v1/live/credential", `{"api_key":"new-key"}`, "")
	if rec.Code != http.StatusOK || env.ctrl.key != "new-key" {
		t.Errorf("Expected credential to restart the session, got %d %q", rec.Code, env.ctrl.key)
	}
}

func TestChat(t *testing.T) {
	env := setupTestEnv(t, "secret")
	token := signIn(t, env, "Meera")

	rec := env.do(http.MethodPost, "/api/v1/chat", `{"message":"Hi","history":[{"role":"user","content":"Hello"}]}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	var resp ChatResponse
	decode(t, rec, &resp)
	if resp.Reply.Content != "Namaste Meera" || resp.Reply.Role != repositories.AssistantRole {
		t.Errorf("Unexpected reply %+v", resp.Reply)
	}
	if len(env.gen.request.History) != 1 {
		t.Errorf("Expected history to be forwarded, got %d", len(env.gen.request.History))
	}
}

func TestChatErrors(t *testing.T) {
	env := setupTestEnv(t, "")

	if rec := env.do(http.MethodPost, "/api/v1/chat", `{"message":"Hi","history":[{"role":"system","content":"x"}]}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid role, got %d", rec.Code)
	}

	env.creds.key = ""
	rec := env.do(http.MethodPost, "/api/v1/chat", `{"message":"Hi"}`, "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected 412 without credential, got %d", rec.Code)
	}
}
