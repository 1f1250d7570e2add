package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

const setupWallet = "0x1111111111111111111111111111111111111111"

type setupServer struct {
	*httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	lastBody  map[string]any
	polls     int32
	failAgent bool
	complete  bool
}

func newSetupServer(t *testing.T) *setupServer {
	t.Helper()
	s := &setupServer{calls: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *setupServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			var body map[string]any
			_ = json.Unmarshal(raw, &body)
			s.lastBody = body
		}
	}
	failAgent, complete := s.failAgent, s.complete
	s.mu.Unlock()

	switch r.URL.Path {
	case "/api/maxxit/check-setup":
		if complete {
			_, _ = w.Write([]byte(`{"success":true,"isSetupComplete":true,"agent":{"id":"a9","name":"Lazy Trader"},"ostiumAgentAddress":"0x2222222222222222222222222222222222222222","telegramUser":{"id":"u9"},"tradingPreferences":{"risk_tolerance":10,"trade_frequency":20,"social_sentiment_weight":30,"price_momentum_focus":40,"market_rank_priority":50}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"isSetupComplete":false}`))
	case "/api/maxxit/generate-agent":
		if failAgent {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Agent quota exceeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"agentAddress":"0x2222222222222222222222222222222222222222","isNew":true}`))
	case "/api/maxxit/generate-telegram-link":
		_, _ = w.Write([]byte(`{"success":true,"linkCode":"abc","botUsername":"lazy_bot","deepLink":"https://t.me/lazy_bot?start=abc","expiresIn":600}`))
	case "/api/maxxit/check-telegram-status":
		if atomic.AddInt32(&s.polls, 1) < 2 {
			_, _ = w.Write([]byte(`{"success":true,"connected":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"connected":true,"telegramUser":{"id":"u1","telegram_username":"lazy"}}`))
	case "/api/maxxit/create-agent":
		_, _ = w.Write([]byte(`{"success":true,"agent":{"id":"a1","name":"Lazy Trader"},"ostiumAgentAddress":"0x2222222222222222222222222222222222222222"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *setupServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *setupServer) body() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody
}

func setupEnv(t *testing.T, srv *setupServer) {
	t.Helper()
	isolate(t)
	storeEnv(t)
	t.Setenv("LAZYTRADER_API_ORIGIN", srv.URL)
	t.Setenv("LAZYTRADER_POLL_INTERVAL", "5ms")
	t.Setenv("LAZYTRADER_WALLET", setupWallet)
}

func runSetup(t *testing.T, args ...string) map[string]any {
	t.Helper()
	res := run(t, NewRunner(), append(append([]string{"setup"}, args...), "--results-only")...)
	if res.code != 0 {
		t.Fatalf("setup %v: expected exit 0, got %d stderr=%s", args, res.code, res.stderr)
	}
	return decodeMap(t, res.stdout)
}

func TestSetupFlowAcrossInvocations(t *testing.T) {
	srv := newSetupServer(t)
	setupEnv(t, srv)

	out := runSetup(t, "agent")
	if out["step"] != "agent" || out["agentAddress"] != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected state after agent: %v", out)
	}
	if out["nextAction"] != "setup link" {
		t.Fatalf("unexpected next action: %v", out["nextAction"])
	}
	if srv.count("/api/maxxit/check-setup") != 1 {
		t.Fatalf("expected one completed-setup check")
	}

	out = runSetup(t, "link")
	if out["linkCode"] != "abc" || out["deepLink"] != "https://t.me/lazy_bot?start=abc" || out["step"] != "telegram-link" {
		t.Fatalf("unexpected state after link: %v", out)
	}

	out = runSetup(t, "wait", "--wait-timeout", "5s")
	if out["step"] != "create-agent" || out["isPolling"] != false {
		t.Fatalf("unexpected state after wait: %v", out)
	}
	if user, _ := out["telegramUser"].(map[string]any); user["id"] != "u1" {
		t.Fatalf("telegram user not stored: %v", out["telegramUser"])
	}

	out = runSetup(t, "preferences", "--risk-tolerance", "150", "--trade-frequency", "-3")
	prefs := out["tradingPreferences"].(map[string]any)
	if prefs["risk_tolerance"] != float64(100) || prefs["trade_frequency"] != float64(0) || prefs["market_rank_priority"] != float64(50) {
		t.Fatalf("preferences not clamped: %v", prefs)
	}

	out = runSetup(t, "create")
	if out["step"] != "complete" || out["nextAction"] != "delegation enable" {
		t.Fatalf("unexpected state after create: %v", out)
	}
	body := srv.body()
	if body["telegramAlphaUserId"] != "u1" || body["userWallet"] != setupWallet || body["isTestnet"] != true {
		t.Fatalf("unexpected create-agent body: %v", body)
	}
	if sent := body["tradingPreferences"].(map[string]any); sent["risk_tolerance"] != float64(100) {
		t.Fatalf("stored preferences not sent: %v", sent)
	}

	out = runSetup(t, "status")
	if out["step"] != "complete" || out["sessionId"] == "" {
		t.Fatalf("unexpected stored status: %v", out)
	}

	res := run(t, NewRunner(), "setup", "preferences", "--risk-tolerance", "1")
	if res.code != 20 {
		t.Fatalf("preferences after completion should be rejected, got %d stderr=%s", res.code, res.stderr)
	}
}

func TestSetupCompletedWalletSkipsAhead(t *testing.T) {
	srv := newSetupServer(t)
	srv.complete = true
	setupEnv(t, srv)

	out := runSetup(t, "check")
	if out["step"] != "complete" || out["alreadyLinked"] != true {
		t.Fatalf("completed setup should jump to complete: %v", out)
	}
	prefs := out["tradingPreferences"].(map[string]any)
	if prefs["risk_tolerance"] != float64(10) {
		t.Fatalf("server preferences not taken: %v", prefs)
	}

	out = runSetup(t, "agent")
	if out["step"] != "complete" {
		t.Fatalf("agent on a complete session should be a no-op: %v", out)
	}
	if srv.count("/api/maxxit/generate-agent") != 0 {
		t.Fatalf("no remote call expected once complete")
	}
}

func TestSetupRemoteErrorIsStored(t *testing.T) {
	srv := newSetupServer(t)
	srv.failAgent = true
	setupEnv(t, srv)

	res := run(t, NewRunner(), "setup", "agent")
	if res.code != 21 {
		t.Fatalf("expected remote exit 21, got %d stderr=%s", res.code, res.stderr)
	}

	out := runSetup(t, "status")
	if out["error"] != "Agent quota exceeded" || out["step"] != "idle" {
		t.Fatalf("server message should be kept in the session: %v", out)
	}

	out = runSetup(t, "clear-error")
	if _, ok := out["error"]; ok {
		t.Fatalf("error should be cleared: %v", out)
	}
}

func TestSetupResetKeepsWallet(t *testing.T) {
	srv := newSetupServer(t)
	setupEnv(t, srv)

	runSetup(t, "agent")
	out := runSetup(t, "reset")
	if out["step"] != "idle" || out["wallet"] != setupWallet {
		t.Fatalf("unexpected state after reset: %v", out)
	}
	if _, ok := out["agentAddress"]; ok {
		t.Fatalf("reset should drop the agent address: %v", out)
	}
}

func TestSetupRequiresWalletAndOrigin(t *testing.T) {
	isolate(t)
	storeEnv(t)
	if res := run(t, NewRunner(), "setup", "status"); res.code != 2 {
		t.Fatalf("missing wallet should be a usage error, got %d", res.code)
	}
	t.Setenv("LAZYTRADER_WALLET", setupWallet)
	if res := run(t, NewRunner(), "setup", "agent"); res.code != 2 {
		t.Fatalf("missing api origin should be a usage error, got %d", res.code)
	}
	if res := run(t, NewRunner(), "setup", "agent", "--api-origin", "http://example.com"); res.code != 2 {
		t.Fatalf("plain http origin should be rejected, got %d", res.code)
	}
}

func TestSetupWaitWithoutLinkCode(t *testing.T) {
	srv := newSetupServer(t)
	setupEnv(t, srv)
	res := run(t, NewRunner(), "setup", "wait", "--wait-timeout", "1s")
	if res.code != 20 {
		t.Fatalf("wait without a link code should fail its precondition, got %d stderr=%s", res.code, res.stderr)
	}
	if srv.count("/api/maxxit/check-telegram-status") != 0 {
		t.Fatalf("no poll expected without a link code")
	}
}
