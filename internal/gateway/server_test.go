package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/audit"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/version"
)

type mockChatProcessor struct {
	gotSession string
	gotSender  string
	gotMessage string
	resp       string
	err        error
}

func (m *mockChatProcessor) ProcessForChannel(ctx context.Context, channel, chatID, senderID, content string) (string, error) {
	m.gotSession = channel + ":" + chatID
	m.gotSender = senderID
	m.gotMessage = content
	if m.err != nil {
		return "", m.err
	}
	return m.resp, nil
}

type mockGate struct {
	pending     []approval.Pending
	resolved    map[string]bool
	resolveWins bool
}

func (m *mockGate) PendingList() []approval.Pending { return m.pending }

func (m *mockGate) Resolve(nonce string, approved bool) bool {
	if m.resolved == nil {
		m.resolved = make(map[string]bool)
	}
	m.resolved[nonce] = approved
	return m.resolveWins
}

type mockAudit struct {
	report audit.Report
	err    error
}

func (m *mockAudit) Verify(date string) (audit.Report, error) {
	return m.report, m.err
}

func decodeJSON(t *testing.T, body *bytes.Buffer) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler("", &mockChatProcessor{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if body["request_id"] == "" {
		t.Fatal("expected non-empty request_id")
	}
}

func TestVersionEndpoint(t *testing.T) {
	h := NewHandler("", &mockChatProcessor{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["version"] != version.Version {
		t.Fatalf("expected version=%s, got %v", version.Version, body["version"])
	}
}

func TestChatUnauthorized(t *testing.T) {
	h := NewHandler("secret-token", &mockChatProcessor{resp: "ok"}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["code"] != "unauthorized" {
		t.Fatalf("expected code=unauthorized, got %v", body["code"])
	}
}

func TestChatSuccess(t *testing.T) {
	processor := &mockChatProcessor{resp: "hello back"}
	h := NewHandler("secret-token", processor, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"message":"hello","session_id":"s1","sender_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if processor.gotSession != "gateway:s1" {
		t.Fatalf("expected session gateway:s1, got %s", processor.gotSession)
	}
	if processor.gotSender != "u1" {
		t.Fatalf("expected sender u1, got %s", processor.gotSender)
	}
	if processor.gotMessage != "hello" {
		t.Fatalf("expected message hello, got %s", processor.gotMessage)
	}

	body := decodeJSON(t, rr.Body)
	if body["response"] != "hello back" {
		t.Fatalf("expected response=hello back, got %v", body["response"])
	}
}

func TestChatInternalError(t *testing.T) {
	processor := &mockChatProcessor{err: errors.New("model down")}
	h := NewHandler("", processor, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["code"] != "internal_error" {
		t.Fatalf("expected code=internal_error, got %v", body["code"])
	}
}

func TestApprovalsList(t *testing.T) {
	gate := &mockGate{pending: []approval.Pending{
		{
			Nonce:          "n-1",
			ToolName:       "shell_exec",
			ArgsJSON:       `{"command":"git push --force"}`,
			Classification: risk.Classification{Level: risk.L3, Reason: "forced push"},
		},
	}}
	h := NewHandler("", nil, gate, nil)
	req := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["count"] != float64(1) {
		t.Fatalf("expected count=1, got %v", body["count"])
	}
}

func TestApprovalsList_RequiresToken(t *testing.T) {
	h := NewHandler("secret", nil, &mockGate{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestApprovalResolve(t *testing.T) {
	gate := &mockGate{resolveWins: true}
	h := NewHandler("", nil, gate, nil)
	req := httptest.NewRequest(http.MethodPost, "/approvals/n-42", bytes.NewBufferString(`{"approved":true}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if approved, ok := gate.resolved["n-42"]; !ok || !approved {
		t.Fatalf("expected gate resolved n-42 approved, got %+v", gate.resolved)
	}
	body := decodeJSON(t, rr.Body)
	if body["approved"] != true {
		t.Fatalf("expected approved=true, got %v", body["approved"])
	}
}

func TestApprovalResolve_UnknownNonce(t *testing.T) {
	gate := &mockGate{resolveWins: false}
	h := NewHandler("", nil, gate, nil)
	req := httptest.NewRequest(http.MethodPost, "/approvals/gone", bytes.NewBufferString(`{"approved":false}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestApprovalResolve_MissingNonce(t *testing.T) {
	h := NewHandler("", nil, &mockGate{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/approvals/", bytes.NewBufferString(`{"approved":true}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAuditVerify(t *testing.T) {
	h := NewHandler("", nil, nil, &mockAudit{report: audit.Report{Valid: true, Entries: 3, FirstBroken: -1}})
	req := httptest.NewRequest(http.MethodGet, "/audit/verify?date=2026-08-30", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body)
	if body["valid"] != true {
		t.Fatalf("expected valid=true, got %v", body["valid"])
	}
	if body["entries"] != float64(3) {
		t.Fatalf("expected entries=3, got %v", body["entries"])
	}
}

func TestAuditVerify_NoFile(t *testing.T) {
	h := NewHandler("", nil, nil, &mockAudit{err: fmt.Errorf("%w: 2026-01-01", audit.ErrNoAuditFile)})
	req := httptest.NewRequest(http.MethodGet, "/audit/verify?date=2026-01-01", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAuditVerify_BadDate(t *testing.T) {
	h := NewHandler("", nil, nil, &mockAudit{})
	req := httptest.NewRequest(http.MethodGet, "/audit/verify?date=yesterday", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
