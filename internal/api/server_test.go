package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/intent"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

const testToken = "s3cret-token"

type fakeDispatcher struct {
	caller intent.Caller
	params []string
	calls  int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, c intent.Caller, action string, params []string, emit notify.Emitter) (string, error) {
	f.caller, f.params = c, params
	f.calls++
	if action != "getContactList" {
		return "Unknown action: " + action, clierr.New(clierr.CodeUsage, "Unknown action: "+action)
	}
	emit.Emit("Looking up contacts")
	return "You have no contacts yet.", nil
}

func newServer(t *testing.T) (*Server, *fakeDispatcher, *storage.SQLiteStore) {
	t.Helper()
	tmp := t.TempDir()
	store, err := storage.OpenSQLite(filepath.Join(tmp, "peasy.db"), filepath.Join(tmp, "peasy.lock"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	d := &fakeDispatcher{}
	return New(d, store, store, metrics.New(), config.ServerSettings{NotifyBuffer: 8, Token: testToken}, nil), d, store
}

func postIntent(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, intentResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/intents", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	h.ServeHTTP(rec, req)
	var resp intentResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v body=%s", err, rec.Body.String())
		}
	}
	return rec, resp
}

func TestIntentEndpoint(t *testing.T) {
	srv, d, store := newServer(t)
	w := &storage.Wallet{UserID: "u1", Address: "0x00000000000000000000000000000000000000aa", Network: "base", Currency: "ETH", EncodedPrivateKey: "x"}
	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	h := srv.Handler()

	rec, resp := postIntent(t, h, `{"user_id":"u1","action":"getContactList","params":[]}`)
	if rec.Code != http.StatusOK || !resp.Success || resp.Reply != "You have no contacts yet." {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
	if len(resp.Progress) != 1 || resp.Progress[0] != "Looking up contacts" {
		t.Fatalf("progress not collected: %v", resp.Progress)
	}
	if d.caller.Wallet != w.Address {
		t.Fatalf("caller wallet not resolved: %+v", d.caller)
	}

	_, resp = postIntent(t, h, `{"user_id":"u2","action":"mint"}`)
	if resp.Success || resp.Reply != "Unknown action: mint" || d.caller.Wallet != "" {
		t.Fatalf("unexpected response %+v caller=%+v", resp, d.caller)
	}

	rec, _ = postIntent(t, h, `{"action":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec, _ = postIntent(t, h, `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func getRecord(h http.Handler, id string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/records/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordEndpoint(t *testing.T) {
	srv, _, store := newServer(t)
	r := &storage.Record{AccountID: "u1", ActionType: storage.ActionSwapQuote}
	if err := store.CreateRecord(context.Background(), r); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	h := srv.Handler()

	rec := getRecord(h, r.ID)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"status":"PROCESSING"`)) {
		t.Fatalf("unexpected record response %d %s", rec.Code, rec.Body.String())
	}

	rec = getRecord(h, "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newServer(t)
	h := srv.Handler()
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestV1RoutesRequireBearerToken(t *testing.T) {
	srv, d, _ := newServer(t)
	h := srv.Handler()
	body := `{"user_id":"victim","action":"sendCrypto","params":["0x00000000000000000000000000000000000000aa","0x00000000000000000000000000000000000000bb","1","ETH"]}`
	for _, header := range []string{"", "Bearer wrong", "bearer " + testToken, testToken, "Bearer " + testToken + "x"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/intents", strings.NewReader(body))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}

		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/v1/records/any", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401 for records, got %d", header, rec.Code)
		}
	}
	if d.calls != 0 {
		t.Fatalf("dispatcher must not run without a valid token, ran %d times", d.calls)
	}
}

func TestEmptyTokenRejectsEverything(t *testing.T) {
	d := &fakeDispatcher{}
	srv := New(d, nil, nil, nil, config.ServerSettings{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/intents", strings.NewReader(`{"user_id":"u1","action":"getContactList"}`))
	req.Header.Set("Authorization", "Bearer ")
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || d.calls != 0 {
		t.Fatalf("expected 401 with no configured token, got %d", rec.Code)
	}

	err := srv.Run(context.Background())
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected serve to refuse to start without a token, got %v", err)
	}
	if srv.settings.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected loopback default address, got %q", srv.settings.Addr)
	}
}

func TestRecordEndpointHidesActionLog(t *testing.T) {
	srv, _, store := newServer(t)
	ctx := context.Background()
	r := &storage.Record{AccountID: "u1", ActionType: storage.ActionSwap}
	if err := store.CreateRecord(ctx, r); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	result := map[string]any{
		"success":    true,
		"tx_hash":    "0xabc",
		"action_log": []string{"Error in step \"Sending\": rpc 502 at node-3"},
	}
	if _, err := store.CompleteRecord(ctx, r.ID, storage.Outcome{Status: storage.StatusSuccess, ResultData: result, UserMessage: "done"}); err != nil {
		t.Fatalf("CompleteRecord: %v", err)
	}

	rec := getRecord(srv.Handler(), r.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "action_log") || strings.Contains(body, "node-3") {
		t.Fatalf("action log leaked: %s", body)
	}
	if !strings.Contains(body, `"tx_hash":"0xabc"`) {
		t.Fatalf("expected the rest of the result to survive: %s", body)
	}
}
