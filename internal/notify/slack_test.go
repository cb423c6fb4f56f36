package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resolvedResult() models.RunResult {
	return models.RunResult{
		IncidentID: "INC-200",
		AlertType:  "HighMemory",
		Status:     models.StatusResolved,
		Diagnosis: &models.Diagnosis{
			RootCause:     "memory leak",
			Action:        models.ActionRestart,
			Confidence:    0.9,
			Justification: "clear leaked memory",
		},
		CouncilDecision: &models.CouncilDecision{
			Summary: "Council voted 3/3 APPROVED. Final: APPROVED",
			Votes: []models.CouncilVote{
				{Role: models.RoleDiagnoser, Verdict: models.VerdictApproved},
			},
		},
	}
}

func TestNotifyPostsBlockKitPayload(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	NewSlackNotifier(srv.URL, discardLogger()).Notify(context.Background(), resolvedResult())

	blocks, ok := body["blocks"].([]any)
	if !ok || len(blocks) < 3 {
		t.Fatalf("blocks = %v", body["blocks"])
	}
	header := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Fatalf("first block = %v", header)
	}
	text := header["text"].(map[string]any)["text"].(string)
	if text != ":white_check_mark: Incident INC-200: RESOLVED" {
		t.Fatalf("header text = %q", text)
	}
}

func TestNotifyIncludesErrorBlockOnFailure(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := models.RunResult{
		IncidentID: "INC-201",
		AlertType:  "HighCPU",
		Status:     models.StatusFailed,
		Error:      "restart failed: daemon unreachable",
	}
	NewSlackNotifier(srv.URL, discardLogger()).Notify(context.Background(), result)

	payload := string(raw)
	for _, want := range []string{":rotating_light:", "daemon unreachable", "INC-201"} {
		if !strings.Contains(payload, want) {
			t.Fatalf("payload missing %q: %s", want, payload)
		}
	}
}

func TestNotifySwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic or propagate anything.
	NewSlackNotifier(srv.URL, discardLogger()).Notify(context.Background(), resolvedResult())
}

func TestNotifySwallowsTransportErrors(t *testing.T) {
	NewSlackNotifier("http://127.0.0.1:1/hook", discardLogger()).
		Notify(context.Background(), resolvedResult())
}

func TestNotifyNoopWithoutWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	NewSlackNotifier("", discardLogger()).Notify(context.Background(), resolvedResult())
	if hits.Load() != 0 {
		t.Fatal("no-op notifier made a request")
	}
}
