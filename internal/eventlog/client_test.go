// internal/eventlog/client_test.go
package eventlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Corphon/PrometheusObserver/internal/errors"
	"github.com/Corphon/PrometheusObserver/internal/models"
)

func TestFetchBuildsFilterQuery(t *testing.T) {
	var gotQuery map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{}
		for k, v := range r.URL.Query() {
			gotQuery[k] = v[0]
		}
		json.NewEncoder(w).Encode(models.EventList{
			Events: []models.Event{
				{ID: 1, AgentName: "P1", EventType: "move", Description: "P1 moved to (2, 3)"},
				{ID: 2, AgentName: "P2", EventType: "speech", Description: "Said to P1: 'hi'"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	events, err := client.Fetch(context.Background(), Filters{
		SessionID: "s-1",
		EventType: "move",
		Day:       2,
		Limit:     100,
		Offset:    50,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	want := map[string]string{
		"session_id": "s-1",
		"event_type": "move",
		"day":        "2",
		"limit":      "100",
		"offset":     "50",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
	if _, ok := gotQuery["agent_id"]; ok {
		t.Error("empty agent_id should not be sent")
	}
}

func TestFetchErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.Fetch(context.Background(), Filters{Limit: 10})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !apperrors.Is(err, apperrors.ErrorTypeLogical) {
		t.Errorf("500 should classify as logical error, got %v", apperrors.TypeOf(err))
	}

	// 连接被拒：传输错误
	srv.Close()
	_, err = client.Fetch(context.Background(), Filters{Limit: 10})
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	if !apperrors.Is(err, apperrors.ErrorTypeTransport) {
		t.Errorf("refused connection should classify as transport error, got %v", apperrors.TypeOf(err))
	}
}

func TestStatsDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EventStats{
			TotalEvents:   12,
			EventsByType:  map[string]int{"move": 8, "speech": 4},
			EventsByAgent: map[string]int{"P1": 12},
		})
	}))
	defer srv.Close()

	stats, err := NewClient(srv.URL).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEvents != 12 || stats.EventsByType["move"] != 8 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestInjectGoalPostsBody(t *testing.T) {
	var got GoalInjection

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/agents/agent_1/inject_goal" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).InjectGoal(context.Background(), GoalInjection{
		AgentID:         "agent_1",
		GoalName:        "riot",
		GoalDescription: "start a riot",
		Priority:        7,
	})
	if err != nil {
		t.Fatalf("InjectGoal: %v", err)
	}
	if got.GoalName != "riot" || got.Priority != 7 {
		t.Errorf("body = %+v", got)
	}
}
