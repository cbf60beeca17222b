// internal/worldstate/store_test.go
package worldstate

import (
	"testing"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

func TestStoreReplaceNotifiesSubscribers(t *testing.T) {
	store := NewStore()

	var got *models.WorldState
	unsubscribe := store.Subscribe(func(ws *models.WorldState) {
		got = ws
	})
	defer unsubscribe()

	ws := &models.WorldState{
		SessionID: "s-1",
		Day:       2,
		Hour:      5,
		IsRunning: true,
		Agents: map[string]models.Agent{
			"a1": {AgentID: "a1", Name: "P1", Position: models.Position{3, 4}},
		},
	}
	store.Replace(ws)

	if got == nil || got.SessionID != "s-1" {
		t.Fatalf("subscriber not notified with replaced snapshot: %+v", got)
	}
	if store.Get() != got {
		t.Error("Get should return the snapshot given to subscribers")
	}
	if store.SessionID() != "s-1" {
		t.Errorf("SessionID = %q", store.SessionID())
	}
}

func TestStoreNormalizesMissingPrompts(t *testing.T) {
	store := NewStore()
	store.Replace(&models.WorldState{Day: 1})

	ws := store.Get()
	if ws.AgentPrompts == nil {
		t.Error("agent_prompts must default to an empty map")
	}
	if ws.Agents == nil {
		t.Error("agents must default to an empty map")
	}
}

func TestStoreSetRunningFlipsFlagOnly(t *testing.T) {
	store := NewStore()
	store.Replace(&models.WorldState{
		SessionID: "s-1",
		Day:       3,
		IsRunning: false,
	})

	before := store.Get()
	store.SetRunning(true)
	after := store.Get()

	if !after.IsRunning {
		t.Error("IsRunning should be true after SetRunning(true)")
	}
	if after.Day != 3 || after.SessionID != "s-1" {
		t.Error("SetRunning must not touch other fields")
	}
	if before.IsRunning {
		t.Error("previously published snapshot must stay immutable")
	}
}

func TestStoreSetRunningWithoutSnapshot(t *testing.T) {
	store := NewStore()
	store.SetRunning(true)

	if !store.IsRunning() {
		t.Error("IsRunning should be true")
	}
	if store.Get().Agents == nil {
		t.Error("placeholder snapshot must be normalized")
	}
}

func TestStoreUnsubscribeStopsNotifications(t *testing.T) {
	store := NewStore()

	calls := 0
	unsubscribe := store.Subscribe(func(*models.WorldState) { calls++ })

	store.Replace(&models.WorldState{})
	unsubscribe()
	store.Replace(&models.WorldState{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
