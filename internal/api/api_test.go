package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/snapshot"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"github.com/sankey-copier/relay-server/internal/wire"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *persist.Store, *conntrack.Tracker) {
	t.Helper()
	store, err := persist.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	conns := conntrack.New(30 * time.Second)
	b := bus.New()
	snap := snapshot.New(conns, store, b, time.Hour, zap.NewNop())
	updater := statusupdater.New(store, conns, b, zap.NewNop())
	return New(store, conns, b, snap, updater, zap.NewNop()), store, conns
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetTradeGroup(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	rec := doRequest(t, r, http.MethodPost, "/api/trade-groups", createTradeGroupRequest{
		ID:             "MASTER",
		MasterSettings: masterSettingsInput{Enabled: true, SymbolPrefix: "m_"},
		Members: []memberInput{
			{SlaveAccountID: "SLAVE", Enabled: true},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/trade-groups/MASTER", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view tradeGroupView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.ID != "MASTER" || len(view.Members) != 1 || view.Members[0].SlaveAccountID != "SLAVE" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestGetUnknownTradeGroupReturnsProblemDetails(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodGet, "/api/trade-groups/GHOST", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem+json content type, got %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != http.StatusNotFound || p.Title != "TradeGroupNotFound" {
		t.Fatalf("unexpected problem: %+v", p)
	}
}

func TestAddMemberToUnknownTradeGroupReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodPost, "/api/trade-groups/GHOST/members", memberInput{SlaveAccountID: "SLAVE"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for member under missing parent, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestToggleMasterAndMemberEnabled(t *testing.T) {
	s, store, conns := newTestServer(t)
	r := s.Router()
	ctx := context.Background()

	if err := store.CreateTradeGroup(ctx, persist.TradeGroup{ID: "MASTER", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := store.AddMember(ctx, persist.Member{TradeGroupID: "MASTER", SlaveAccountID: "SLAVE", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "SLAVE", Role: wire.RoleSlave, IsTradeAllowed: true})
	if err := s.updater.RecomputeCluster(ctx, "MASTER"); err != nil {
		t.Fatalf("prime cluster status: %v", err)
	}
	primed, err := store.GetTradeGroup(ctx, "MASTER")
	if err != nil {
		t.Fatalf("load primed group: %v", err)
	}
	beforeDisable := primed.WarningCodes

	rec := doRequest(t, r, http.MethodPut, "/api/trade-groups/MASTER/master", enabledRequest{Enabled: false})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	group, err := store.GetTradeGroup(ctx, "MASTER")
	if err != nil || group.WebUIEnabled {
		t.Fatalf("expected master's operator-intent flag cleared, got %+v err=%v", group, err)
	}
	if _, ok := conns.Get("MASTER"); !ok {
		t.Fatal("expected master connection tracked")
	}

	rec = doRequest(t, r, http.MethodPut, "/api/trade-groups/MASTER/members/SLAVE/enabled", enabledRequest{Enabled: false})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	members, err := store.ListMembers(ctx, "MASTER")
	if err != nil || members[0].WebUIEnabled {
		t.Fatalf("expected member's operator-intent flag cleared, got %+v err=%v", members, err)
	}

	group, err = store.GetTradeGroup(ctx, "MASTER")
	if err != nil {
		t.Fatalf("reload group: %v", err)
	}
	if reflect.DeepEqual(group.WarningCodes, beforeDisable) {
		t.Fatalf("expected disabling the master via REST to change its warning_codes, stayed at %v", group.WarningCodes)
	}
}

func TestDeleteTradeGroup(t *testing.T) {
	s, store, _ := newTestServer(t)
	r := s.Router()
	ctx := context.Background()
	if err := store.CreateTradeGroup(ctx, persist.TradeGroup{ID: "MASTER", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	rec := doRequest(t, r, http.MethodDelete, "/api/trade-groups/MASTER", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, r, http.MethodGet, "/api/trade-groups/MASTER", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListConnectionsReflectsTracker(t *testing.T) {
	s, _, conns := newTestServer(t)
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Connections []conntrack.Record `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Connections) != 1 || body.Connections[0].AccountID != "MASTER" {
		t.Fatalf("unexpected connections: %+v", body.Connections)
	}
}

func TestVictoriaLogsSettingsRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/victoria-logs-settings", nil)
	var got struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Enabled {
		t.Fatal("expected default disabled")
	}

	rec = doRequest(t, r, http.MethodPut, "/api/victoria-logs-settings", enabledRequest{Enabled: true})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/victoria-logs-settings", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Enabled {
		t.Fatal("expected setting to persist as enabled")
	}
}

func TestRuntimeStatusMetrics(t *testing.T) {
	s, store, conns := newTestServer(t)
	ctx := context.Background()
	if err := store.CreateTradeGroup(ctx, persist.TradeGroup{ID: "MASTER", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := store.AddMember(ctx, persist.Member{TradeGroupID: "MASTER", SlaveAccountID: "SLAVE", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/runtime-status-metrics", nil)
	var metrics runtimeStatusMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if metrics.TradeGroups != 1 || metrics.Members != 1 || metrics.TrackedConnections != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}
