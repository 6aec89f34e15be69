package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/storage/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewFixed(handlerNow)
	srv := httptest.NewServer(NewHandler(Services{
		Intake:    app.NewIntakeService(store, clk, nil),
		Orders:    app.NewFulfillmentService(store, store, store, clk),
		Inventory: app.NewInventoryService(store),
		Ready:     map[string]Pinger{"storage": store},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestRouter_PartialStockFlow(t *testing.T) {
	srv := newTestServer(t)

	if code, _ := call(t, srv, http.MethodPut, "/inventory/X", `{"name":"Widget","available":4}`); code != http.StatusOK {
		t.Fatalf("upsert X: status %d", code)
	}
	if code, _ := call(t, srv, http.MethodPut, "/inventory/Y", `{"name":"Gadget","available":10}`); code != http.StatusOK {
		t.Fatalf("upsert Y: status %d", code)
	}

	code, order := call(t, srv, http.MethodPost, "/orders",
		`{"po_number":"PO-42","buyer":"Acme","buyer_email":"buyer@acme.test","items":[{"product_id":"X","quantity":6,"unit_price":"3"},{"product_id":"Y","quantity":2,"unit_price":"1"}]}`)
	if code != http.StatusCreated {
		t.Fatalf("submit: status %d %v", code, order)
	}

	code, order = call(t, srv, http.MethodPost, "/orders/PO-42/process", "")
	if code != http.StatusOK || order["status"] != "WAITING_FOR_REPLY" {
		t.Fatalf("process: status %d %v", code, order)
	}

	code, order = call(t, srv, http.MethodPost, "/orders/PO-42/reply", `{"decision":"APPROVE"}`)
	if code != http.StatusOK || order["status"] != "PARTIAL_COMPLETED" {
		t.Fatalf("approve: status %d %v", code, order)
	}

	code, body := call(t, srv, http.MethodPost, "/orders/PO-42/reply", `{"decision":"REJECT"}`)
	if code != http.StatusConflict || body["code"] != codeInvalidTransition {
		t.Fatalf("late reject: status %d %v", code, body)
	}

	code, list := call(t, srv, http.MethodGet, "/orders", "")
	if code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	summary := list["summary"].(map[string]any)
	if summary["total"] != float64(1) {
		t.Fatalf("unexpected summary %v", summary)
	}

	res, err := srv.Client().Get(srv.URL + "/inventory")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	defer res.Body.Close()
	var products []productResponse
	if err := json.NewDecoder(res.Body).Decode(&products); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	if len(products) != 2 || products[0].Available != 0 || products[0].UnitsSold != 4 || products[1].Available != 8 {
		t.Fatalf("unexpected inventory %+v", products)
	}

	res, err = srv.Client().Get(srv.URL + "/orders/PO-42/notifications")
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	defer res.Body.Close()
	var notes []notificationResponse
	if err := json.NewDecoder(res.Body).Decode(&notes); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	kinds := map[string]bool{}
	for _, n := range notes {
		kinds[n.Kind] = true
	}
	if len(notes) != 2 || !kinds["proposal"] || !kinds["partial_confirmation"] {
		t.Fatalf("unexpected notifications %+v", notes)
	}
}

func TestRouter_HealthReadyAndFallback(t *testing.T) {
	srv := newTestServer(t)

	for path, want := range map[string]int{
		"/health":  http.StatusOK,
		"/ready":   http.StatusOK,
		"/missing": http.StatusNotFound,
	} {
		res, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = res.Body.Close()
		if res.StatusCode != want {
			t.Fatalf("GET %s: expected %d, got %d", path, want, res.StatusCode)
		}
	}
}
