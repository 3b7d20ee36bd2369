package interfaces

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"atlas/internal/service/ledger/application"
	"atlas/internal/service/ledger/infrastructure"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 5)
	svc := application.NewService(store, otel.Tracer("test"),
		application.WithRetry(1, time.Millisecond),
		application.WithOpTimeout(time.Second),
	)
	mux := http.NewServeMux()
	NewLedgerHandler(svc).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestReserveEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/stock/reserve", reserveRequest{
		ItemID: "TS-001", Size: "M", Quantity: 2, IdempotencyKey: "o1:TS-001:M",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var body reserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "ok" || body.Remaining != 3 {
		t.Fatalf("got %+v, want ok with 3 remaining", body)
	}
}

func TestReserveEndpointInsufficientStock(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/stock/reserve", reserveRequest{
		ItemID: "TS-001", Size: "M", Quantity: 6, IdempotencyKey: "o1:TS-001:M",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}
	var body reserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "insufficient_stock" || body.Remaining != 5 {
		t.Fatalf("got %+v, want insufficient_stock with 5 available", body)
	}
}

func TestReserveEndpointUnknownItem(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/stock/reserve", reserveRequest{
		ItemID: "GHOST", Size: "M", Quantity: 1, IdempotencyKey: "o1:GHOST:M",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestReserveEndpointValidation(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/stock/reserve", reserveRequest{
		ItemID: "TS-001", Size: "M", Quantity: 0, IdempotencyKey: "o1:TS-001:M",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestReleaseEndpointRoundTrip(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/stock/reserve", reserveRequest{
		ItemID: "TS-001", Size: "M", Quantity: 2, IdempotencyKey: "o1:TS-001:M",
	})
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/stock/release", releaseRequest{IdempotencyKey: "o1:TS-001:M"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var body struct {
		Released bool `json:"released"`
		Quantity int  `json:"quantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Released || body.Quantity != 2 {
		t.Fatalf("got %+v, want released quantity 2", body)
	}

	availResp, err := http.Get(server.URL + "/stock/available?item_id=TS-001&size=M")
	if err != nil {
		t.Fatalf("GET available: %v", err)
	}
	defer availResp.Body.Close()
	var avail map[string]int
	if err := json.NewDecoder(availResp.Body).Decode(&avail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if avail["available"] != 5 {
		t.Fatalf("available %d, want 5 after release", avail["available"])
	}
}

func TestAvailableEndpointUnknownSize(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/stock/available?item_id=TS-001&size=XXL")
	if err != nil {
		t.Fatalf("GET available: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}
