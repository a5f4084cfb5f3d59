package inventory

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r.Route("/api/inventory", h.MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var payload map[string]any
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	}
	return rr, payload
}

func seededFixture() *fixture {
	f := newFixture()
	f.source.setBase(10, line(1, "2"))
	f.repo.addMaterial(1, "Espresso beans", "6")
	f.repo.addLot(1, "2024-01-01", "4", "1.0")
	f.repo.addLot(1, "2024-02-01", "4", "1.5")
	return f
}

func TestHandleDeductSuccess(t *testing.T) {
	f := seededFixture()
	rr, payload := doJSON(t, newTestRouter(f), http.MethodPost, "/api/inventory/deductions",
		`{"menu_id":10,"quantity":3,"selected_addon_ids":[],"user_id":0}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, payload["success"])
	require.Equal(t, map[string]any{"1": 6.0}, payload["deductions"])
	require.Equal(t, 7.0, payload["total_cost"])
	records := payload["records"].([]any)
	require.Len(t, records, 2)
	require.Equal(t, -4.0, records[0].(map[string]any)["quantity"])
	require.Equal(t, "2024-01-01", records[0].(map[string]any)["expiration_date"])
}

func TestHandleDeductDefaultsQuantityToOne(t *testing.T) {
	f := seededFixture()
	rr, payload := doJSON(t, newTestRouter(f), http.MethodPost, "/api/inventory/deductions", `{"menu_id":10}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, map[string]any{"1": 2.0}, payload["deductions"])
}

func TestHandleDeductValidation(t *testing.T) {
	f := seededFixture()
	router := newTestRouter(f)

	cases := map[string]string{
		"zero menu":      `{"menu_id":0,"quantity":1}`,
		"negative qty":   `{"menu_id":10,"quantity":-1}`,
		"zero qty":       `{"menu_id":10,"quantity":0}`,
		"bad addon":      `{"menu_id":10,"quantity":1,"selected_addon_ids":[0]}`,
		"malformed json": `{"menu_id":`,
		"empty body":     ``,
	}
	for name, body := range cases {
		rr, payload := doJSON(t, router, http.MethodPost, "/api/inventory/deductions", body, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
		require.Equal(t, false, payload["success"], name)
		require.NotEmpty(t, payload["message"], name)
	}
	require.Zero(t, f.repo.txCount)
}

func TestHandleDeductValidationNamesField(t *testing.T) {
	f := seededFixture()
	_, payload := doJSON(t, newTestRouter(f), http.MethodPost, "/api/inventory/deductions", `{"menu_id":-3}`, nil)
	require.Equal(t, "menu_id must satisfy gt=0", payload["message"])
}

func TestHandleDeductInsufficientStock(t *testing.T) {
	f := seededFixture()
	rr, payload := doJSON(t, newTestRouter(f), http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":4}`, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "insufficient stock for material 1 in stock ledger", payload["message"])
	require.True(t, f.repo.stock[1].Equal(qty("6")))
}

func TestHandleDeductStoreFailureHidesDetails(t *testing.T) {
	f := seededFixture()
	f.repo.failInsert = true
	rr, payload := doJSON(t, newTestRouter(f), http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":1}`, nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "internal server error", payload["message"])
}

func TestHandleDeductIdempotencyKey(t *testing.T) {
	f := seededFixture()
	router := newTestRouter(f)
	header := map[string]string{"Idempotency-Key": uuid.NewString()}

	rr, _ := doJSON(t, router, http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":1}`, header)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, payload := doJSON(t, router, http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":1}`, header)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, false, payload["success"])
	require.True(t, f.repo.stock[1].Equal(qty("4")))

	rr, _ = doJSON(t, router, http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":1}`,
		map[string]string{"Idempotency-Key": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleMovements(t *testing.T) {
	f := seededFixture()
	router := newTestRouter(f)
	rr, _ := doJSON(t, router, http.MethodPost, "/api/inventory/deductions", `{"menu_id":10,"quantity":1}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, payload := doJSON(t, router, http.MethodGet, "/api/inventory/materials/1/movements", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	logs := payload["logs"].([]any)
	require.Len(t, logs, 3)

	newest := logs[0].(map[string]any)
	require.Equal(t, "OUT", newest["movement_type"])
	require.Equal(t, "N/A", newest["user"])
	require.NotContains(t, newest, "deducted")

	oldest := logs[2].(map[string]any)
	require.Equal(t, "IN", oldest["movement_type"])
	require.Equal(t, 2.0, oldest["deducted"])

	rr, payload = doJSON(t, router, http.MethodGet, "/api/inventory/materials/0/movements", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid material ID", payload["message"])
}

func TestHandleMovementsExport(t *testing.T) {
	f := seededFixture()
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/materials/1/movements.xlsx", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Disposition"), "material-1-movements.xlsx")

	book, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = book.Close() }()
	rows, err := book.GetRows("Material 1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Expiration Date", rows[0][4])
	require.Equal(t, "IN", rows[1][1])
}

func TestHandleCostEstimate(t *testing.T) {
	f := seededFixture()
	f.source.setAddon(10, 4, line(2, "1"))
	f.repo.addLot(2, "2024-12-31", "3", "0.5")

	rr, payload := doJSON(t, newTestRouter(f), http.MethodGet, "/api/inventory/menus/10/cost?addon=4", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 3.5, payload["totalCost"])
	require.Len(t, payload["breakdown"].([]any), 2)

	rr, _ = doJSON(t, newTestRouter(f), http.MethodGet, "/api/inventory/menus/10/cost?addon=x", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
