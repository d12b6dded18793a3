package interfaces

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/service/inventory/application"
	"stockledger/internal/service/inventory/domain"
	"stockledger/internal/service/inventory/infrastructure/memstore"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store, err := memstore.New(nil)
	require.NoError(t, err)
	require.NoError(t, store.PutVariant(1, "TSHIRT-M"))
	require.NoError(t, store.PutStock(domain.StockItem{VariantID: 1, OnHand: 10, Reserved: 4}))

	svc := application.NewInventoryService(store, store)
	mux := http.NewServeMux()
	NewInventoryHandler(svc, nil).RegisterRoutes(mux)
	return mux
}

func do(mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, &buf))
	return rec
}

func TestGetStockBySKU(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, http.MethodGet, "/stock?sku=TSHIRT-M", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view application.StockView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "TSHIRT-M", view.SKU)
	assert.Equal(t, int64(6), view.Available)
}

func TestGetStockErrors(t *testing.T) {
	mux := newTestMux(t)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/stock", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/stock?sku=NOPE", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/stock/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/stock/99", nil).Code)
}

func TestGetStockItemByVariant(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, http.MethodGet, "/stock/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view application.StockView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(10), view.OnHand)
	assert.Equal(t, int64(4), view.Reserved)
}

func TestAdjustOnHand(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, http.MethodPost, "/admin/stock/adjust", adjustRequest{SKU: "TSHIRT-M", Delta: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	var view application.StockView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(15), view.OnHand)

	// 不能把在手库存调到低于已预留数量
	rec = do(mux, http.MethodPost, "/admin/stock/adjust", adjustRequest{SKU: "TSHIRT-M", Delta: -12})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(mux, http.MethodPost, "/admin/stock/adjust", adjustRequest{SKU: "TSHIRT-M"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
