package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database/dbtest"
	"restaurant-pos/internal/domain"
)

const testMenu = `
items:
  - id: steak
    name: Steak
    price: 1500
    available: true
  - id: pizza
    name: Pizza
    price: 1200
    available: true
    variants:
      - id: pizza-l
        name: Large
        price: 1600
        available: true
`

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func (c client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-User-Role", "cashier")
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newTestApp(t *testing.T) (*App, client) {
	t.Helper()
	store := dbtest.New(t)
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Shop.Taxes = []config.TaxConfig{{Name: "VAT", Rate: decimal.NewFromInt(9), Active: true}}

	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testMenu), 0o644))
	items, err := LoadMenu(path)
	require.NoError(t, err)
	require.NoError(t, SeedMenu(context.Background(), store, items))

	a, err := Build(context.Background(), cfg, store, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, client{t: t, srv: srv}
}

func TestDineInLifecycle(t *testing.T) {
	_, c := newTestApp(t)

	var table domain.Table
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/tables", map[string]any{"number": 1, "capacity": 4}, &table))

	var order domain.Order
	status := c.do(http.MethodPost, "/api/orders", map[string]any{
		"table_ids": []string{table.ID},
		"items":     []map[string]any{{"menu_item_id": "steak", "quantity": 2}},
	}, &order)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, domain.OrderDineIn, order.Type)
	require.Len(t, order.Items, 1)

	var got domain.Table
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/tables/"+table.ID, nil, &got))
	assert.Equal(t, domain.TableOccupied, got.Status)

	var item domain.OrderItem
	require.Equal(t, http.StatusOK, c.do(http.MethodPut,
		"/api/orders/"+order.ID+"/items/"+order.Items[0].ID+"/status",
		map[string]any{"status": "in_progress"}, &item))
	assert.Equal(t, domain.ItemInProgress, item.Status)

	var created struct {
		BillID string      `json:"billId"`
		Bill   domain.Bill `json:"bill"`
	}
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/bills", map[string]any{"orderId": order.ID}, &created))
	assert.EqualValues(t, 3000, created.Bill.Subtotal)
	assert.EqualValues(t, 270, created.Bill.ExclusiveTax)
	assert.EqualValues(t, 3270, created.Bill.Total)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/tables/"+table.ID, nil, &got))
	assert.Equal(t, domain.TableBilled, got.Status)

	var paid domain.Bill
	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/api/bills/"+created.BillID+"/payment",
		map[string]any{"payment_method": "card", "payment_status": "paid"}, &paid))
	assert.Equal(t, domain.PaymentPaid, paid.PaymentStatus)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/tables/"+table.ID, nil, &got))
	assert.Equal(t, domain.TableFree, got.Status)
	assert.Nil(t, got.CurrentOrderID)

	var timeline struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/audit/bill/"+created.BillID, nil, &timeline))
	require.NotEmpty(t, timeline.Entries)
	for _, e := range timeline.Entries {
		assert.Equal(t, "u-1", e.ActorID)
	}
}

func TestProblemResponses(t *testing.T) {
	_, c := newTestApp(t)

	var problem map[string]any
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/orders/"+uuid.NewString(), nil, &problem))
	assert.EqualValues(t, http.StatusNotFound, problem["status"])

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/orders/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/orders",
		map[string]any{"order_type": "takeaway"}, nil))

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/tables", map[string]any{"number": 7, "capacity": 2}, nil))
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/tables", map[string]any{"number": 7, "capacity": 2}, nil))
}

func TestOperationalEndpoints(t *testing.T) {
	_, c := newTestApp(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", nil, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "sqlite", health["database"])

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/tables", nil, nil))

	resp, err := c.srv.Client().Get(c.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pos_http_requests_total{method="GET",route="GET /api/tables",status="200"} 1`)
}

func TestLoadMenuRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing id": "items:\n  - name: Soup\n    price: 100\n",
		"duplicate":  "items:\n  - {id: a, name: A, price: 1}\n  - {id: a, name: B, price: 2}\n",
		"negative":   "items:\n  - {id: a, name: A, price: -1}\n",
		"not yaml":   "items: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadMenu(path)
			assert.Error(t, err)
		})
	}
}
