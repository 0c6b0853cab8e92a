package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/importer"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/webhooks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubTokens struct {
	claims auth.OperatorClaims
	err    error
}

func (s stubTokens) Validate(token string) (auth.OperatorClaims, error) {
	if s.err != nil {
		return auth.OperatorClaims{}, s.err
	}
	if token != "good-token" {
		return auth.OperatorClaims{}, auth.ErrInvalidToken
	}
	return s.claims, nil
}

func operator(accountID string) auth.OperatorClaims {
	claims := auth.OperatorClaims{AccountID: accountID}
	claims.Subject = "operator"
	return claims
}

type stubIntegrations map[string]*integration.Integration

func (s stubIntegrations) Get(ctx context.Context, id string) (*integration.Integration, error) {
	connection, ok := s[id]
	if !ok {
		return nil, integration.ErrNotFound
	}
	return connection, nil
}

type stubSync struct {
	pushErr     error
	pushed      []string
	logs        storesync.LogPage
	requestPage storesync.Page
}

func (s *stubSync) PushInventory(ctx context.Context, integrationID, inventoryID, source string) (storesync.PushOutcome, error) {
	s.pushed = append(s.pushed, integrationID+"/"+inventoryID+"/"+source)
	if s.pushErr != nil {
		return storesync.PushOutcome{}, s.pushErr
	}
	return storesync.PushOutcome{VariantID: "gid://shopify/ProductVariant/1", Quantity: 4}, nil
}

func (s *stubSync) PushColorway(ctx context.Context, integrationID, colorwayID, source string) (storesync.PushResult, error) {
	if s.pushErr != nil {
		return storesync.PushResult{}, s.pushErr
	}
	return storesync.PushResult{ProductID: "gid://shopify/Product/9", ProductCreated: true, VariantsCreated: 2}, nil
}

func (s *stubSync) ListLogs(ctx context.Context, integrationID string, page storesync.Page) (storesync.LogPage, error) {
	s.requestPage = page
	return s.logs, nil
}

type stubImporter struct {
	received string
	err      error
}

func (s *stubImporter) ImportProducts(ctx context.Context, integrationID string, file io.Reader) (importer.Result, error) {
	body, _ := io.ReadAll(file)
	s.received = string(body)
	if s.err != nil {
		return importer.Result{}, s.err
	}
	return importer.Result{Created: 1, Errors: []string{"row 3: title is required"}}, nil
}

func (s *stubImporter) ImportOrders(ctx context.Context, integrationID string, file io.Reader) (importer.Result, error) {
	return s.ImportProducts(ctx, integrationID, file)
}

type stubWebhooks struct {
	result     webhooks.Result
	err        error
	deliveries []webhooks.Delivery
}

func (s *stubWebhooks) Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.Result, error) {
	s.deliveries = append(s.deliveries, delivery)
	return s.result, s.err
}

type stubVerifier struct {
	ok bool
}

func (s stubVerifier) Verify(request *http.Request) bool {
	return s.ok
}

type routerFixture struct {
	handler  http.Handler
	sync     *stubSync
	importer *stubImporter
	webhooks *stubWebhooks
	realtime *RealtimeDispatcher
}

func newRouterFixture(t *testing.T, verified bool) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fixture := &routerFixture{
		sync:     &stubSync{},
		importer: &stubImporter{},
		webhooks: &stubWebhooks{result: webhooks.Result{Outcome: webhooks.OutcomeProcessed}},
		realtime: NewRealtimeDispatcher(),
	}
	handler, err := NewHTTPHandler(Dependencies{
		Tokens: stubTokens{claims: operator("acct-1")},
		Integrations: stubIntegrations{
			"int-1":   {ID: "int-1", AccountID: "acct-1", Active: true},
			"foreign": {ID: "foreign", AccountID: "acct-2", Active: true},
		},
		Sync:     fixture.sync,
		Importer: fixture.importer,
		Webhooks: fixture.webhooks,
		Verifier: stubVerifier{ok: verified},
		Realtime: fixture.realtime,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	fixture.handler = handler
	return fixture
}

func (f *routerFixture) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func authorized(method, target string, body io.Reader) *http.Request {
	request := httptest.NewRequest(method, target, body)
	request.Header.Set("Authorization", "Bearer good-token")
	return request
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestShopifyWebhookRejectsBadSignature(t *testing.T) {
	f := newRouterFixture(t, false)
	request := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewBufferString(`{}`))
	recorder := f.do(request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if len(f.webhooks.deliveries) != 0 {
		t.Fatalf("expected unsigned delivery not to be processed")
	}
}

func TestShopifyWebhookForwardsDelivery(t *testing.T) {
	f := newRouterFixture(t, true)
	request := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewBufferString(`{"inventory_item_id":1,"available":2}`))
	request.Header.Set(webhooks.HeaderTopic, webhooks.TopicInventoryLevelsUpdate)
	request.Header.Set(webhooks.HeaderShopDomain, "dye-house.myshopify.com")
	request.Header.Set(webhooks.HeaderWebhookID, "delivery-1")

	recorder := f.do(request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != `{"outcome":"processed"}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if len(f.webhooks.deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(f.webhooks.deliveries))
	}
	delivery := f.webhooks.deliveries[0]
	if delivery.Topic != webhooks.TopicInventoryLevelsUpdate || delivery.WebhookID != "delivery-1" || string(delivery.Body) != `{"inventory_item_id":1,"available":2}` {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
}

func TestShopifyWebhookMapsMalformedPayloadTo400(t *testing.T) {
	f := newRouterFixture(t, true)
	f.webhooks.err = fmt.Errorf("%w: available missing", webhooks.ErrMalformedPayload)
	request := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewBufferString(`{}`))
	recorder := f.do(request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if payload := decodeError(t, recorder); payload.Message != "malformed payload" {
		t.Fatalf("unexpected error payload %+v", payload)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t, true)
	request := httptest.NewRequest(http.MethodPost, "/integrations/int-1/inventory/inv-1/push", http.NoBody)
	if recorder := f.do(request); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if len(f.sync.pushed) != 0 {
		t.Fatalf("expected no push without a token")
	}
}

func TestProtectedRoutesHideForeignIntegrations(t *testing.T) {
	f := newRouterFixture(t, true)
	for _, target := range []string{"/integrations/foreign/inventory/inv-1/push", "/integrations/missing/inventory/inv-1/push"} {
		recorder := f.do(authorized(http.MethodPost, target, http.NoBody))
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, recorder.Code)
		}
	}
	if len(f.sync.pushed) != 0 {
		t.Fatalf("expected no push for foreign integrations")
	}
}

func TestPushInventoryReportsOutcome(t *testing.T) {
	f := newRouterFixture(t, true)
	recorder := f.do(authorized(http.MethodPost, "/integrations/int-1/inventory/inv-1/push", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	expected := `{"skipped":false,"variant_id":"gid://shopify/ProductVariant/1","quantity":4}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if len(f.sync.pushed) != 1 || f.sync.pushed[0] != "int-1/inv-1/"+storesync.SourceManual {
		t.Fatalf("unexpected push calls %v", f.sync.pushed)
	}
}

func TestPushErrorsMapToStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "missing row", err: fmt.Errorf("storesync.push_inventory.inventory_not_found: %w", storesync.ErrNotFound), status: http.StatusNotFound},
		{name: "inactive", err: storesync.ErrIntegrationInactive, status: http.StatusUnprocessableEntity},
		{name: "remote validation", err: &shopify.RemoteAPIError{Kind: shopify.KindValidation, UserErrors: []shopify.UserError{{Message: "Price is invalid"}}}, status: http.StatusUnprocessableEntity},
		{name: "transport", err: &shopify.RemoteAPIError{Kind: shopify.KindTransport}, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newRouterFixture(t, true)
		f.sync.pushErr = tc.err
		recorder := f.do(authorized(http.MethodPost, "/integrations/int-1/colorways/cw-1/push", http.NoBody))
		if recorder.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, recorder.Code)
		}
		if payload := decodeError(t, recorder); payload.Message == "" {
			t.Fatalf("%s: expected message in %s", tc.name, recorder.Body.String())
		}
	}
}

func TestImportAcceptsMultipartFile(t *testing.T) {
	f := newRouterFixture(t, true)
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "products.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write([]byte("Title\nStorm\n"))
	_ = writer.Close()

	request := authorized(http.MethodPost, "/integrations/int-1/imports/products", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := f.do(request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	expected := `{"created":1,"updated":0,"skipped":0,"errors":["row 3: title is required"]}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if f.importer.received != "Title\nStorm\n" {
		t.Fatalf("unexpected uploaded content %q", f.importer.received)
	}
}

func TestImportRequiresFileAndReadableContent(t *testing.T) {
	f := newRouterFixture(t, true)
	recorder := f.do(authorized(http.MethodPost, "/integrations/int-1/imports/orders", http.NoBody))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", recorder.Code)
	}

	f.importer.err = importer.ErrInvalidEncoding
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "orders.csv")
	_, _ = part.Write([]byte("Name\n\xff\n"))
	_ = writer.Close()
	request := authorized(http.MethodPost, "/integrations/int-1/imports/orders", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder = f.do(request)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad encoding, got %d", recorder.Code)
	}
}

func TestListLogsWrapsDataAndMeta(t *testing.T) {
	f := newRouterFixture(t, true)
	syncedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.sync.logs = storesync.LogPage{
		Logs: []storesync.SyncLog{{
			ID:            "log-1",
			IntegrationID: "int-1",
			LoggableType:  "inventory",
			LoggableID:    "inv-1",
			Status:        storesync.LogStatusWarning,
			Message:       "conflict",
			Metadata:      map[string]any{"direction": "pull"},
			SyncedAt:      syncedAt,
		}},
		Total:    51,
		Page:     2,
		PageSize: 25,
	}

	recorder := f.do(authorized(http.MethodGet, "/integrations/int-1/sync-logs?page=2&per_page=25", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if f.sync.requestPage.Number != 2 || f.sync.requestPage.Size != 25 {
		t.Fatalf("unexpected page request %+v", f.sync.requestPage)
	}
	var payload struct {
		Data []syncLogPayload `json:"data"`
		Meta pageMeta         `json:"meta"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(payload.Data) != 1 || payload.Data[0].ID != "log-1" || payload.Data[0].Direction != "pull" {
		t.Fatalf("unexpected data %+v", payload.Data)
	}
	if payload.Meta.Total != 51 || payload.Meta.TotalPages != 3 || payload.Meta.Page != 2 {
		t.Fatalf("unexpected meta %+v", payload.Meta)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	f := newRouterFixture(t, true)
	recorder := f.do(httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{})
	if !errors.Is(err, errMissingTokenValidator) {
		t.Fatalf("expected missing token validator error, got %v", err)
	}
}
