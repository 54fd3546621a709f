package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/config"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	webhookSecret = "whsec_test"
	adminEmail    = "admin@example.com"
	adminPassword = "admin-pass"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		RunAddress:          ":0",
		DataDir:             t.TempDir(),
		StripeWebhookSecret: webhookSecret,
		JWTSecret:           "jwt-test",
		AdminEmail:          adminEmail,
		AdminPassword:       adminPassword,
		SweepInterval:       time.Hour,
	}
	s, err := NewServer(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { s.close() })
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/user/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return strings.TrimPrefix(rec.Header().Get("Authorization"), "Bearer ")
}

func register(t *testing.T, h http.Handler, email string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/user/register", "", map[string]string{"email": email, "password": "secret", "name": "Joe"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return strings.TrimPrefix(rec.Header().Get("Authorization"), "Bearer ")
}

func checkoutEvent(eventID, sessionID string, cents int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1714550400,
  "data": {
    "object": {
      "id": %q,
      "object": "checkout.session",
      "amount_total": %d,
      "customer": "cus_123",
      "customer_details": {"email": "Joe@Example.com", "name": "Joe"}
    }
  }
}`, eventID, sessionID, cents))
}

func postWebhook(t *testing.T, h http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sendCheckout(t *testing.T, h http.Handler, eventID, sessionID string, cents int64) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: checkoutEvent(eventID, sessionID, cents),
		Secret:  webhookSecret,
	})
	rec := postWebhook(t, h, signed.Payload, signed.Header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
}

func listPurchases(t *testing.T, h http.Handler, token string) []models.PurchaseRecord {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/purchases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var purchases []models.PurchaseRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purchases))
	return purchases
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	h := newTestServer(t)
	admin := login(t, h, adminEmail, adminPassword)
	payload := checkoutEvent("evt_1", "cs_1", 24900)

	rec := postWebhook(t, h, payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Webhook Error:"))

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	rec = postWebhook(t, h, forged.Payload, forged.Header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postWebhook(t, h, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, listPurchases(t, h, admin))
	rec = do(t, h, http.MethodGet, "/api/admin/customers", admin, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestWebhookCheckoutThenProcess(t *testing.T) {
	h := newTestServer(t)
	admin := login(t, h, adminEmail, adminPassword)

	sendCheckout(t, h, "evt_1", "cs_1", 24900)
	sendCheckout(t, h, "evt_2", "cs_2", 29900)

	purchases := listPurchases(t, h, admin)
	require.Len(t, purchases, 2)
	assert.Equal(t, "Map PowerBoost", purchases[0].PackageName)
	assert.Equal(t, 249.0, purchases[0].Amount)
	assert.Equal(t, "joe@example.com", purchases[0].CustomerEmail)
	assert.Equal(t, "cus_123", purchases[0].StripeCustomerID)
	assert.False(t, purchases[0].Processed)
	assert.Equal(t, "Local Citations", purchases[1].PackageName)

	rec := do(t, h, http.MethodPost, "/api/purchases/cs_1/process", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	purchases = listPurchases(t, h, admin)
	assert.True(t, purchases[0].Processed)
	assert.False(t, purchases[1].Processed)

	rec = do(t, h, http.MethodPost, "/api/purchases/cs_missing/process", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRedeliveryIsIgnored(t *testing.T) {
	h := newTestServer(t)
	admin := login(t, h, adminEmail, adminPassword)

	sendCheckout(t, h, "evt_1", "cs_1", 24900)
	sendCheckout(t, h, "evt_1", "cs_1", 24900)
	sendCheckout(t, h, "evt_resent", "cs_1", 24900)

	assert.Len(t, listPurchases(t, h, admin), 1)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	h := newTestServer(t)
	admin := login(t, h, adminEmail, adminPassword)

	payload := []byte(`{"id":"evt_pi","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","amount":24900,"currency":"usd"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	rec := postWebhook(t, h, signed.Payload, signed.Header)
	assert.Equal(t, http.StatusOK, rec.Code)

	payload = []byte(`{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	signed = webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	rec = postWebhook(t, h, signed.Payload, signed.Header)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, listPurchases(t, h, admin))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newTestServer(t)
	customer := register(t, h, "joe@example.com")

	rec := do(t, h, http.MethodGet, "/api/purchases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/purchases", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/admin/overview", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/user/register", "", map[string]string{"email": "joe@example.com", "password": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/user/login", "", map[string]string{"email": "joe@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCustomerLifecycle(t *testing.T) {
	h := newTestServer(t)
	admin := login(t, h, adminEmail, adminPassword)
	joe := register(t, h, "joe@example.com")
	ann := register(t, h, "ann@example.com")

	sendCheckout(t, h, "evt_1", "cs_1", 29900)

	rec := do(t, h, http.MethodGet, "/api/customer-data/joe@example.com", joe, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.CustomerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Len(t, record.ActiveProjects, 1)
	project := record.ActiveProjects[0]
	assert.Equal(t, 20, project.Progress)
	assert.Equal(t, "Local Citations", project.Name)

	rec = do(t, h, http.MethodGet, "/api/customer-data/joe@example.com", ann, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/customer-data/ann@example.com", ann, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// onboarding: invalid, then valid, then admin approval
	rec = do(t, h, http.MethodPost, "/api/onboarding-submission", joe, map[string]any{
		"service":  "Local Citations",
		"formData": map[string]string{"businessName": "Joe's"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/onboarding-submission", joe, map[string]any{
		"service": "Local Citations",
		"formData": map[string]string{
			"businessName":        "Joe's Plumbing",
			"businessAddress":     "1 Main St",
			"businessPhone":       "555-0100",
			"businessEmail":       "joe@example.com",
			"businessCategory":    "Plumber",
			"businessDescription": "Pipes",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub models.OnboardingSubmission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, project.ID, sub.ProjectID)

	rec = do(t, h, http.MethodGet, "/api/admin/submissions?status=pending_approval", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []models.OnboardingSubmission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Len(t, pending, 1)

	rec = do(t, h, http.MethodPatch, "/api/admin/submissions/"+sub.ID, admin, map[string]string{"status": "approved", "adminNotes": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// admin drives the rest of the timeline; skipping a step is rejected
	stepURL := func(step string) string {
		return fmt.Sprintf("/api/admin/customers/joe@example.com/projects/%s/steps/%s/complete", project.ID, step)
	}
	rec = do(t, h, http.MethodPost, stepURL("reviewDelivery"), admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, stepURL("shipping"), admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, stepURL("orderInProgress"), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, 60, record.ActiveProjects[0].Progress)

	// stale sync is refused with the current record
	rec = do(t, h, http.MethodPost, "/api/sync-data", joe, map[string]any{"email": "joe@example.com", "version": 1, "name": "Old"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var current models.CustomerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, record.Version, current.Version)

	rec = do(t, h, http.MethodPost, "/api/sync-data", joe, map[string]any{"email": "joe@example.com", "version": current.Version, "name": "Joseph"})
	require.Equal(t, http.StatusOK, rec.Code)

	// cancellation
	rec = do(t, h, http.MethodPost, "/api/cancel-project", ann, map[string]string{"email": "joe@example.com", "projectId": project.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/cancel-project", joe, map[string]string{"projectId": project.ID, "reason": "moving"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Empty(t, record.ActiveProjects)
	require.Len(t, record.CompletedProjects, 1)
	assert.Equal(t, models.ProjectCancelled, record.CompletedProjects[0].Status)
	assert.Equal(t, "Joseph", record.Name)

	rec = do(t, h, http.MethodGet, "/api/admin/overview", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview models.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, 1, overview.Customers)
	assert.Equal(t, 1, overview.CancelledProjects)
	assert.Equal(t, 299.0, overview.Revenue)
}

func TestOnboardingSchemaFallback(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/onboarding-schema/Some%20New%20Service", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Service string          `json:"service"`
		Fields  []catalog.Field `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Some New Service", body.Service)
	assert.Equal(t, catalog.Default().Schema("Local Citations"), body.Fields)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
