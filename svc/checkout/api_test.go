package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/stockapi"
	"tourmaline.app/pkg/stripepay"
)

type fakePayments struct {
	intents  []stripepay.IntentRequest
	sessions []stripepay.SessionRequest
	err      error
}

func (f *fakePayments) CreatePaymentIntent(_ context.Context, req stripepay.IntentRequest) (*stripepay.Intent, error) {
	f.intents = append(f.intents, req)
	if f.err != nil {
		return nil, f.err
	}
	return &stripepay.Intent{ID: "pi_1", ClientSecret: "pi_1_secret_x", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, req stripepay.SessionRequest) (*stripepay.Session, error) {
	f.sessions = append(f.sessions, req)
	if f.err != nil {
		return nil, f.err
	}
	return &stripepay.Session{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
}

type fakePublisher struct {
	events []*OrderPaidEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evt *OrderPaidEvent) (string, error) {
	f.events = append(f.events, evt)
	return "msg-1", f.err
}

type fakeStock struct {
	res *stockapi.Result
	err error
}

func (f fakeStock) Lookup(context.Context, string) (*stockapi.Result, error) {
	return f.res, f.err
}

const webhookSecret = "whsec_test"

type harness struct {
	api       *API
	payments  *fakePayments
	publisher *fakePublisher
	srv       *httptest.Server
}

func newHarness(t *testing.T, values config.MapSource, stock StockLookup) *harness {
	t.Helper()
	s := config.Parse(values)
	h := &harness{payments: &fakePayments{}, publisher: &fakePublisher{}}
	if stock == nil {
		stock = fakeStock{res: &stockapi.Result{Stock: 4}}
	}
	h.api = NewAPI(Deps{
		Settings:  func() *config.Settings { return s },
		Payments:  h.payments,
		Verifier:  stripepay.NewVerifier(webhookSecret, 0),
		Publisher: h.publisher,
		Stock:     stock,
		Limiter:   newLimiter(s),
		Static: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("static:" + r.URL.Path))
		}),
	})
	h.srv = httptest.NewServer(h.api.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) post(t *testing.T, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCreatePaymentIntent(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, body := h.post(t, "/create-payment-intent",
		`{"amount":4500,"items":[{"id":"ring","name":"Ring","price":45,"quantity":1}],"email":"ada@example.com"}`,
		map[string]string{"Idempotency-Key": "idem-1"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pi_1_secret_x", body["clientSecret"])
	assert.Equal(t, "pi_1_secret_x", body["client_secret"])

	require.Len(t, h.payments.intents, 1)
	got := h.payments.intents[0]
	assert.Equal(t, int64(4500), got.Amount)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, "Tourmaline Tech Order", got.Description)
	assert.Equal(t, "Customer", got.Shipping.Name)
	assert.Equal(t, "AU", got.Shipping.Address.Country)
	assert.Equal(t, "idem-1", got.IdempotencyKey)
	assert.Equal(t, []stripepay.LineSummary{{Name: "Ring", Quantity: 1}}, got.Items)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCreatePaymentIntentShipping(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, _ := h.post(t, "/create-payment-intent",
		`{"amount":100,"currency":"USD","items":[],"shipping":{"name":"Ada","address":{"line1":"1 Way","city":"Perth","postal_code":"6000"}}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := h.payments.intents[0]
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, "Ada", got.Shipping.Name)
	assert.Equal(t, "Perth", got.Shipping.Address.City)
	assert.Equal(t, "AU", got.Shipping.Address.Country)
}

func TestCreatePaymentIntentMissingData(t *testing.T) {
	h := newHarness(t, nil, nil)
	for _, body := range []string{
		`{"items":[{"name":"Ring","quantity":1}]}`,
		`{"amount":0,"items":[]}`,
		`{"amount":4500}`,
	} {
		resp, out := h.post(t, "/create-payment-intent", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Missing payment data", out["error"], body)
	}
	assert.Empty(t, h.payments.intents)

	resp, out := h.post(t, "/create-payment-intent", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", out["error"])
}

func TestCreatePaymentIntentProviderError(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.payments.err = &stripepay.ProviderError{Message: "Amount must be at least $0.50 usd", Code: "amount_too_small"}

	resp, out := h.post(t, "/create-payment-intent", `{"amount":1,"items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Amount must be at least $0.50 usd", out["error"])
	assert.Equal(t, "PAY_PROVIDER_ERROR", out["code"])
}

func TestCreatePaymentIntentRateLimited(t *testing.T) {
	h := newHarness(t, config.MapSource{"payments.rate_limit_per_minute": "2"}, nil)
	for i := 0; i < 2; i++ {
		resp, _ := h.post(t, "/create-payment-intent", `{"amount":100,"items":[]}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, out := h.post(t, "/create-payment-intent", `{"amount":100,"items":[]}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "TOO_MANY_REQUESTS", out["code"])
	assert.Len(t, h.payments.intents, 2)
}

func TestRateLimitSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	values := config.MapSource{
		"payments.rate_limit_per_minute": "1",
		"ratelimit.redis_addr":           mr.Addr(),
	}
	first := newHarness(t, values, nil)
	second := newHarness(t, values, nil)

	resp, _ := first.post(t, "/create-payment-intent", `{"amount":100,"items":[]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := second.post(t, "/create-payment-intent", `{"amount":100,"items":[]}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "TOO_MANY_REQUESTS", out["code"])
	assert.Empty(t, second.payments.intents)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], limiterKeyPrefix))
}

func TestPreflight(t *testing.T) {
	h := newHarness(t, nil, nil)
	req, _ := http.NewRequest(http.MethodOptions, h.srv.URL+"/create-payment-intent", nil)
	req.Header.Set("Origin", "https://shop.example")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, h.payments.intents)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, err := h.srv.Client().Get(h.srv.URL + "/create-payment-intent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCreateCheckoutSession(t *testing.T) {
	h := newHarness(t, config.MapSource{"site.base_url": "https://shop.example/"}, nil)
	resp, out := h.post(t, "/create-checkout-session",
		`{"items":[{"id":"ring","name":"Ring","price":"45.50","quantity":2,"image":"https://shop.example/ring.jpg"}]}`, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cs_1", out["sessionId"])

	require.Len(t, h.payments.sessions, 1)
	got := h.payments.sessions[0]
	assert.Equal(t, "https://shop.example/?success=true", got.SuccessURL)
	assert.Equal(t, "https://shop.example/?canceled=true", got.CancelURL)
	assert.Equal(t, int64(4550), got.Items[0].UnitAmount)
	assert.Equal(t, int64(2), got.Items[0].Quantity)
	assert.Equal(t, `["Ring x2"]`, got.ItemsMetadata)
}

func TestCreateCheckoutSessionOriginFromRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, _ := h.post(t, "/create-checkout-session", `{"items":[{"id":"a","name":"A","price":1,"quantity":1}]}`,
		map[string]string{"Origin": "https://tourmaline.example"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://tourmaline.example/?success=true", h.payments.sessions[0].SuccessURL)
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, out := h.post(t, "/create-checkout-session", `{"items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No items in cart", out["error"])

	h.payments.err = errors.New("boom")
	resp, out = h.post(t, "/create-checkout-session", `{"items":[{"id":"a","name":"A","price":1,"quantity":1}]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to create session: boom", out["error"])
}

func signature(payload string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const paidEvent = `{"id":"evt_1","object":"event","created":1760000000,"type":"payment_intent.succeeded",
"data":{"object":{"id":"pi_9","object":"payment_intent","amount":4500,"amount_received":4500,"currency":"usd",
"shipping":{"name":"Ada Lovelace","address":{"country":"AU"}},"metadata":{"items":"[\"Ring x1\"]"}}}}`

func TestWebhookPublishesPaidOrder(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, out := h.post(t, "/stripe/webhook", paidEvent, map[string]string{"Stripe-Signature": signature(paidEvent, time.Now())})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["received"])
	require.Len(t, h.publisher.events, 1)
	evt := h.publisher.events[0]
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, "pi_9", evt.Reference)
	assert.Equal(t, "Ada Lovelace", evt.Customer)
	assert.Equal(t, int64(4500), evt.Amount)
	assert.Equal(t, []string{"Ring x1"}, evt.Items)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, out := h.post(t, "/stripe/webhook", paidEvent, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid signature", out["error"])

	resp, _ = h.post(t, "/stripe/webhook", paidEvent, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.publisher.events)
}

func TestWebhookAcknowledgesDespitePublishFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.publisher.err = errors.New("topic down")
	resp, _ := h.post(t, "/stripe/webhook", paidEvent, map[string]string{"Stripe-Signature": signature(paidEvent, time.Now())})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	payload := `{"id":"evt_2","object":"event","created":1,"type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`
	resp, _ := h.post(t, "/stripe/webhook", payload, map[string]string{"Stripe-Signature": signature(payload, time.Now())})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, h.publisher.events)
}

func TestWebhookBodyLimit(t *testing.T) {
	h := newHarness(t, config.MapSource{"webhook.max_body_bytes": "16"}, nil)
	resp, _ := h.post(t, "/stripe/webhook", paidEvent, map[string]string{"Stripe-Signature": signature(paidEvent, time.Now())})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.publisher.events)
}

func getJSON(t *testing.T, h *harness, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := h.srv.Client().Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestStock(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, out := getJSON(t, h, "/stock?productId=ring")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, out["stock"])

	resp, _ = getJSON(t, h, "/stock")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStockErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{stockapi.ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: status 500", stockapi.ErrUpstream), http.StatusBadGateway},
		{stockapi.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		h := newHarness(t, nil, fakeStock{err: tc.err})
		resp, _ := getJSON(t, h, "/stock?productId=ring")
		assert.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
	}
}

func TestQuote(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, out := h.post(t, "/quote",
		`{"items":[{"id":"ring","name":"Ring","price":"50.00","quantity":1}],"selection":{"method":"standard","country":"AU","coupon":"TAKE5"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5000, out["subtotal"])
	assert.EqualValues(t, 500, out["discount"])
	assert.EqualValues(t, 1000, out["shipping"])
	assert.EqualValues(t, 550, out["tax"])
	assert.EqualValues(t, 6050, out["total"])

	resp, _ = h.post(t, "/quote", `{"items":[],"selection":{"method":"drone"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFallbackServesStatic(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, err := h.srv.Client().Get(h.srv.URL + "/checkout.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "static:/checkout.html", string(body))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "js.stripe.com")
}
