package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/moradacoop/morada/internal/auth"
	"github.com/moradacoop/morada/internal/ciabra"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	memberrepo "github.com/moradacoop/morada/internal/member/repository"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	paymentrepo "github.com/moradacoop/morada/internal/payment/repository"
	paymentservice "github.com/moradacoop/morada/internal/payment/service"
	paymentwebhook "github.com/moradacoop/morada/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_server_test"

// testGateway keeps the real webhook verification and normalization but
// stubs the outbound provider calls.
type testGateway struct {
	*ciabra.Client
	charge    *ciabra.Charge
	createErr error
}

func (g *testGateway) CreateCharge(context.Context, ciabra.CreateChargeRequest) (*ciabra.Charge, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.charge, nil
}

func (g *testGateway) GetCharge(context.Context, string) (*ciabra.Charge, error) {
	return g.charge, nil
}

type testServer struct {
	engine  *gin.Engine
	db      *gorm.DB
	authMgr *auth.Manager
	repo    paymentdomain.Repository
	mRepo   memberdomain.Repository
	clk     *clock.FakeClock
	node    *snowflake.Node
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	db.Exec(`CREATE TABLE IF NOT EXISTS members (
		id BIGINT PRIMARY KEY,
		association_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		document TEXT NOT NULL,
		phone TEXT DEFAULT '',
		billing_day INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT PRIMARY KEY,
		member_id BIGINT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		due_date TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		description TEXT DEFAULT '',
		provider_charge_id TEXT DEFAULT '',
		pix_qr_code TEXT DEFAULT '',
		pix_qr_code_url TEXT DEFAULT '',
		boleto_url TEXT DEFAULT '',
		paid_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(member_id, due_date)
	)`)
	db.Exec(`CREATE TABLE IF NOT EXISTS payment_webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		event_type TEXT DEFAULT '',
		charge_id TEXT DEFAULT '',
		payload TEXT,
		received_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	cfg := config.Config{
		AuthJWTSecret: "server-test-secret",
		Billing:       config.BillingConfig{DefaultAmount: 150, Currency: "BRL"},
	}

	gateway := &testGateway{
		Client: ciabra.NewClient(config.CiabraConfig{WebhookSecret: webhookSecret}, log, clk),
		charge: &ciabra.Charge{
			ID:        "ch_1",
			Status:    "pending",
			PixQRCode: "000201pix",
			BoletoURL: "https://boleto.example/1",
		},
	}

	repo := paymentrepo.Provide()
	mRepo := memberrepo.Provide()
	paySvc := paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Cfg:        cfg,
		Clock:      clk,
		Repo:       repo,
		MemberRepo: mRepo,
		Gateway:    gateway,
	})
	hookSvc := paymentwebhook.NewService(paymentwebhook.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repo,
		PaymentSvc: paySvc,
		Gateway:    gateway,
	})

	engine := NewEngine(log)
	authMgr := auth.NewManager(cfg, clk)
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		DB:         db,
		Log:        log,
		GenID:      node,
		AuthMgr:    authMgr,
		MemberRepo: mRepo,
		PaymentSvc: paySvc,
		WebhookSvc: hookSvc,
	})

	return &testServer{
		engine:  engine,
		db:      db,
		authMgr: authMgr,
		repo:    repo,
		mRepo:   mRepo,
		clk:     clk,
		node:    node,
	}
}

func (ts *testServer) seedMember(t *testing.T) *memberdomain.Member {
	t.Helper()
	now := ts.clk.Now()
	member := &memberdomain.Member{
		ID:            ts.node.Generate(),
		AssociationID: ts.node.Generate(),
		Name:          "Ana Souza",
		Email:         fmt.Sprintf("member+%d@example.com", ts.node.Generate()),
		Document:      "12345678909",
		BillingDay:    10,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, ts.mRepo.Insert(context.Background(), ts.db, member))
	return member
}

func (ts *testServer) token(t *testing.T, member *memberdomain.Member) string {
	t.Helper()
	token, err := ts.authMgr.Issue(member.ID, member.Admin, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func signPayload(payload string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnsureChargeEndpoint(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t)
	token := ts.token(t, member)

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/payments/charge", "", "", nil).Code)

	w := ts.do(http.MethodPost, "/api/payments/charge", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payment paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	assert.Equal(t, paymentdomain.StatusPending, payment.Status)
	assert.Equal(t, "ch_1", payment.ProviderChargeID)
	assert.Equal(t, "https://boleto.example/1", payment.BoletoURL)

	// asking again returns the same charge
	w = ts.do(http.MethodPost, "/api/payments/charge", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, payment.ID, again.ID)
}

func TestEnsureChargeEndpointWithPaymentID(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t)
	token := ts.token(t, member)

	w := ts.do(http.MethodPost, "/api/payments/charge", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payment paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))

	body := fmt.Sprintf(`{"payment_id":%q}`, payment.ID.String())
	w = ts.do(http.MethodPost, "/api/payments/charge", token, body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, payment.ID, again.ID)

	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPost, "/api/payments/charge", token, `{"payment_id":"garbage"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/api/payments/charge", token, `{"payment_id":`, nil).Code)
}

func TestGetPaymentScoping(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.seedMember(t)
	other := ts.seedMember(t)

	w := ts.do(http.MethodPost, "/api/payments/charge", ts.token(t, owner), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payment paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))

	path := "/api/payments/" + payment.ID.String()
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, ts.token(t, owner), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, ts.token(t, other), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/payments/not-an-id", ts.token(t, owner), "", nil).Code)
}

func TestListPaymentsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t)
	token := ts.token(t, member)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/payments/charge", token, "", nil).Code)

	w := ts.do(http.MethodGet, "/api/payments", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Payments []paymentdomain.Payment `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Payments, 1)
}

func TestWebhookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t)
	token := ts.token(t, member)

	w := ts.do(http.MethodPost, "/api/payments/charge", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payment paymentdomain.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))

	payload := `{"event":"payment.confirmed","charge_id":"ch_1","status":"paid","paid_at":"2026-03-09T14:00:00Z"}`
	w = ts.do(http.MethodPost, "/webhook/ciabra", "", payload, map[string]string{
		"X-Ciabra-Signature": signPayload(payload),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	stored, err := ts.repo.FindByID(context.Background(), ts.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, stored.Status)
}

func TestWebhookEndpointAlternateHeader(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/payments/charge", ts.token(t, member), "", nil).Code)

	// the bare path and the alternate header are both legacy provider configs
	payload := `{"event":"payment.confirmed","charge_id":"ch_1","status":"paid"}`
	w := ts.do(http.MethodPost, "/webhook", "", payload, map[string]string{
		"X-Webhook-Signature": signPayload(payload),
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"event":"payment.confirmed","charge_id":"ch_1"}`
	w := ts.do(http.MethodPost, "/webhook/ciabra", "", payload, map[string]string{
		"X-Ciabra-Signature": "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookEndpointUnknownChargeStillAcks(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"event":"payment.confirmed","charge_id":"ch_unknown"}`
	w := ts.do(http.MethodPost, "/webhook/ciabra", "", payload, map[string]string{
		"X-Ciabra-Signature": signPayload(payload),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "charge not recognized")
}

func TestWebhookEndpointNoReference(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"event":"payment.confirmed","status":"paid"}`
	w := ts.do(http.MethodPost, "/webhook/ciabra", "", payload, map[string]string{
		"X-Ciabra-Signature": signPayload(payload),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
