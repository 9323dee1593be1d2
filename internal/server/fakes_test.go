package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/auth/session"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/internal/config"
	contactdomain "github.com/smallbiznis/phage/internal/contact/domain"
	"github.com/smallbiznis/phage/internal/currency"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
	"github.com/smallbiznis/phage/internal/ratelimit"
	"github.com/smallbiznis/phage/internal/receipt"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/internal/storage"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"github.com/stretchr/testify/require"
)

const (
	testUserID = snowflake.ID(4200)
	testToken  = "valid-token"
)

type fakeAuthService struct {
	signUpErr error
	loginErr  error
	loggedOut []string
}

func (f *fakeAuthService) SignUp(ctx context.Context, req authdomain.SignUpRequest) (*authdomain.LoginResult, error) {
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &authdomain.LoginResult{
		User:      &authdomain.User{ID: testUserID, Email: req.Email, Name: req.Name, Credits: 5},
		RawToken:  "new-session",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &authdomain.LoginResult{
		User:      &authdomain.User{ID: testUserID, Email: req.Email},
		RawToken:  "login-session",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeAuthService) Logout(ctx context.Context, rawToken string) error {
	f.loggedOut = append(f.loggedOut, rawToken)
	return nil
}

func (f *fakeAuthService) Authenticate(ctx context.Context, rawToken string) (*authdomain.Session, error) {
	if rawToken != testToken {
		return nil, authdomain.ErrInvalidSession
	}
	return &authdomain.Session{ID: 1, UserID: testUserID}, nil
}

func (f *fakeAuthService) GetUser(ctx context.Context, id snowflake.ID) (*authdomain.User, error) {
	return &authdomain.User{ID: id}, nil
}

func (f *fakeAuthService) CurrentUser(ctx context.Context) (*authdomain.User, error) {
	return &authdomain.User{ID: testUserID, Email: "ada@example.com", Credits: 12}, nil
}

type fakeSimulationService struct {
	created   *simdomain.CreateRequest
	createErr error
	getErr    error
	status    *compute.JobStatus
	statusErr error
	link      *simdomain.DownloadURL
	linkErr   error
}

func (f *fakeSimulationService) Create(ctx context.Context, userID snowflake.ID, req simdomain.CreateRequest) (*simdomain.Simulation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &req
	return &simdomain.Simulation{ID: 77, UserID: userID, Name: req.Name, Status: simdomain.StatusPending}, nil
}

func (f *fakeSimulationService) SubmitJob(ctx context.Context, id snowflake.ID) error { return nil }

func (f *fakeSimulationService) CheckStatus(ctx context.Context, userID, id snowflake.ID) (*compute.JobStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status == nil {
		return nil, simdomain.ErrJobNotSubmitted
	}
	return f.status, nil
}

func (f *fakeSimulationService) DownloadResults(ctx context.Context, id snowflake.ID) error {
	return nil
}

func (f *fakeSimulationService) Get(ctx context.Context, userID, id snowflake.ID) (*simdomain.Simulation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &simdomain.Simulation{ID: id, UserID: userID, Name: "lysozyme"}, nil
}

func (f *fakeSimulationService) List(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (simdomain.ListResponse, error) {
	return simdomain.ListResponse{Simulations: []*simdomain.Simulation{{ID: 1, UserID: userID}}}, nil
}

func (f *fakeSimulationService) ResultDownloadURL(ctx context.Context, userID, id snowflake.ID) (*simdomain.DownloadURL, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return f.link, nil
}

func (f *fakeSimulationService) RefreshActive(ctx context.Context, batchSize int) (simdomain.RefreshResult, error) {
	return simdomain.RefreshResult{}, nil
}

type fakeLedgerService struct {
	ledgerdomain.Service
	page pagination.Pagination
}

func (f *fakeLedgerService) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ledgerdomain.ListResponse, error) {
	f.page = page
	return ledgerdomain.ListResponse{
		Transactions: []*ledgerdomain.Transaction{{ID: 9, UserID: userID, Credits: 10, Status: ledgerdomain.StatusSucceeded}},
	}, nil
}

type fakeCheckoutService struct {
	req paymentdomain.CheckoutRequest
	err error
}

func (f *fakeCheckoutService) CreateCheckoutSession(ctx context.Context, userID snowflake.ID, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &paymentdomain.CheckoutSession{CheckoutURL: "https://pay.example/s/1", SessionID: "cks_1"}, nil
}

type fakeWebhookService struct {
	provider string
	payload  []byte
	err      error
}

func (f *fakeWebhookService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	f.provider = provider
	f.payload = payload
	return f.err
}

type fakeContactService struct {
	err error
}

func (f *fakeContactService) Submit(ctx context.Context, req contactdomain.Request) (*contactdomain.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &contactdomain.Result{Success: true, MessageID: "msg-1"}, nil
}

type fakeCurrencyService struct {
	credits float64
	code    string
}

func (f *fakeCurrencyService) Rates(ctx context.Context) currency.Rates {
	return currency.Rates{Base: "USD", Currencies: []config.Currency{{Code: "USD", Rate: 1}}}
}

func (f *fakeCurrencyService) Quote(ctx context.Context, credits float64, code string) (*currency.Quote, error) {
	f.credits = credits
	f.code = code
	if credits <= 0 {
		return nil, currency.ErrInvalidCredits
	}
	return &currency.Quote{Credits: credits, Currency: "USD", Rate: 1}, nil
}

type fakeReceiptRenderer struct {
	err error
}

func (f *fakeReceiptRenderer) Render(ctx context.Context, userID, transactionID snowflake.ID) (*receipt.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &receipt.Document{FileName: "receipt-" + transactionID.String() + ".pdf", Content: []byte("%PDF-1.3")}, nil
}

type memoryStore struct {
	blobs map[string][]byte
}

func (m *memoryStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.blobs[key] = data
	return nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: "application/gzip",
		Size:        int64(len(data)),
	}, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}

func (m *memoryStore) URL(ctx context.Context, key string, ttl time.Duration, filename string) (string, error) {
	return "", storage.ErrNotFound
}

type testServer struct {
	*Server
	auth     *fakeAuthService
	sims     *fakeSimulationService
	ledger   *fakeLedgerService
	checkout *fakeCheckoutService
	webhooks *fakeWebhookService
	contact  *fakeContactService
	currency *fakeCurrencyService
	receipts *fakeReceiptRenderer
	store    *memoryStore
	clock    *clock.FakeClock
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	signer, _, err := storage.NewSigner("test-secret", "http://api.test", clk)
	require.NoError(t, err)

	router := gin.New()
	router.Use(SecurityHeaders(cfg.IsProduction()))
	router.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		auth:     &fakeAuthService{},
		sims:     &fakeSimulationService{},
		ledger:   &fakeLedgerService{},
		checkout: &fakeCheckoutService{},
		webhooks: &fakeWebhookService{},
		contact:  &fakeContactService{},
		currency: &fakeCurrencyService{},
		receipts: &fakeReceiptRenderer{},
		store:    &memoryStore{blobs: map[string][]byte{}},
		clock:    clk,
	}
	ts.Server = &Server{
		engine:      router,
		cfg:         cfg,
		authsvc:     ts.auth,
		sessions:    session.NewManager(cfg),
		simsvc:      ts.sims,
		ledgersvc:   ts.ledger,
		checkoutsvc: ts.checkout,
		webhooksvc:  ts.webhooks,
		contactsvc:  ts.contact,
		currencysvc: ts.currency,
		receiptsvc:  ts.receipts,
		store:       ts.store,
		signer:      signer,
		limiter:     ratelimit.NewLimiter(cfg, nil, ratelimit.NewMemoryWindow(clk)),
	}
	ts.registerAuthRoutes()
	ts.registerAPIRoutes()
	ts.registerFileRoutes()
	ts.registerFallback()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: testToken})
	return req
}
