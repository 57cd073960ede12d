package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/service"
	"github.com/kursadbilgin/disbursement-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestDisbursementIntegration_Create(t *testing.T) {
	t.Parallel()

	var got service.CreateBatchRequest
	var gotCorrelationID string
	svc := &stubDisbursementService{
		createFn: func(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error) {
			got = req
			gotCorrelationID, _ = observability.CorrelationIDFromContext(ctx)
			return &domain.Batch{ID: "batch-1", Status: domain.BatchStatusProcessing}, nil
		},
	}
	app := newTestApp(t, Services{Disbursements: svc})

	body := `{
		"clientCode": "client-1",
		"schedule": {"type": "IMMEDIATE"},
		"disbursements": [
			{"type": "PIX", "disbursementStep": {"amount": 150.25, "creditParty": {"key": "alice@example.com"}, "initiationType": "DICT"}},
			{"type": "ted", "disbursementStep": {"amount": "10.00", "creditParty": {"account": "123", "bank": "001", "branch": "0001"}}}
		]
	}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/disbursements", body, "req-123")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var created map[string]any
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["batchId"] != "batch-1" || created["status"] != "PROCESSING" {
		t.Fatalf("response = %v, want batch-1 PROCESSING", created)
	}

	if got.ClientCode != "client-1" || got.ScheduleType != domain.ScheduleImmediate {
		t.Fatalf("request = %+v, want client-1 IMMEDIATE", got)
	}
	if len(got.Disbursements) != 2 {
		t.Fatalf("disbursements = %d, want 2", len(got.Disbursements))
	}
	if got.Disbursements[0].ChannelType != domain.ChannelInstantTransfer || !got.Disbursements[0].Request.Amount.Equal(decimal.RequireFromString("150.25")) {
		t.Fatalf("first disbursement = %+v, want PIX 150.25", got.Disbursements[0])
	}
	if got.Disbursements[1].ChannelType != domain.ChannelWireTransfer || got.Disbursements[1].Request.CreditParty.Bank != "001" {
		t.Fatalf("second disbursement = %+v, want TED to bank 001", got.Disbursements[1])
	}
	if gotCorrelationID != "req-123" {
		t.Fatalf("correlation id = %q, want req-123", gotCorrelationID)
	}
	if resp.Header.Get(fiber.HeaderXRequestID) != "req-123" {
		t.Fatalf("response request id = %q, want req-123", resp.Header.Get(fiber.HeaderXRequestID))
	}
}

func TestDisbursementIntegration_CreateScheduleParsing(t *testing.T) {
	t.Parallel()

	var got service.CreateBatchRequest
	svc := &stubDisbursementService{
		createFn: func(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error) {
			got = req
			return &domain.Batch{ID: "batch-1", Status: domain.BatchStatusRecurrent}, nil
		},
	}
	app := newTestApp(t, Services{Disbursements: svc})

	body := `{"clientCode":"c","schedule":{"type":"RECURRENT","date":"2025-06-15T08:30:00Z","recurrency":"monthly"},
		"disbursements":[{"type":"PIX","disbursementStep":{"amount":1,"creditParty":{"key":"k"}}}]}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/disbursements", body, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	if got.ScheduleDate == nil || !got.ScheduleDate.Equal(time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("schedule date = %v, want 2025-06-15T08:30:00Z", got.ScheduleDate)
	}
	if got.Recurrency == nil || *got.Recurrency != domain.RecurrencyMonthly {
		t.Fatalf("recurrency = %v, want MONTHLY", got.Recurrency)
	}
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Fatal("a request id should be generated when none is sent")
	}
}

func TestDisbursementIntegration_CreateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "malformed body", body: `{`, wantStatus: 400, wantCode: "400"},
		{name: "unknown schedule type", body: `{"clientCode":"c","schedule":{"type":"LATER"},"disbursements":[]}`, wantStatus: 400, wantCode: "400"},
		{name: "bad date", body: `{"clientCode":"c","schedule":{"type":"SCHEDULED","date":"tomorrow"},"disbursements":[]}`, wantStatus: 400, wantCode: "400"},
		{name: "unknown channel", body: `{"clientCode":"c","schedule":{"type":"IMMEDIATE"},"disbursements":[{"type":"BOLETO"}]}`, wantStatus: 400, wantCode: "400"},
		{name: "active client code", body: `{"clientCode":"c","schedule":{"type":"IMMEDIATE"},"disbursements":[]}`, serviceErr: domain.ErrConflict, wantStatus: 409, wantCode: "409"},
		{name: "store failure", body: `{"clientCode":"c","schedule":{"type":"IMMEDIATE"},"disbursements":[]}`, serviceErr: errors.New("connection refused"), wantStatus: 500, wantCode: "999"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubDisbursementService{
				createFn: func(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error) {
					if tt.serviceErr != nil {
						return nil, tt.serviceErr
					}
					return &domain.Batch{ID: "b"}, nil
				},
			}
			app := newTestApp(t, Services{Disbursements: svc})

			resp, body := performRequest(t, app, http.MethodPost, "/disbursements", tt.body, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			var errBody transport.ErrorResponse
			if err := json.Unmarshal(body, &errBody); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if errBody.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", errBody.Code, tt.wantCode)
			}
		})
	}
}

func TestDisbursementIntegration_GetStatus(t *testing.T) {
	t.Parallel()

	externalID := "ext-1"
	svc := &stubDisbursementService{
		getStatusFn: func(ctx context.Context, clientCode string) (*domain.Batch, error) {
			if clientCode != "client-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Batch{
				ID:         "batch-1",
				ClientCode: "client-1",
				Status:     domain.BatchStatusPartiallyExecuted,
				Steps: []domain.Step{
					{ID: "s1", ChannelType: domain.ChannelInstantTransfer, Status: domain.StepStatusSuccess, ExternalID: &externalID, Amount: decimal.RequireFromString("1.50")},
					{ID: "s2", ChannelType: domain.ChannelWireTransfer, Status: domain.StepStatusFailed, Amount: decimal.RequireFromString("2")},
				},
			}, nil
		},
	}
	app := newTestApp(t, Services{Disbursements: svc})

	resp, body := performRequest(t, app, http.MethodGet, "/disbursements/client-1/status", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed batchStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "batch-1" || parsed.Status != "PARTIALLY_EXECUTED" || parsed.ClientCode != "client-1" {
		t.Fatalf("response = %+v", parsed)
	}
	if len(parsed.Steps) != 2 || parsed.Steps[0].ExternalID == nil || *parsed.Steps[0].ExternalID != "ext-1" || parsed.Steps[1].ExternalID != nil {
		t.Fatalf("steps = %+v", parsed.Steps)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/disbursements/unknown/status", "", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", resp.StatusCode, string(body))
	}
}

func TestNotificationIntegration_RoutesByChannel(t *testing.T) {
	t.Parallel()

	var pix, ted []domain.ExternalResponse
	reconciler := &stubReconciler{
		pixFn: func(ctx context.Context, r domain.ExternalResponse) error {
			pix = append(pix, r)
			return nil
		},
		tedFn: func(ctx context.Context, r domain.ExternalResponse) error {
			if r.ExternalID == "unknown" {
				return domain.ErrNotFound
			}
			ted = append(ted, r)
			return nil
		},
	}
	app := newTestApp(t, Services{Reconciler: reconciler})

	resp, body := performRequest(t, app, http.MethodPost, "/notifications/pix", `{"externalId":"e1","status":"success"}`, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	resp, body = performRequest(t, app, http.MethodPost, "/notifications/ted", `{"externalId":"e2","status":"FAILED","failureReason":"closed account"}`, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if len(pix) != 1 || pix[0].Status != domain.StepStatusSuccess {
		t.Fatalf("pix responses = %+v", pix)
	}
	if len(ted) != 1 || ted[0].FailureReason == nil || *ted[0].FailureReason != "closed account" {
		t.Fatalf("ted responses = %+v", ted)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/notifications/ted", `{"externalId":"unknown","status":"SUCCESS"}`, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown externalId", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodPost, "/notifications/pix", `{"externalId":"e3","status":"PROCESSING"}`, "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-terminal status", resp.StatusCode)
	}
}

func TestMessagingIntegration_Send(t *testing.T) {
	t.Parallel()

	publisher := &stubPublisher{}
	app := newTestApp(t, Services{Publisher: publisher})

	resp, body := performRequest(t, app, http.MethodPost, "/messaging/send/"+queue.TopicResponsesPix, `{"externalId":"e1","status":"SUCCESS"}`, "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != queue.TopicResponsesPix {
		t.Fatalf("published topics = %v, want [%s]", publisher.topics, queue.TopicResponsesPix)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/messaging/send/"+queue.TopicRequestsPix, `{"externalId":"e1","status":"SUCCESS"}`, "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-response topic", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodPost, "/messaging/send/"+queue.TopicResponsesTed, `{"status":"SUCCESS"}`, "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing externalId", resp.StatusCode)
	}
	if len(publisher.topics) != 1 {
		t.Fatalf("published = %d, want 1", len(publisher.topics))
	}
}

func TestDeadLetterIntegration_List(t *testing.T) {
	t.Parallel()

	var gotLimit int
	lister := &stubDeadLetterLister{
		listFn: func(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
			gotLimit = limit
			return []domain.DeadLetter{{ID: "d1", Key: "step-1", Topic: queue.TopicRequestsPix, Attempts: 4}}, nil
		},
	}
	app := newTestApp(t, Services{DeadLetters: lister})

	resp, body := performRequest(t, app, http.MethodGet, "/dead-letters", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotLimit != defaultDeadLetterLimit {
		t.Fatalf("limit = %d, want %d", gotLimit, defaultDeadLetterLimit)
	}
	var parsed listDeadLettersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Data[0].Key != "step-1" {
		t.Fatalf("data = %+v", parsed.Data)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/dead-letters?limit=10", "", "")
	if resp.StatusCode != fiber.StatusOK || gotLimit != 10 {
		t.Fatalf("status = %d limit = %d, want 200 and 10", resp.StatusCode, gotLimit)
	}
	resp, _ = performRequest(t, app, http.MethodGet, "/dead-letters?limit=0", "", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for limit=0", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pgErr      error
		redisErr   error
		broker     BrokerPinger
		path       string
		wantStatus int
	}{
		{name: "livez", path: "/livez", wantStatus: fiber.StatusOK},
		{name: "ready", path: "/readyz", broker: stubBroker{}, wantStatus: fiber.StatusOK},
		{name: "ready without broker", path: "/readyz", wantStatus: fiber.StatusOK},
		{name: "postgres down", path: "/readyz", pgErr: errors.New("postgres down"), wantStatus: fiber.StatusServiceUnavailable},
		{name: "redis down", path: "/readyz", redisErr: errors.New("redis down"), wantStatus: fiber.StatusServiceUnavailable},
		{name: "broker down", path: "/readyz", broker: stubBroker{err: errors.New("amqp closed")}, wantStatus: fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sqlDB := sql.OpenDB(stubConnector{pingErr: tt.pgErr})
			t.Cleanup(func() { _ = sqlDB.Close() })
			rdb := newStubRedisClient(tt.redisErr)
			t.Cleanup(func() { _ = rdb.Close() })

			app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
			RegisterHealthRoutes(app, sqlDB, rdb, tt.broker)

			resp, body := performRequest(t, app, http.MethodGet, tt.path, "", "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
		})
	}
}

type stubDisbursementService struct {
	createFn    func(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error)
	getStatusFn func(ctx context.Context, clientCode string) (*domain.Batch, error)
}

func (s *stubDisbursementService) Create(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDisbursementService) GetStatus(ctx context.Context, clientCode string) (*domain.Batch, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(ctx, clientCode)
	}
	return nil, errors.New("not implemented")
}

type stubReconciler struct {
	pixFn func(ctx context.Context, r domain.ExternalResponse) error
	tedFn func(ctx context.Context, r domain.ExternalResponse) error
}

func (s *stubReconciler) ProcessPixResponse(ctx context.Context, r domain.ExternalResponse) error {
	if s.pixFn != nil {
		return s.pixFn(ctx, r)
	}
	return nil
}

func (s *stubReconciler) ProcessTedResponse(ctx context.Context, r domain.ExternalResponse) error {
	if s.tedFn != nil {
		return s.tedFn(ctx, r)
	}
	return nil
}

type stubPublisher struct {
	topics []string
}

func (s *stubPublisher) Publish(ctx context.Context, topic string, msg queue.Message) error {
	s.topics = append(s.topics, topic)
	return nil
}

func (s *stubPublisher) Close() error { return nil }

type stubDeadLetterLister struct {
	listFn func(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

func (s *stubDeadLetterLister) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return s.listFn(ctx, limit)
}

type stubBroker struct {
	err error
}

func (b stubBroker) Ready(context.Context) error { return b.err }

// newTestApp mounts every route; services left nil are replaced by stubs.
func newTestApp(t *testing.T, services Services) *fiber.App {
	t.Helper()

	if services.Disbursements == nil {
		services.Disbursements = &stubDisbursementService{}
	}
	if services.Reconciler == nil {
		services.Reconciler = &stubReconciler{}
	}
	if services.Publisher == nil {
		services.Publisher = &stubPublisher{}
	}
	if services.DeadLetters == nil {
		services.DeadLetters = &stubDeadLetterLister{listFn: func(context.Context, int) ([]domain.DeadLetter, error) { return nil, nil }}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(CorrelationMiddleware())

	if err := RegisterRoutes(app, services); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, requestID string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if requestID != "" {
		req.Header.Set(fiber.HeaderXRequestID, requestID)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
