package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/logger"
	"cardledger/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

var testSecret = []byte("test-secret")

type fakeLedger struct {
	applyFn      func(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	reverseFn    func(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	stateFn      func(ctx context.Context, cardID string) (*model.CardState, error)
	createFn     func(ctx context.Context, req model.CreateCardRequest) (*model.Card, error)
	deactivateFn func(ctx context.Context, cardID, callerID string) error
}

func (f *fakeLedger) ApplyCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	return f.applyFn(ctx, req)
}

func (f *fakeLedger) ReverseCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	return f.reverseFn(ctx, req)
}

func (f *fakeLedger) GetCardState(ctx context.Context, cardID string) (*model.CardState, error) {
	return f.stateFn(ctx, cardID)
}

func (f *fakeLedger) CreateCard(ctx context.Context, req model.CreateCardRequest) (*model.Card, error) {
	return f.createFn(ctx, req)
}

func (f *fakeLedger) DeactivateCard(ctx context.Context, cardID, callerID string) error {
	return f.deactivateFn(ctx, cardID, callerID)
}

func (f *fakeLedger) RecordEntry(ctx context.Context, event model.BalanceChangedEvent) error {
	return nil
}

func newRouter(svc *fakeLedger) *mux.Router {
	r := mux.NewRouter()
	NewHandler(svc, logger.Discard()).Register(r, AuthMiddleware(testSecret))
	return r
}

func signToken(t *testing.T, subject string, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestHealthIsPublic(t *testing.T) {
	rec := doRequest(t, newRouter(&fakeLedger{}), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(&fakeLedger{
		stateFn: func(ctx context.Context, cardID string) (*model.CardState, error) {
			return &model.CardState{CardID: cardID}, nil
		},
	})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "owner", []byte("other")), http.StatusUnauthorized},
		{"empty subject", signToken(t, "", testSecret), http.StatusUnauthorized},
		{"valid", signToken(t, "owner", testSecret), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodGet, "/cards/card-1", "", tt.token)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestApplyCharge_PassesCallerAndAmount(t *testing.T) {
	var got model.ChargeRequest
	r := newRouter(&fakeLedger{
		applyFn: func(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
			got = req
			return &model.ChargeResult{
				CardID:         req.CardID,
				CurrentBalance: decimal.NewFromInt(150),
				AvailableLimit: decimal.NewFromInt(50),
			}, nil
		},
	})

	rec := doRequest(t, r, http.MethodPost, "/cards/card-1/charges",
		`{"amount":"50.25","transaction_id":"tx-9"}`, signToken(t, "partner", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.CardID != "card-1" || got.CallerID != "partner" || got.TransactionID != "tx-9" {
		t.Errorf("unexpected request: %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("50.25")) {
		t.Errorf("expected amount 50.25, got %s", got.Amount)
	}

	var res model.ChargeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.AvailableLimit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected available limit 50, got %s", res.AvailableLimit)
	}
}

func TestMutationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", appErrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"inactive", appErrors.ErrCardInactive, http.StatusConflict, "CARD_INACTIVE"},
		{"unauthorized", appErrors.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{"limit", appErrors.ErrLimitExceeded, http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"},
		{"invalid state", appErrors.ErrInvalidState, http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"contention", appErrors.ErrContention, http.StatusServiceUnavailable, "CONTENTION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fail := func(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
				return nil, tt.err
			}
			r := newRouter(&fakeLedger{applyFn: fail, reverseFn: fail})

			for _, path := range []string{"/cards/card-1/charges", "/cards/card-1/reversals"} {
				rec := doRequest(t, r, http.MethodPost, path, `{"amount":"10"}`, signToken(t, "owner", testSecret))
				if rec.Code != tt.status {
					t.Errorf("%s: expected %d, got %d", path, tt.status, rec.Code)
				}
				if code := decodeError(t, rec); code != tt.code {
					t.Errorf("%s: expected code %s, got %s", path, tt.code, code)
				}
			}
		})
	}
}

func TestApplyCharge_RejectsBadBodies(t *testing.T) {
	called := false
	r := newRouter(&fakeLedger{
		applyFn: func(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
			called = true
			return nil, nil
		},
	})
	token := signToken(t, "owner", testSecret)

	tests := []struct {
		body string
		code string
	}{
		{`{`, "BAD_REQUEST"},
		{`{}`, "INVALID_ARGUMENT"},
		{`{"amount":"ten"}`, "INVALID_ARGUMENT"},
		{`{"amount":"10","transaction_id":"` + strings.Repeat("x", 65) + `"}`, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		rec := doRequest(t, r, http.MethodPost, "/cards/card-1/charges", tt.body, token)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.body, rec.Code)
		}
		if code := decodeError(t, rec); code != tt.code {
			t.Errorf("%s: expected %s, got %s", tt.body, tt.code, code)
		}
	}
	if called {
		t.Error("service must not be called for invalid bodies")
	}
}

func TestCreateCard_CallerBecomesOwner(t *testing.T) {
	var got model.CreateCardRequest
	r := newRouter(&fakeLedger{
		createFn: func(ctx context.Context, req model.CreateCardRequest) (*model.Card, error) {
			got = req
			return &model.Card{ID: "card-1", OwnerID: req.OwnerID, PartnerID: req.PartnerID, CreditLimit: req.CreditLimit, IsActive: true}, nil
		},
	})

	rec := doRequest(t, r, http.MethodPost, "/cards", `{"partner_id":"partner","credit_limit":"200"}`, signToken(t, "owner", testSecret))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.OwnerID != "owner" || got.PartnerID == nil || *got.PartnerID != "partner" {
		t.Errorf("unexpected create request: %+v", got)
	}
	if !got.CreditLimit.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected credit limit 200, got %s", got.CreditLimit)
	}
}

func TestDeactivateCard(t *testing.T) {
	var gotCard, gotCaller string
	r := newRouter(&fakeLedger{
		deactivateFn: func(ctx context.Context, cardID, callerID string) error {
			gotCard, gotCaller = cardID, callerID
			return nil
		},
	})

	rec := doRequest(t, r, http.MethodDelete, "/cards/card-1", "", signToken(t, "owner", testSecret))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if gotCard != "card-1" || gotCaller != "owner" {
		t.Errorf("unexpected call: %s %s", gotCard, gotCaller)
	}
}

func TestGetCardState_InternalErrorIsMasked(t *testing.T) {
	r := newRouter(&fakeLedger{
		stateFn: func(ctx context.Context, cardID string) (*model.CardState, error) {
			return nil, appErrors.NewDatabaseError(context.DeadlineExceeded)
		},
	})

	rec := doRequest(t, r, http.MethodGet, "/cards/card-1", "", signToken(t, "owner", testSecret))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "DATABASE_ERROR" {
		t.Errorf("expected DATABASE_ERROR, got %s", code)
	}
}
