package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/deposit"
)

var createdAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Authenticates any request with "Bearer <uid>"
type fakeAuth struct{}

func (fakeAuth) Auth(_ context.Context, r *http.Request) (models.User, error) {
	uid, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || uid == "" {
		return models.User{}, apperrors.ErrUnauthorized
	}
	return models.User{ID: uid, Email: uid + "@example.com"}, nil
}

type fakeDeposits struct {
	createUID    string
	createEmail  string
	createAmount int64
	createErr    error

	deposits []models.Deposit
	summary  deposit.Summary
}

func (f *fakeDeposits) Create(_ context.Context, uid string, email string, amount int64) (deposit.Created, error) {
	f.createUID, f.createEmail, f.createAmount = uid, email, amount
	d := models.Deposit{ID: "d1", UserID: uid, Reference: "DEP-1", Amount: amount, Status: models.DepositInitiated, CreatedAt: createdAt, UpdatedAt: createdAt}
	if f.createErr != nil {
		return deposit.Created{Deposit: d}, f.createErr
	}
	return deposit.Created{Deposit: d, AuthorizationURL: "https://checkout.example/DEP-1", AccessCode: "code"}, nil
}

func (f *fakeDeposits) Get(_ context.Context, uid string, depositID string) (models.Deposit, error) {
	for _, d := range f.deposits {
		if d.UserID == uid && d.ID == depositID {
			return d, nil
		}
	}
	return models.Deposit{}, apperrors.ErrDepositNotFound
}

func (f *fakeDeposits) List(_ context.Context, uid string) ([]models.Deposit, error) {
	return f.deposits, nil
}

func (f *fakeDeposits) Summary(_ context.Context, uid string) (deposit.Summary, error) {
	return f.summary, nil
}

type fakeReconciler struct {
	body      []byte
	signature string
	reference string

	result models.ReconcileResult
	err    error
}

func (f *fakeReconciler) HandleWebhook(_ context.Context, body []byte, signature string) (models.ReconcileResult, error) {
	f.body, f.signature = body, signature
	return f.result, f.err
}

func (f *fakeReconciler) VerifyReference(_ context.Context, reference string) (models.ReconcileResult, error) {
	f.reference = reference
	return f.result, f.err
}

func do(t *testing.T, h http.Handler, method, target, uid, body string, headers ...string) (int, string) {
	t.Helper()

	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if uid != "" {
		r.Header.Set("Authorization", "Bearer "+uid)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	resp := w.Result()
	defer resp.Body.Close() // nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestRouter_Webhook(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"applied", nil, http.StatusOK},
		{"unknown reference acked", apperrors.ErrUnknownReference, http.StatusOK},
		{"invalid signature", apperrors.ErrInvalidSignature, http.StatusBadRequest},
		{"invalid payload", apperrors.ErrInvalidPayload, http.StatusBadRequest},
		{"stale write asks redelivery", apperrors.ErrStaleWrite, http.StatusInternalServerError},
		{"store down asks redelivery", apperrors.ErrConfiguration, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeReconciler{err: tt.err}
			router := NewRouter(fakeAuth{}, &fakeDeposits{}, rec, logger.NewNoOpLogger())
			body := `{"event":"charge.success","data":{"reference":"R1","status":"success"}}`

			status, _ := do(t, router, http.MethodPost, "/api/webhooks/paystack", "", body, "X-Paystack-Signature", "abc")

			require.Equal(t, tt.status, status)
			require.Equal(t, body, string(rec.body), "raw body must reach the verifier untouched")
			require.Equal(t, "abc", rec.signature)
		})
	}
}

func TestRouter_CreateDeposit(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		deposits := &fakeDeposits{}
		router := NewRouter(fakeAuth{}, deposits, &fakeReconciler{}, logger.NewNoOpLogger())

		status, body := do(t, router, http.MethodPost, "/api/deposits", "u1", `{"amount": "50.25"}`)

		require.Equal(t, http.StatusCreated, status, body)
		require.Equal(t, "u1", deposits.createUID)
		require.Equal(t, int64(5025), deposits.createAmount, "major units converted to minor")
		require.Equal(t, "u1@example.com", deposits.createEmail, "email taken from token if not given")
		require.JSONEq(t, `{
			"depositId": "d1",
			"reference": "DEP-1",
			"amount": "50.25",
			"amountMinor": 5025,
			"status": "initiated",
			"createdAt": "2025-03-01T12:00:00Z",
			"updatedAt": "2025-03-01T12:00:00Z",
			"authorizationUrl": "https://checkout.example/DEP-1",
			"accessCode": "code"
		}`, body)
	})

	t.Run("invalid amount", func(t *testing.T) {
		router := NewRouter(fakeAuth{}, &fakeDeposits{}, &fakeReconciler{}, logger.NewNoOpLogger())

		for _, body := range []string{`{"amount": "0"}`, `{"amount": "1.005"}`, `{"amount": "-3"}`, `{}`} {
			status, _ := do(t, router, http.MethodPost, "/api/deposits", "u1", body)
			require.Equal(t, http.StatusBadRequest, status, body)
		}

		status, _ := do(t, router, http.MethodPost, "/api/deposits", "u1", `{"amount": "100000000000000000000"}`)
		require.Equal(t, http.StatusUnprocessableEntity, status, "overflowing amount")
	})

	t.Run("gateway unavailable", func(t *testing.T) {
		deposits := &fakeDeposits{createErr: errors.Join(apperrors.ErrGatewayUnavailable, errors.New("timeout"))}
		router := NewRouter(fakeAuth{}, deposits, &fakeReconciler{}, logger.NewNoOpLogger())

		status, _ := do(t, router, http.MethodPost, "/api/deposits", "u1", `{"amount": 10}`)

		require.Equal(t, http.StatusBadGateway, status)
	})

	t.Run("unauthorized", func(t *testing.T) {
		router := NewRouter(fakeAuth{}, &fakeDeposits{}, &fakeReconciler{}, logger.NewNoOpLogger())

		status, _ := do(t, router, http.MethodPost, "/api/deposits", "", `{"amount": 10}`)

		require.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestRouter_Deposits(t *testing.T) {
	deposits := &fakeDeposits{deposits: []models.Deposit{
		{ID: "d1", UserID: "u1", Reference: "R1", Amount: 5000, Status: models.DepositApproved, CreatedAt: createdAt, UpdatedAt: createdAt},
	}}
	router := NewRouter(fakeAuth{}, deposits, &fakeReconciler{}, logger.NewNoOpLogger())

	status, body := do(t, router, http.MethodGet, "/api/deposits/d1", "u1", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{
		"depositId": "d1",
		"reference": "R1",
		"amount": "50.00",
		"amountMinor": 5000,
		"status": "approved",
		"createdAt": "2025-03-01T12:00:00Z",
		"updatedAt": "2025-03-01T12:00:00Z"
	}`, body)

	status, _ = do(t, router, http.MethodGet, "/api/deposits/d1", "u2", "")
	require.Equal(t, http.StatusNotFound, status, "other user deposit is not visible")

	status, body = do(t, router, http.MethodGet, "/api/deposits", "u1", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"depositId":"d1"`)
}

// Logger that keeps fields of the last info line
type accessLogger struct {
	logger.Logger
	fields []any
}

func (l *accessLogger) Info(_ string, args ...any) { l.fields = args }

func (l *accessLogger) field(key string) any {
	for i := 0; i+1 < len(l.fields); i += 2 {
		if l.fields[i] == key {
			return l.fields[i+1]
		}
	}
	return nil
}

func TestRouter_AccessLog(t *testing.T) {
	l := &accessLogger{Logger: logger.NewNoOpLogger()}
	router := NewRouter(fakeAuth{}, &fakeDeposits{}, &fakeReconciler{}, l)

	status, _ := do(t, router, http.MethodGet, "/api/deposits/d9", "u1", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "GET /deposits/{id}", l.field("route"))
	require.Equal(t, "u1", l.field("uid"))

	status, _ = do(t, router, http.MethodGet, "/api/deposits", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "GET /deposits", l.field("route"))
	require.Nil(t, l.field("uid"), "unauthenticated request has no uid")
}

func TestRouter_Verify(t *testing.T) {
	tests := []struct {
		name   string
		result models.ReconcileResult
		err    error
		status int
	}{
		{"approved", models.ReconcileResult{Status: models.DepositApproved, Credited: true, Applied: true}, nil, http.StatusOK},
		{"still pending", models.ReconcileResult{Status: models.DepositProcessing}, nil, http.StatusOK},
		{"unknown reference", models.ReconcileResult{}, apperrors.ErrUnknownReference, http.StatusNotFound},
		{"gateway down", models.ReconcileResult{}, apperrors.ErrUpstreamVerification, http.StatusBadGateway},
		{"busy", models.ReconcileResult{}, apperrors.ErrStaleWrite, http.StatusConflict},
		{"store down", models.ReconcileResult{}, apperrors.ErrConfiguration, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeReconciler{result: tt.result, err: tt.err}
			router := NewRouter(fakeAuth{}, &fakeDeposits{}, rec, logger.NewNoOpLogger())

			status, body := do(t, router, http.MethodPost, "/api/deposits/verify", "u1", `{"reference": "R1"}`)

			require.Equal(t, tt.status, status, body)
			require.Equal(t, "R1", rec.reference)
			if tt.err == nil {
				require.Contains(t, body, `"status":"`+string(tt.result.Status)+`"`)
			}
		})
	}

	t.Run("missing reference", func(t *testing.T) {
		router := NewRouter(fakeAuth{}, &fakeDeposits{}, &fakeReconciler{}, logger.NewNoOpLogger())

		status, _ := do(t, router, http.MethodPost, "/api/deposits/verify", "u1", `{}`)

		require.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouter_User(t *testing.T) {
	deposits := &fakeDeposits{summary: deposit.Summary{
		Balance: 5000,
		Transactions: []models.Transaction{
			{ID: "tx1", UserID: "u1", DepositID: "d1", Amount: 5000, Kind: models.TransactionKindCredit, RecordedAt: createdAt},
		},
	}}
	router := NewRouter(fakeAuth{}, deposits, &fakeReconciler{}, logger.NewNoOpLogger())

	status, body := do(t, router, http.MethodGet, "/api/user", "u1", "")

	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{
		"uid": "u1",
		"balance": "50.00",
		"balanceMinor": 5000,
		"transactions": [{
			"txId": "tx1",
			"depositId": "d1",
			"kind": "credit",
			"amount": "50.00",
			"amountMinor": 5000,
			"recordedAt": "2025-03-01T12:00:00Z"
		}],
		"deposits": []
	}`, body)
}

func Test_toMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		minor  int64
		err    bool
	}{
		{"50", 5000, false},
		{"50.2", 5020, false},
		{"0.01", 1, false},
		{"0.001", 0, true},
		{"0", 0, true},
		{"-1", 0, true},
		{"1000000000.00", 100000000000, false},
		{"1000000000.01", 0, true},
		{"92233720368547758.07", 0, true},
		{"92233720368547758.08", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			minor, err := toMinorUnits(decimal.RequireFromString(tt.amount))
			if tt.err {
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.minor, minor)
		})
	}
}
