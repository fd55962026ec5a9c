package deposit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/ledger"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/gateway"
	"github.com/nkiryanov/depositledger/internal/store"
)

const (
	referencePrefix = "DEP"
	defaultEmail    = "no-reply@depositledger.local"

	// New reference is generated if the random one is already taken
	createAttempts = 3
)

type gatewayClient interface {
	Initialize(ctx context.Context, r gateway.InitializeRequest) (gateway.Authorization, error)
}

// Deposit just created and where the payer completes it
type Created struct {
	Deposit          models.Deposit
	AuthorizationURL string
	AccessCode       string
}

// What the user sees about their money
type Summary struct {
	Balance      int64
	Transactions []models.Transaction
	Deposits     []models.Deposit
}

type Service struct {
	store    store.Store
	refs     *ledger.ReferenceIndex
	deposits *ledger.DepositLedger
	balances *ledger.BalanceAccount
	gateway  gatewayClient
	logger   logger.Logger

	callbackURL string
	now         func() time.Time
}

type Option func(*Service)

// Gateway redirects the payer to url after payment
func WithCallbackURL(url string) Option {
	return func(s *Service) { s.callbackURL = url }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(s store.Store, gw gatewayClient, logger logger.Logger, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		refs:     ledger.NewReferenceIndex(s),
		deposits: ledger.NewDepositLedger(s),
		balances: ledger.NewBalanceAccount(s),
		gateway:  gw,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create deposit of amount minor units and start the gateway payment.
//
// Deposit and its reference are stored together before the gateway is called.
// If the gateway fails the deposit stays initiated and is later cancelled by the
// sweep; apperrors.ErrGatewayUnavailable is returned with the created deposit.
func (s *Service) Create(ctx context.Context, uid string, email string, amount int64) (Created, error) {
	var created Created

	if amount <= 0 || amount > models.MaxDepositAmount {
		return created, apperrors.ErrInvalidAmount
	}

	d, err := s.persist(ctx, uid, amount)
	if err != nil {
		return created, err
	}
	created.Deposit = d

	if email == "" {
		email = defaultEmail
	}

	auth, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:       email,
		Amount:      d.Amount,
		Reference:   d.Reference,
		CallbackURL: s.callbackURL,
		Metadata:    map[string]string{"uid": d.UserID, "depositId": d.ID},
	})
	if err != nil {
		s.logger.Error("Failed to initialize payment", "error", err, "deposit_id", d.ID, "reference", d.Reference)
		return created, fmt.Errorf("%w: %w", apperrors.ErrGatewayUnavailable, err)
	}

	created.AuthorizationURL = auth.AuthorizationURL
	created.AccessCode = auth.AccessCode

	s.logger.Info("Deposit created", "deposit_id", d.ID, "uid", uid, "amount", d.Amount, "reference", d.Reference)
	return created, nil
}

func (s *Service) persist(ctx context.Context, uid string, amount int64) (models.Deposit, error) {
	var err error

	for range createAttempts {
		now := s.now()
		d := models.Deposit{
			ID:        uuid.NewString(),
			UserID:    uid,
			Reference: newReference(now),
			Amount:    amount,
			Status:    models.DepositInitiated,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var createDeposit, createRef ledger.Mutation
		createDeposit, err = s.deposits.Create(d)
		if err != nil {
			return d, err
		}
		createRef, err = s.refs.Create(d.Reference, models.ReferenceEntry{UserID: uid, DepositID: d.ID})
		if err != nil {
			return d, err
		}

		err = ledger.Apply(ctx, s.store, createDeposit, createRef)
		switch {
		case err == nil:
			return d, nil
		case errors.Is(err, apperrors.ErrStaleWrite):
			s.logger.Warn("Deposit reference collision, regenerating", "reference", d.Reference)
			continue
		default:
			return d, fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
		}
	}

	return models.Deposit{}, fmt.Errorf("can't allocate deposit reference. Err: %w", err)
}

// Reference looks like DEP-M7Q2X1KZ-9F3A1C2B: creation time in base 36 and random suffix
func newReference(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return referencePrefix + "-" + ts + "-" + random
}

func (s *Service) Get(ctx context.Context, uid string, depositID string) (models.Deposit, error) {
	snap, err := s.deposits.Get(ctx, uid, depositID)
	return snap.Deposit, err
}

func (s *Service) List(ctx context.Context, uid string) ([]models.Deposit, error) {
	return s.deposits.ListByUser(ctx, uid)
}

func (s *Service) Summary(ctx context.Context, uid string) (Summary, error) {
	var summary Summary

	balance, err := s.balances.Get(ctx, uid)
	if err != nil {
		return summary, err
	}
	summary.Balance = balance.Balance

	summary.Transactions, err = s.balances.Transactions(ctx, uid)
	if err != nil {
		return summary, err
	}

	summary.Deposits, err = s.deposits.ListByUser(ctx, uid)
	if err != nil {
		return summary, err
	}

	return summary, nil
}
