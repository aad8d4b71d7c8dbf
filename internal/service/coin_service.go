package service

import (
	"context"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
	"github.com/kianjain/shisuka/internal/state"
)

// CoinService manages the user's coin balance. All balance mutation goes
// through backend RPCs so the arithmetic and the insufficient-funds check
// stay atomic server-side; the service never computes a balance locally.
type CoinService struct {
	client   *backend.Client
	identity Identity

	balance *state.Store[int]
	log     *observability.ServiceLogger
}

// NewCoinService creates a CoinService.
func NewCoinService(client *backend.Client, identity Identity) *CoinService {
	return &CoinService{
		client:   client,
		identity: identity,
		balance:  state.NewStore("coin_balance", 0),
		log:      observability.NewServiceLogger("coins"),
	}
}

// BalanceStore exposes the observable balance.
func (s *CoinService) BalanceStore() *state.Store[int] {
	return s.balance
}

// Balance fetches the current balance, initializing a zero-balance row the
// first time a user touches the coin system. A concurrent initializer racing
// us is fine: the unique-violation conflict means the row now exists, so we
// re-read it.
func (s *CoinService) Balance(ctx context.Context) (int, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return 0, err
	}

	row, err := s.fetchBalance(ctx, userID)
	if err == nil {
		s.balance.Set(row.Balance)
		return row.Balance, nil
	}
	if !models.IsNotFound(err) {
		return 0, err
	}

	// First touch: create the row at zero.
	err = s.client.From("coins").
		Insert(ctx, map[string]any{"user_id": userID, "balance": 0}, nil)
	if err != nil && !models.IsConflict(err) {
		return 0, err
	}

	row, err = s.fetchBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.balance.Set(row.Balance)
	return row.Balance, nil
}

// Earn credits the user's balance via the earn_coins RPC and returns the
// authoritative post-transaction balance. The project id and description
// attribute the transaction in the ledger.
func (s *CoinService) Earn(ctx context.Context, amount int, projectID, description string) (int, error) {
	return s.transact(ctx, "earn_coins", amount, projectID, description)
}

// Spend debits the user's balance via the spend_coins RPC. An insufficient
// balance is reported as a distinct error and leaves the balance unchanged.
func (s *CoinService) Spend(ctx context.Context, amount int, projectID, description string) (int, error) {
	return s.transact(ctx, "spend_coins", amount, projectID, description)
}

func (s *CoinService) transact(ctx context.Context, fn string, amount int, projectID, description string) (int, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, models.NewValidationError("Amount must be positive")
	}

	err = s.client.RPC(ctx, fn, map[string]any{
		"user_id":     userID,
		"amount":      amount,
		"project_id":  projectID,
		"description": description,
	}, nil)
	if err != nil {
		return 0, err
	}

	// Re-fetch rather than trusting any RPC echo; the stored row is the
	// source of truth.
	row, err := s.fetchBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.balance.Set(row.Balance)
	return row.Balance, nil
}

func (s *CoinService) fetchBalance(ctx context.Context, userID string) (*models.CoinBalance, error) {
	var row models.CoinBalance
	err := s.client.From("coins").
		Select("*").
		Eq("user_id", userID).
		Single().
		Get(ctx, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
