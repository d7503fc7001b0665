package payments

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
)

type OnboardingConfig struct {
	ReturnURL  string
	RefreshURL string
}

// OnboardingService walks landlords through payee account setup.
type OnboardingService struct {
	repo     *Repo
	provider Provider
	cfg      OnboardingConfig
	logger   *slog.Logger
}

func NewOnboardingService(db *gorm.DB, p Provider, cfg OnboardingConfig) *OnboardingService {
	return &OnboardingService{repo: NewRepo(db), provider: p, cfg: cfg, logger: slog.Default()}
}

func (s *OnboardingService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

type OnboardingResult struct {
	Complete bool
	URL      string
}

type OnboardingStatus struct {
	Status         AccountStatus
	AccountID      string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// StartOnboarding creates the landlord's payee account on first use and
// returns either completion or a provider-hosted onboarding link.
func (s *OnboardingService) StartOnboarding(ctx context.Context, landlordID string) (OnboardingResult, error) {
	acct, err := s.repo.FindAccountByLandlord(ctx, landlordID)
	if err != nil {
		return OnboardingResult{}, err
	}

	if acct == nil {
		created, err := s.createAccount(ctx, landlordID)
		if err != nil {
			return OnboardingResult{}, err
		}
		acct = &created
	}

	st, err := s.provider.GetConnectedAccount(ctx, acct.ExternalAccountID)
	if err != nil {
		return OnboardingResult{}, providerErr("get connected account", err)
	}
	updated, err := s.repo.UpdateAccountState(ctx, acct.ID, st)
	if err != nil {
		return OnboardingResult{}, err
	}
	if updated.Status == AccountComplete {
		return OnboardingResult{Complete: true}, nil
	}

	url, err := s.provider.CreateOnboardingLink(ctx, OnboardingLinkRequest{
		ExternalAccountID: updated.ExternalAccountID,
		RefreshURL:        s.cfg.RefreshURL,
		ReturnURL:         s.cfg.ReturnURL,
	})
	if err != nil {
		return OnboardingResult{}, providerErr("create onboarding link", err)
	}
	return OnboardingResult{URL: url}, nil
}

// CheckStatus refreshes the landlord's account from the provider.
func (s *OnboardingService) CheckStatus(ctx context.Context, landlordID string) (OnboardingStatus, error) {
	acct, err := s.repo.FindAccountByLandlord(ctx, landlordID)
	if err != nil {
		return OnboardingStatus{}, err
	}
	if acct == nil {
		return OnboardingStatus{Status: AccountNone}, nil
	}

	st, err := s.provider.GetConnectedAccount(ctx, acct.ExternalAccountID)
	if err != nil {
		return OnboardingStatus{}, providerErr("get connected account", err)
	}
	updated, err := s.repo.UpdateAccountState(ctx, acct.ID, st)
	if err != nil {
		return OnboardingStatus{}, err
	}
	return OnboardingStatus{
		Status:         updated.Status,
		AccountID:      updated.ExternalAccountID,
		ChargesEnabled: updated.ChargesEnabled,
		PayoutsEnabled: updated.PayoutsEnabled,
	}, nil
}

func (s *OnboardingService) createAccount(ctx context.Context, landlordID string) (ConnectedAccount, error) {
	req := CreateAccountRequest{LandlordID: landlordID}
	u, err := s.repo.GetUser(ctx, landlordID)
	switch {
	case err == nil:
		req.Email = u.Email
	case errors.Is(err, ErrUserNotFound):
		s.logger.WarnContext(ctx, "landlord has no user record; creating account without email", "landlord_id", landlordID)
	default:
		return ConnectedAccount{}, err
	}

	st, err := s.provider.CreateConnectedAccount(ctx, req)
	if err != nil {
		return ConnectedAccount{}, providerErr("create connected account", err)
	}
	// Persisted as pending until the first capability refresh.
	st.ChargesEnabled, st.PayoutsEnabled = false, false
	acct, err := s.repo.CreateAccount(ctx, landlordID, s.provider.Name(), st)
	if err != nil {
		return ConnectedAccount{}, err
	}
	if acct.ExternalAccountID != st.ExternalAccountID {
		s.logger.WarnContext(ctx, "concurrent onboarding; provider account orphaned",
			"landlord_id", landlordID, "orphaned_account_id", st.ExternalAccountID)
	}
	s.logger.InfoContext(ctx, "connected account created", "landlord_id", landlordID, "account_id", acct.ExternalAccountID)
	return acct, nil
}
