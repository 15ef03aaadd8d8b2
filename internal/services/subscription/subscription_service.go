package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/internal/scheduler"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/timeutil"
)

const (
	// notifyLead is how long before expiry the reminder fires
	notifyLead = 3 * 24 * time.Hour

	// deviceLimit is how many devices one access key serves
	deviceLimit = 3
)

// Service implements ports.SubscriptionService. It owns the subscription
// state machine: remote keys are minted before the transaction opens and the
// two lifecycle jobs are written inside the same transaction as the
// subscription row, so jobs always mirror committed state.
type Service struct {
	db      ports.DBPort
	users   ports.UserRepository
	tariffs ports.TariffRepository
	subs    ports.SubscriptionRepository
	jobs    ports.JobRepository
	vpn     ports.KeyProvisioner
	notify  ports.Notifier
	logger  ports.Logger

	// wake nudges the scheduler worker after a commit plants a job
	wake func()
	now  func() time.Time
}

// NewService creates a new subscription service
func NewService(
	db ports.DBPort,
	users ports.UserRepository,
	tariffs ports.TariffRepository,
	subs ports.SubscriptionRepository,
	jobs ports.JobRepository,
	vpn ports.KeyProvisioner,
	notify ports.Notifier,
	logger ports.Logger,
	wake func(),
) *Service {
	if wake == nil {
		wake = func() {}
	}
	return &Service{
		db:      db,
		users:   users,
		tariffs: tariffs,
		subs:    subs,
		jobs:    jobs,
		vpn:     vpn,
		notify:  notify,
		logger:  logger,
		wake:    wake,
		now:     timeutil.Now,
	}
}

// CreateOrExtend provisions access for a paid tariff. An active subscription
// is extended in place and keeps its key; an expired or inactive one gets a
// fresh remote key; a first-time user gets a new row.
func (s *Service) CreateOrExtend(ctx context.Context, userID, tariffID int64) (*models.Subscription, string, error) {
	tariff, err := s.tariffs.GetByID(ctx, nil, tariffID)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "load tariff", err)
	}
	if tariff == nil {
		return nil, "", domain.Errorf(domain.ErrorCodeTariffNotFound, "tariff %d not found", tariffID)
	}

	sub, err := s.subs.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "load subscription", err)
	}

	now := s.now()
	duration := time.Duration(tariff.DurationDays) * 24 * time.Hour

	switch {
	case sub != nil && sub.IsActive && sub.EndDate.After(now):
		// Extension: key unchanged, end date pushed out
		newEnd := sub.EndDate.Add(duration)
		err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			if err := s.subs.Update(ctx, tx, sub.ID, models.SubscriptionUpdate{EndDate: &newEnd}); err != nil {
				return err
			}
			if err := s.subs.IncrementPayments(ctx, tx, sub.ID); err != nil {
				return err
			}
			return s.scheduleLifecycle(ctx, tx, sub.ID, newEnd)
		})
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "extend subscription", err)
		}
		sub.EndDate = newEnd
		sub.CntPayments++
		observability.RecordSubscriptionEvent("extended")
		s.wake()
		s.logger.Info("subscription extended",
			ports.Int64("user_id", userID),
			ports.Int64("sub_id", sub.ID),
			ports.String("end_date", newEnd.Format(time.RFC3339)))
		return sub, sub.VPNKey, nil

	case sub != nil:
		// Reactivation: the old key is gone, mint a new one
		key, err := s.vpn.CreateKey(ctx, keyName(userID))
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "mint vpn key", err)
		}
		newEnd := now.Add(duration)
		active := true
		err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			upd := models.SubscriptionUpdate{
				VPNKey:   &key.AccessURL,
				VPNKeyID: &key.ID,
				EndDate:  &newEnd,
				IsActive: &active,
			}
			if err := s.subs.Update(ctx, tx, sub.ID, upd); err != nil {
				return err
			}
			if err := s.subs.IncrementPayments(ctx, tx, sub.ID); err != nil {
				return err
			}
			return s.scheduleLifecycle(ctx, tx, sub.ID, newEnd)
		})
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "reactivate subscription", err)
		}
		sub.VPNKey = key.AccessURL
		sub.VPNKeyID = key.ID
		sub.EndDate = newEnd
		sub.IsActive = true
		sub.CntPayments++
		observability.RecordSubscriptionEvent("reactivated")
		s.wake()
		s.logger.Info("subscription reactivated",
			ports.Int64("user_id", userID),
			ports.Int64("sub_id", sub.ID),
			ports.String("end_date", newEnd.Format(time.RFC3339)))
		return sub, sub.VPNKey, nil

	default:
		newSub, accessURL, err := s.grantFresh(ctx, userID, tariff.ID, tariff.DurationDays)
		if err != nil {
			return nil, "", err
		}
		observability.RecordSubscriptionEvent("created")
		return newSub, accessURL, nil
	}
}

// grantFresh mints a key and inserts a brand new active subscription lasting
// the given number of days.
func (s *Service) grantFresh(ctx context.Context, userID, tariffID int64, days int) (*models.Subscription, string, error) {
	key, err := s.vpn.CreateKey(ctx, keyName(userID))
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "mint vpn key", err)
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:   userID,
		TariffID: tariffID,
		VPNKey:   key.AccessURL,
		VPNKeyID: key.ID,
		EndDate:  now.Add(time.Duration(days) * 24 * time.Hour),
		IsActive: true,
	}
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.subs.Create(ctx, tx, sub); err != nil {
			return err
		}
		return s.scheduleLifecycle(ctx, tx, sub.ID, sub.EndDate)
	})
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "create subscription", err)
	}
	s.wake()
	s.logger.Info("subscription created",
		ports.Int64("user_id", userID),
		ports.Int64("sub_id", sub.ID),
		ports.String("end_date", sub.EndDate.Format(time.RFC3339)))
	return sub, sub.VPNKey, nil
}

// scheduleLifecycle plants the two lifecycle timers for the given end date.
// The reminder is skipped (and any stale one removed) when its moment has
// already passed.
func (s *Service) scheduleLifecycle(ctx context.Context, tx ports.DBTX, subID int64, end time.Time) error {
	args := ports.MarshalJobArgs(models.JobArgs{SubID: subID})

	err := s.jobs.Replace(ctx, tx, &models.Job{
		ID:      scheduler.DeactivateJobID(subID),
		RunAt:   end,
		Handler: scheduler.HandlerDeactivate,
		Args:    args,
	})
	if err != nil {
		return fmt.Errorf("schedule deactivation: %w", err)
	}

	notifyAt := end.Add(-notifyLead)
	if notifyAt.After(s.now()) {
		err = s.jobs.Replace(ctx, tx, &models.Job{
			ID:      scheduler.NotifyJobID(subID),
			RunAt:   notifyAt,
			Handler: scheduler.HandlerNotify,
			Args:    args,
		})
	} else {
		err = s.jobs.Delete(ctx, tx, scheduler.NotifyJobID(subID))
	}
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

// Deactivate tears down an expired subscription: the remote key is destroyed
// first, then local key state is cleared. Missing and already-inactive
// subscriptions are a no-op, so retries never double-delete.
func (s *Service) Deactivate(ctx context.Context, subID int64) error {
	sub, err := s.subs.GetByID(ctx, nil, subID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "load subscription", err)
	}
	if sub == nil || !sub.IsActive {
		s.logger.Debug("deactivate no-op", ports.Int64("sub_id", subID))
		return nil
	}

	if sub.VPNKeyID != "" {
		if err := s.vpn.DeleteKey(ctx, sub.VPNKeyID); err != nil {
			return domain.WrapError(domain.ErrorCodeSubscriptionService, "delete vpn key", err)
		}
	}

	empty := ""
	inactive := false
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		upd := models.SubscriptionUpdate{
			VPNKey:   &empty,
			VPNKeyID: &empty,
			IsActive: &inactive,
		}
		if err := s.subs.Update(ctx, tx, sub.ID, upd); err != nil {
			return err
		}
		if err := s.jobs.Delete(ctx, tx, scheduler.DeactivateJobID(sub.ID)); err != nil {
			return err
		}
		return s.jobs.Delete(ctx, tx, scheduler.NotifyJobID(sub.ID))
	})
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "deactivate subscription", err)
	}

	observability.RecordSubscriptionEvent("deactivated")
	s.logger.Info("subscription deactivated",
		ports.Int64("user_id", sub.UserID),
		ports.Int64("sub_id", sub.ID))
	return nil
}

// Notify sends the pre-expiry reminder. Send failures are logged and
// swallowed: a chat outage must not crash a scheduler tick, and the reminder
// is best-effort anyway.
func (s *Service) Notify(ctx context.Context, subID int64) error {
	sub, err := s.subs.GetByID(ctx, nil, subID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "load subscription", err)
	}
	if sub == nil || !sub.IsActive {
		return nil
	}

	text := fmt.Sprintf(
		"⏳ Ваша подписка истекает %s.\nПродлите её, чтобы не потерять доступ к VPN.",
		timeutil.FormatMoscow(sub.EndDate))
	if err := s.notify.Send(ctx, sub.UserID, text); err != nil {
		observability.RecordNotification("failed")
		s.logger.Warn("expiry reminder not delivered",
			ports.Int64("user_id", sub.UserID),
			ports.Int64("sub_id", sub.ID),
			ports.Err(err))
		return nil
	}
	observability.RecordNotification("sent")
	return nil
}

// ActivateTrial grants the one-time free period on the reserved trial tariff
func (s *Service) ActivateTrial(ctx context.Context, userID int64) (*models.Subscription, string, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "load user", err)
	}
	if user == nil {
		return nil, "", domain.Errorf(domain.ErrorCodeUserNotFound, "user %d not found", userID)
	}
	if user.TrialUsed {
		return nil, "", domain.NewDomainError(domain.ErrorCodeTrialAlreadyUsed, "trial period already used")
	}

	trial, err := s.tariffs.GetByName(ctx, nil, models.TrialTariffName)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "load trial tariff", err)
	}
	if trial == nil {
		return nil, "", domain.NewDomainError(domain.ErrorCodeTariffNotFound, "trial tariff not configured")
	}

	sub, accessURL, err := s.CreateOrExtend(ctx, userID, trial.ID)
	if err != nil {
		return nil, "", err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.users.MarkTrialUsed(ctx, tx, userID)
	})
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrorCodeSubscriptionService, "mark trial used", err)
	}

	observability.RecordSubscriptionEvent("trial_activated")
	return sub, accessURL, nil
}

// ApplyReferralBonus grants both sides of a referral. The referred user gets
// a fresh trial-length subscription plus the bonus; the referrer gets the
// bonus appended to the later of now and their current end date, or the same
// fresh grant if they have never subscribed.
func (s *Service) ApplyReferralBonus(ctx context.Context, referral *models.Referral) error {
	trial, err := s.tariffs.GetByName(ctx, nil, models.TrialTariffName)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "load trial tariff", err)
	}
	if trial == nil {
		return domain.NewDomainError(domain.ErrorCodeTariffNotFound, "trial tariff not configured")
	}

	grantDays := trial.DurationDays + referral.BonusDays
	bonus := time.Duration(referral.BonusDays) * 24 * time.Hour

	// Referred side: always a fresh grant
	if _, _, err := s.grantFresh(ctx, referral.ReferredID, trial.ID, grantDays); err != nil {
		return err
	}
	if err := s.markTrialUsed(ctx, referral.ReferredID); err != nil {
		return err
	}

	// Referrer side
	refSub, err := s.subs.GetByUserID(ctx, nil, referral.ReferrerID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "load referrer subscription", err)
	}
	if refSub != nil {
		newEnd := timeutil.MaxTime(refSub.EndDate, s.now()).Add(bonus)
		err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			if err := s.subs.Update(ctx, tx, refSub.ID, models.SubscriptionUpdate{EndDate: &newEnd}); err != nil {
				return err
			}
			return s.scheduleLifecycle(ctx, tx, refSub.ID, newEnd)
		})
		if err != nil {
			return domain.WrapError(domain.ErrorCodeSubscriptionService, "extend referrer subscription", err)
		}
		s.wake()
	} else {
		if _, _, err := s.grantFresh(ctx, referral.ReferrerID, trial.ID, grantDays); err != nil {
			return err
		}
		if err := s.markTrialUsed(ctx, referral.ReferrerID); err != nil {
			return err
		}
	}

	observability.RecordSubscriptionEvent("bonus_applied")
	s.logger.Info("referral bonus applied",
		ports.Int64("referrer_id", referral.ReferrerID),
		ports.Int64("referred_id", referral.ReferredID),
		ports.Int("bonus_days", referral.BonusDays))
	return nil
}

// Info returns what the chat layer shows a subscribed user
func (s *Service) Info(ctx context.Context, userID int64) (*ports.SubscriptionInfo, error) {
	sub, err := s.subs.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeSubscriptionService, "load subscription", err)
	}
	if sub == nil {
		return nil, domain.Errorf(domain.ErrorCodeSubscriptionNotFound, "user %d has no subscription", userID)
	}
	if !sub.IsActive {
		return nil, domain.Errorf(domain.ErrorCodeSubscriptionNotActive, "subscription %d is not active", sub.ID)
	}
	return &ports.SubscriptionInfo{
		EndDate:     sub.EndDate,
		VPNKey:      sub.VPNKey,
		DeviceLimit: deviceLimit,
	}, nil
}

func (s *Service) markTrialUsed(ctx context.Context, userID int64) error {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.users.MarkTrialUsed(ctx, tx, userID)
	})
	if err != nil {
		return domain.WrapError(domain.ErrorCodeSubscriptionService, "mark trial used", err)
	}
	return nil
}

func keyName(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

var _ ports.SubscriptionService = (*Service)(nil)
