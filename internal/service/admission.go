package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
)

// SubscriptionsAllowed reads the global admission flag. A missing flag
// counts as closed.
func (s *ClassService) SubscriptionsAllowed(ctx context.Context) (bool, error) {
	v, err := s.repo.GetSetting(ctx, model.SettingAllow)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read admission flag: %w", err)
	}
	return v == model.AllowYes, nil
}

// SetAdmissionOpen opens or closes subscriptions for everyone.
func (s *ClassService) SetAdmissionOpen(ctx context.Context, actor int64, open bool) error {
	if err := s.authorize(actor, "open or close booking"); err != nil {
		return err
	}
	v := model.AllowNo
	if open {
		v = model.AllowYes
	}
	if err := s.repo.SetSetting(ctx, model.SettingAllow, v); err != nil {
		return fmt.Errorf("write admission flag: %w", err)
	}
	s.log.Info("admission changed", "open", open, "by", actor)
	return nil
}

// UnderWeeklyCap reports whether userID may hold one more booking in the
// week containing asOf. Every booking dated on or after the start of that
// week counts.
func (s *ClassService) UnderWeeklyCap(ctx context.Context, userID int64, asOf time.Time) (bool, error) {
	if s.policy.IsAdmin(userID) {
		return true, nil
	}
	subs, err := s.repo.UserSubscriptions(ctx, userID, s.policy.StartOfWeek(asOf))
	if err != nil {
		return false, fmt.Errorf("weekly cap: %w", err)
	}
	return s.policy.UnderWeeklyCap(userID, len(subs)), nil
}

// UnderDailyCap reports whether userID holds no booking on date.
func (s *ClassService) UnderDailyCap(ctx context.Context, userID int64, date time.Time) (bool, error) {
	if s.policy.IsAdmin(userID) {
		return true, nil
	}
	subs, err := s.repo.UserSubscriptionsForDate(ctx, userID, date)
	if err != nil {
		return false, fmt.Errorf("daily cap: %w", err)
	}
	return s.policy.UnderDailyCap(userID, len(subs)), nil
}
