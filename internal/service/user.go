package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/policy"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
)

// UserService handles registration, profile completion and user listings.
type UserService struct {
	repo   repository.Repository
	policy policy.Policy
	now    func() time.Time
	log    *slog.Logger
}

// NewUserService constructs a UserService with its dependencies.
func NewUserService(repo repository.Repository, pol policy.Policy, opts ...Option) *UserService {
	o := buildOptions(opts)
	return &UserService{repo: repo, policy: pol, now: o.now, log: o.log}
}

// RegisterUser creates the user on first contact or refreshes the names it
// was created with. The group number is kept. An empty id registers the
// actor; only admins may register someone else.
func (s *UserService) RegisterUser(ctx context.Context, actor int64, req model.UpsertUserRequest) (*model.User, error) {
	if req.ID == 0 {
		req.ID = actor
	}
	if req.ID == 0 {
		return nil, invalidf("user id is required")
	}
	if req.ID != actor && !s.policy.IsAdmin(actor) {
		return nil, deniedf("cannot register another user")
	}
	u := model.User{
		ID:        req.ID,
		NickName:  strings.TrimSpace(req.NickName),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	return s.repo.GetUser(ctx, u.ID)
}

// GetUser returns a user by id.
func (s *UserService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUser(ctx, id)
}

// UpdateProfile applies the profile completion steps. Users may edit their
// own profile; admins may edit anyone's.
func (s *UserService) UpdateProfile(ctx context.Context, actor, id int64, req model.UpdateProfileRequest) (*model.User, error) {
	if actor != id && !s.policy.IsAdmin(actor) {
		return nil, deniedf("cannot edit another user's profile")
	}

	type change struct {
		field model.UserField
		value any
	}
	var changes []change
	if req.FirstName != nil {
		name := strings.TrimSpace(*req.FirstName)
		if name == "" {
			return nil, invalidf("first name must not be empty")
		}
		changes = append(changes, change{model.FieldFirstName, name})
	}
	if req.LastName != nil {
		name := strings.TrimSpace(*req.LastName)
		if name == "" {
			return nil, invalidf("last name must not be empty")
		}
		changes = append(changes, change{model.FieldLastName, name})
	}
	if req.GroupNum != nil {
		if *req.GroupNum <= 0 {
			return nil, invalidf("group number must be positive, got %d", *req.GroupNum)
		}
		changes = append(changes, change{model.FieldGroupNum, *req.GroupNum})
	}
	if len(changes) == 0 {
		return nil, invalidf("nothing to update")
	}

	err := s.repo.InTx(ctx, func(st repository.Store) error {
		for _, c := range changes {
			if err := st.UpdateUserField(ctx, id, c.field, c.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.repo.GetUser(ctx, id)
}

// ListStudents lists the users of a group, the most recent group when group
// is nil.
func (s *UserService) ListStudents(ctx context.Context, actor int64, group *int) ([]model.User, error) {
	if !s.policy.IsAdmin(actor) {
		return nil, deniedf("only an administrator can list students")
	}
	var g int
	if group != nil {
		g = *group
	} else {
		latest, err := s.repo.LatestGroup(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return []model.User{}, nil
			}
			return nil, err
		}
		g = latest
	}
	users, err := s.repo.ListUsersByGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

// Subscriptions lists a user's bookings from today on.
func (s *UserService) Subscriptions(ctx context.Context, actor, id int64) ([]model.Slot, error) {
	if actor != id && !s.policy.IsAdmin(actor) {
		return nil, deniedf("cannot view another user's bookings")
	}
	slots, err := s.repo.UserSubscriptions(ctx, id, s.policy.Today(s.now()))
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	return slots, nil
}
