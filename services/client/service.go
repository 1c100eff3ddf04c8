package client

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/pkg/repository"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   clock.Clock
	clients repository.Repository[Client]
}

type ServiceParams struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		clock:   p.Clock,
		clients: repository.ProvideStore[Client](p.DB),
	}
}

type RegisterParams struct {
	Name      string
	Phone     string
	BirthDate *time.Time
}

func (s *Service) Register(ctx context.Context, p RegisterParams) (*Client, error) {
	if p.Name == "" {
		return nil, errutil.ValidationFailed("name is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "name", Message: "must not be empty"}))
	}

	c := &Client{
		ID:        s.node.Generate().String(),
		Name:      p.Name,
		Phone:     p.Phone,
		BirthDate: p.BirthDate,
		JoinedAt:  s.clock.Now(),
	}
	if err := s.clients.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, clientID string) (*Client, error) {
	c, err := s.clients.FindOne(ctx, &Client{ID: clientID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("client not found", nil)
	}
	return c, nil
}

// MarkFirstPaid records the first completed payment moment. The conditional
// update keeps the timestamp stable across concurrent completions.
func (s *Service) MarkFirstPaid(ctx context.Context, tx *gorm.DB, clientID string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&Client{}).
		Where("id = ? AND first_paid_at IS NULL", clientID).
		Update("first_paid_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListWithBirthdayOn returns clients whose birthday (month and day) falls
// on the given calendar day. Matching happens in Go so the query stays
// portable across dialects.
func (s *Service) ListWithBirthdayOn(ctx context.Context, day time.Time) ([]Client, error) {
	var candidates []Client
	err := s.db.WithContext(ctx).
		Where("birth_date IS NOT NULL").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	matches := make([]Client, 0)
	for _, c := range candidates {
		if c.BirthDate.Month() == day.Month() && c.BirthDate.Day() == day.Day() {
			matches = append(matches, c)
		}
	}
	return matches, nil
}
