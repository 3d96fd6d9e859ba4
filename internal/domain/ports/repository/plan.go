package repository

import (
	"context"

	"vpn-subscription-shop/internal/domain/model"
)

type PlanRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	List(ctx context.Context, tx Tx) ([]*model.Plan, error)
	FindTestPlan(ctx context.Context, tx Tx) (*model.Plan, error)
}
