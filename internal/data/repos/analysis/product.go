package analysis

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type ProductRepo interface {
	// Append stores a successfully collected product and assigns its role.
	Append(dbc dbctx.Context, sessionID string, p types.Product) (*types.ProductRecord, error)
	ListBySession(dbc dbctx.Context, sessionID string) ([]*types.ProductRecord, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

// assignRole decides a record's role from arrival order: the first record
// stored for a session is its main product, every later one a competitor.
func assignRole(existing int64) types.ProductRole {
	if existing == 0 {
		return types.RoleMain
	}
	return types.RoleCompetitor
}

func (r *productRepo) Append(dbc dbctx.Context, sessionID string, p types.Product) (*types.ProductRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	rec := types.NewProductRecord(sessionID, p)
	err := dbc.Pick(r.db).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&types.ProductRecord{}).
			Where("session_id = ?", sessionID).
			Count(&existing).Error; err != nil {
			return err
		}
		rec.Role = assignRole(existing)
		rec.Position = int(existing)
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *productRepo) ListBySession(dbc dbctx.Context, sessionID string) ([]*types.ProductRecord, error) {
	var out []*types.ProductRecord
	if sessionID == "" {
		return out, nil
	}
	if err := dbc.Pick(r.db).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
