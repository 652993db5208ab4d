package analysis

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type SessionRepo interface {
	// Get returns (nil, nil) when the session does not exist.
	Get(dbc dbctx.Context, id string) (*types.Session, error)
	Upsert(dbc dbctx.Context, s *types.Session) error
	ListRecent(dbc dbctx.Context, limit int) ([]*types.Session, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) Get(dbc dbctx.Context, id string) (*types.Session, error) {
	if id == "" {
		return nil, nil
	}
	var s types.Session
	err := dbc.Pick(r.db).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Upsert(dbc dbctx.Context, s *types.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	return dbc.Pick(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(s).Error
}

func (r *sessionRepo) ListRecent(dbc dbctx.Context, limit int) ([]*types.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.Session
	if err := dbc.Pick(r.db).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
