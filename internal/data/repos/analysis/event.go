package analysis

import (
	"gorm.io/gorm"

	types "github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

// ProgressEventRepo is the append-only progress ledger.
type ProgressEventRepo interface {
	Create(dbc dbctx.Context, ev *types.ProgressEvent) error
	ListBySession(dbc dbctx.Context, sessionID string) ([]*types.ProgressEvent, error)
}

type progressEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressEventRepo(db *gorm.DB, baseLog *logger.Logger) ProgressEventRepo {
	return &progressEventRepo{
		db:  db,
		log: baseLog.With("repo", "ProgressEventRepo"),
	}
}

func (r *progressEventRepo) Create(dbc dbctx.Context, ev *types.ProgressEvent) error {
	if ev == nil {
		return nil
	}
	return dbc.Pick(r.db).Create(ev).Error
}

func (r *progressEventRepo) ListBySession(dbc dbctx.Context, sessionID string) ([]*types.ProgressEvent, error) {
	var out []*types.ProgressEvent
	if sessionID == "" {
		return out, nil
	}
	if err := dbc.Pick(r.db).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
