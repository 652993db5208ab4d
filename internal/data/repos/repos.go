package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/listinglens-backend/internal/data/repos/analysis"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type SessionRepo = analysis.SessionRepo
type ProductRepo = analysis.ProductRepo
type ProgressEventRepo = analysis.ProgressEventRepo

// Set bundles every durable repository the service needs.
type Set struct {
	Sessions SessionRepo
	Products ProductRepo
	Events   ProgressEventRepo
}

func New(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Sessions: analysis.NewSessionRepo(db, log),
		Products: analysis.NewProductRepo(db, log),
		Events:   analysis.NewProgressEventRepo(db, log),
	}
}
