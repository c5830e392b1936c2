package figures

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type PlacementRepo interface {
	ListByBookVersion(dbc dbctx.Context, bookID, version string) ([]*types.FigurePlacement, error)
	// InsertMissing stores rows whose (book, version, figure) key is not yet
	// taken. Existing rows win; the caller reloads to see the stored values.
	InsertMissing(dbc dbctx.Context, rows []*types.FigurePlacement) (int64, error)
}

type placementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlacementRepo(db *gorm.DB, baseLog *logger.Logger) PlacementRepo {
	return &placementRepo{db: db, log: baseLog.With("repo", "FigurePlacementRepo")}
}

func (r *placementRepo) ListByBookVersion(dbc dbctx.Context, bookID, version string) ([]*types.FigurePlacement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.FigurePlacement
	err := transaction.WithContext(dbc.Ctx).
		Where("book_id = ? AND book_version = ?", bookID, version).
		Order("figure_src ASC").
		Find(&out).Error
	return out, err
}

func (r *placementRepo) InsertMissing(dbc dbctx.Context, rows []*types.FigurePlacement) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "book_id"}, {Name: "book_version"}, {Name: "figure_src"}},
			DoNothing: true,
		}).
		Create(&rows)
	return res.RowsAffected, res.Error
}
