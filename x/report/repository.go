package report

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("report")

type Repository interface {
	Create(ctx context.Context, report core.AbuseReport) (core.AbuseReport, error)
	Get(ctx context.Context, id string) (core.AbuseReport, error)
	List(ctx context.Context) ([]core.AbuseReport, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

// Create inserts the report. Reports are append-only; there is no
// update path.
func (r *repository) Create(ctx context.Context, report core.AbuseReport) (core.AbuseReport, error) {
	ctx, span := tracer.Start(ctx, "Report.Repository.Create")
	defer span.End()

	if err := r.db.WithContext(ctx).Create(&report).Error; err != nil {
		span.RecordError(err)
		return core.AbuseReport{}, err
	}

	return report, nil
}

func (r *repository) Get(ctx context.Context, id string) (core.AbuseReport, error) {
	ctx, span := tracer.Start(ctx, "Report.Repository.Get")
	defer span.End()

	var report core.AbuseReport
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	return report, err
}

func (r *repository) List(ctx context.Context) ([]core.AbuseReport, error) {
	ctx, span := tracer.Start(ctx, "Report.Repository.List")
	defer span.End()

	var reports []core.AbuseReport
	err := r.db.WithContext(ctx).Order("c_date DESC").Find(&reports).Error
	return reports, err
}
