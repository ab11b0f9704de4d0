package orders

import (
	"context"

	dbpkg "github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository persists settled invoices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*models.Order, error)
	// CreateIfNotExists inserts the order unless one already exists for its
	// provider invoice id. Returns true when a row was inserted.
	CreateIfNotExists(ctx context.Context, order *models.Order) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*models.Order, error) {
	if providerInvoiceID == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("provider_invoice_id = ?", providerInvoiceID).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateIfNotExists(ctx context.Context, order *models.Order) (bool, error) {
	existing, err := r.FindByProviderInvoiceID(ctx, order.ProviderInvoiceID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_orders_provider_invoice_id") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
