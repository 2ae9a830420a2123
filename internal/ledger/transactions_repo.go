package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

const (
	// ReferenceConstraint guards against recording the same charge twice.
	ReferenceConstraint = "ux_transactions_reference"
	// CustomerPaymentConstraint allows one customer_to_business row per request.
	CustomerPaymentConstraint = "ux_transactions_request_customer_payment"
	// TransferCodeConstraint keeps gateway transfer codes unique.
	TransferCodeConstraint = "ux_transactions_transfer_code"
)

// TransactionRepository manages persistence for the payment ledger.
type TransactionRepository interface {
	WithTx(tx *gorm.DB) TransactionRepository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindCustomerPayment(ctx context.Context, requestID uuid.UUID) (*models.Transaction, error)
	FindCustomerPaymentForUpdate(ctx context.Context, requestID uuid.UUID) (*models.Transaction, error)
	FindByTransferCode(ctx context.Context, code string) (*models.Transaction, error)
	ClaimTransfer(ctx context.Context, id uuid.UUID, reference string, at, staleBefore time.Time) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository returns a transaction repository bound to db.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	if tx == nil {
		return r
	}
	return &transactionRepository{db: tx}
}

func (r *transactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *transactionRepository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) FindCustomerPayment(ctx context.Context, requestID uuid.UUID) (*models.Transaction, error) {
	return r.findCustomerPayment(r.db.WithContext(ctx), requestID)
}

func (r *transactionRepository) FindCustomerPaymentForUpdate(ctx context.Context, requestID uuid.UUID) (*models.Transaction, error) {
	return r.findCustomerPayment(dbpkg.ForUpdate(r.db.WithContext(ctx)), requestID)
}

func (r *transactionRepository) findCustomerPayment(q *gorm.DB, requestID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := q.Where("service_request_id = ? AND transaction_type = ?", requestID, enums.TransactionTypeCustomerToBusiness).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) FindByTransferCode(ctx context.Context, code string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("transfer_code = ?", code).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// ClaimTransfer marks the row pending under reference unless another transfer
// holds it. A pending claim with no transfer code older than staleBefore may
// be taken over. It reports whether the claim was won.
func (r *transactionRepository) ClaimTransfer(ctx context.Context, id uuid.UUID, reference string, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Where(
			r.db.Where("transfer_status IS NULL").
				Or("transfer_status IN ?", []enums.TransferStatus{enums.TransferStatusFailed, enums.TransferStatusReversed}).
				Or("transfer_status = ? AND transfer_code IS NULL AND transfer_initiated_at < ?", enums.TransferStatusPending, staleBefore),
		).
		Updates(map[string]any{
			"transfer_status":         enums.TransferStatusPending,
			"transfer_reference":      reference,
			"transfer_code":           nil,
			"transfer_initiated_at":   at,
			"transfer_completed_at":   nil,
			"transfer_failure_reason": nil,
			"updated_at":              at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *transactionRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsDuplicatePayment reports whether err came from either uniqueness guard
// on the customer payment row.
func IsDuplicatePayment(err error) bool {
	return dbpkg.IsUniqueViolation(err, ReferenceConstraint) ||
		dbpkg.IsUniqueViolation(err, CustomerPaymentConstraint)
}
