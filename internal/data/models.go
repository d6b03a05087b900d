package data

import (
	"errors"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

var (
	ErrRecordNotFound          = errors.New("record not found")
	ErrRecordAlreadyExists     = errors.New("record already exists")
	ErrMismatchNumRowsAffected = errors.New("mismatch number of rows affected")
	ErrMissingInput            = errors.New("missing input")
	ErrERPContractViolation    = errors.New("erp integration contract violated")
)

type Models struct {
	Sellers          *SellerModel
	Payments         *PaymentModel
	Jobs             *JobModel
	Expenses         *ExpenseModel
	ExpenseBatches   *ExpenseBatchModel
	SyncState        *SyncStateModel
	WebhookEvents    *WebhookEventModel
	APIKeys          *APIKeyModel
	ERPTokens        *ERPTokenModel
	DBConnectionPool db.DBConnectionPool
}

func NewModels(dbConnectionPool db.DBConnectionPool) (*Models, error) {
	if dbConnectionPool == nil {
		return nil, errors.New("dbConnectionPool is required for NewModels")
	}
	return &Models{
		Sellers:          &SellerModel{dbConnectionPool: dbConnectionPool},
		Payments:         &PaymentModel{dbConnectionPool: dbConnectionPool},
		Jobs:             &JobModel{dbConnectionPool: dbConnectionPool},
		Expenses:         &ExpenseModel{dbConnectionPool: dbConnectionPool},
		ExpenseBatches:   &ExpenseBatchModel{dbConnectionPool: dbConnectionPool},
		SyncState:        &SyncStateModel{dbConnectionPool: dbConnectionPool},
		WebhookEvents:    &WebhookEventModel{dbConnectionPool: dbConnectionPool},
		APIKeys:          &APIKeyModel{dbConnectionPool: dbConnectionPool},
		ERPTokens:        &ERPTokenModel{dbConnectionPool: dbConnectionPool},
		DBConnectionPool: dbConnectionPool,
	}, nil
}
