package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const transactionTracer = "transaction-repository"

const transactionColumns = `id, merchant_tx_id, upi_id, inr_amount, token_amount, crypto_type, chain, status, tx_hash, onmeta_tx_id, wallet_address, created_at, updated_at`

const uniqueViolation = "23505"

type PostgresTransactionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.TransactionRepository = (*PostgresTransactionRepository)(nil)

func (r *PostgresTransactionRepository) Create(ctx context.Context, draft models.TransactionDraft) (_ *models.Transaction, err error) {
	ctx, span, finish := track(ctx, transactionTracer, "CreateTransaction")
	defer func() { finish(err) }()

	tx, err := draft.Build()
	if err != nil {
		slog.Error("invalid transaction draft", "method", "Create", "merchant_tx_id", draft.MerchantTxID, "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("merchant_tx_id", tx.MerchantTxID),
		attribute.String("crypto_type", string(tx.CryptoType)),
		attribute.String("chain", tx.Chain),
	)

	query := `INSERT INTO transactions (merchant_tx_id, upi_id, inr_amount, token_amount, crypto_type, chain, status, wallet_address) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.MerchantTxID,
		tx.UPIID,
		tx.INRAmount.StringFixed(models.INRPrecision),
		tx.TokenAmount.StringFixed(models.TokenPrecision),
		tx.CryptoType,
		tx.Chain,
		tx.Status,
		tx.WalletAddress,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			slog.Error("duplicate merchant tx id", "method", "Create", "merchant_tx_id", tx.MerchantTxID)
			err = fmt.Errorf("%w: %s", pkgerrors.ErrDuplicateMerchantTxID, tx.MerchantTxID)
			return nil, err
		}
		slog.Error("failed to create transaction", "method", "Create", "merchant_tx_id", tx.MerchantTxID, "error", err)
		err = fmt.Errorf("failed to create transaction: %w", err)
		return nil, err
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "merchant_tx_id", tx.MerchantTxID)
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (_ *models.Transaction, err error) {
	ctx, span, finish := track(ctx, transactionTracer, "GetTransactionByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("transaction_id", id))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		err = fmt.Errorf("failed to get transaction by id: %w", err)
		return nil, err
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByMerchantTxID(ctx context.Context, merchantTxID string) (_ *models.Transaction, err error) {
	ctx, span, finish := track(ctx, transactionTracer, "GetTransactionByMerchantTxID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("merchant_tx_id", merchantTxID))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE merchant_tx_id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, merchantTxID))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by merchant tx id", "method", "GetByMerchantTxID", "merchant_tx_id", merchantTxID, "error", err)
		err = fmt.Errorf("failed to get transaction by merchant tx id: %w", err)
		return nil, err
	}
	return tx, nil
}

// UpdateStatus locks the row, checks the transition and writes it back in
// one database transaction.
func (r *PostgresTransactionRepository) UpdateStatus(ctx context.Context, id int64, update models.StatusUpdate) (_ *models.Transaction, err error) {
	ctx, span, finish := track(ctx, transactionTracer, "UpdateTransactionStatus")
	defer func() { finish(err) }()
	span.SetAttributes(
		attribute.Int64("transaction_id", id),
		attribute.String("status", string(update.Status)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "UpdateStatus", "error", err)
		err = fmt.Errorf("failed to begin transaction: %w", err)
		return nil, err
	}
	rollback := func(cause error) error {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "UpdateStatus", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, cause)
		}
		return cause
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(pkgerrors.ErrTransactionNotFound)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to lock transaction", "method", "UpdateStatus", "transaction_id", id, "error", err)
		err = rollback(fmt.Errorf("failed to lock transaction: %w", err))
		return nil, err
	}

	if err = tx.Apply(update, r.now()); err != nil {
		slog.Warn("status transition rejected", "method", "UpdateStatus", "transaction_id", id, "from", tx.Status, "to", update.Status)
		err = rollback(err)
		return nil, err
	}

	_, err = dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, tx_hash = $2, onmeta_tx_id = $3, updated_at = $4 WHERE id = $5`,
		tx.Status, tx.TxHash, tx.OnmetaTxID, tx.UpdatedAt, id)
	if err != nil {
		slog.Error("failed to update transaction status", "method", "UpdateStatus", "transaction_id", id, "error", err)
		err = rollback(fmt.Errorf("failed to update transaction status: %w", err))
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "UpdateStatus", "error", err)
		err = fmt.Errorf("failed to commit transaction: %w", err)
		return nil, err
	}

	slog.Info("transaction status updated", "method", "UpdateStatus", "transaction_id", id, "status", tx.Status)
	return tx, nil
}

func (r *PostgresTransactionRepository) ListRecent(ctx context.Context, limit int) (_ []models.Transaction, err error) {
	ctx, span, finish := track(ctx, transactionTracer, "ListRecentTransactions")
	defer func() { finish(err) }()

	limit = repository.NormalizeLimit(limit)
	span.SetAttributes(attribute.Int("limit", limit))

	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListRecent", "error", err)
		err = fmt.Errorf("failed to list transactions: %w", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Transaction, 0, limit)
	for rows.Next() {
		var tx *models.Transaction
		if tx, err = scanTransaction(rows); err != nil {
			err = fmt.Errorf("failed to scan transaction: %w", err)
			return nil, err
		}
		out = append(out, *tx)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list transactions: %w", err)
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	if err := row.Scan(
		&tx.ID,
		&tx.MerchantTxID,
		&tx.UPIID,
		&tx.INRAmount,
		&tx.TokenAmount,
		&tx.CryptoType,
		&tx.Chain,
		&tx.Status,
		&tx.TxHash,
		&tx.OnmetaTxID,
		&tx.WalletAddress,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &tx, nil
}
