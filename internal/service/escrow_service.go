package service

import (
	"context"
	"fmt"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EscrowConfig holds the sale parameters.
type EscrowConfig struct {
	CommissionRate decimal.Decimal
	HoldPeriod     time.Duration
}

// EscrowServiceImpl implements ports.EscrowService.
type EscrowServiceImpl struct {
	walletRepo   ports.WalletRepository
	txRepo       ports.TransactionRepository
	frozenRepo   ports.FrozenFundsRepository
	purchaseRepo ports.PurchaseRepository
	transactor   ports.DBTransactor
	catalog      ports.ItemCatalog
	receipts     ports.ReceiptNotifier
	cfg          EscrowConfig
	now          func() time.Time
	log          zerolog.Logger
}

var _ ports.EscrowService = (*EscrowServiceImpl)(nil)

// NewEscrowService creates a new EscrowServiceImpl.
func NewEscrowService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	frozenRepo ports.FrozenFundsRepository,
	purchaseRepo ports.PurchaseRepository,
	transactor ports.DBTransactor,
	catalog ports.ItemCatalog,
	receipts ports.ReceiptNotifier,
	cfg EscrowConfig,
	log zerolog.Logger,
) *EscrowServiceImpl {
	if cfg.HoldPeriod <= 0 {
		cfg.HoldPeriod = domain.DefaultEscrowHold
	}
	return &EscrowServiceImpl{
		walletRepo:   walletRepo,
		txRepo:       txRepo,
		frozenRepo:   frozenRepo,
		purchaseRepo: purchaseRepo,
		transactor:   transactor,
		catalog:      catalog,
		receipts:     receipts,
		cfg:          cfg,
		now:          time.Now,
		log:          log,
	}
}

// Purchase debits the buyer, freezes the seller's net proceeds until the hold
// period ends and records the sale, all in one atomic scope. The seller and
// the price come from the item catalogue, never from the buyer.
func (s *EscrowServiceImpl) Purchase(ctx context.Context, req ports.PurchaseRequest) (*domain.PurchaseRecord, error) {
	item, err := s.lookupItem(ctx, req.ItemID)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("purchase", "error").Inc()
		return nil, err
	}
	record, buyerTxn, err := s.purchase(ctx, req, item)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("purchase", "error").Inc()
		return nil, err
	}
	metrics.LedgerOperations.WithLabelValues("purchase", "ok").Inc()

	s.log.Info().
		Str("purchase_id", record.ID.String()).
		Str("buyer_id", req.BuyerID.String()).
		Str("seller_id", item.SellerID.String()).
		Str("amount", record.PaymentAmount.String()).
		Str("commission", record.Commission.String()).
		Msg("purchase completed, escrow opened")

	if s.receipts != nil {
		s.receipts.NotifySale(ctx, buyerTxn, ports.FiscalReceipt{
			Kind:        ports.ReceiptKindSell,
			ExternalID:  buyerTxn.ExternalID,
			Email:       req.BuyerEmail,
			ItemName:    item.Name,
			Amount:      record.PaymentAmount,
			SupplierINN: item.SellerINN,
		})
	}
	return record, nil
}

func (s *EscrowServiceImpl) lookupItem(ctx context.Context, itemID uuid.UUID) (*domain.CatalogItem, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, apperror.ErrCatalogUnavailable(fmt.Errorf("get item %s: %w", itemID, err))
	}
	if item == nil {
		return nil, apperror.ErrNotFound("item")
	}
	return item, nil
}

func (s *EscrowServiceImpl) purchase(ctx context.Context, req ports.PurchaseRequest, item *domain.CatalogItem) (*domain.PurchaseRecord, *domain.Transaction, error) {
	price := item.Price
	if !validAmount(price) {
		return nil, nil, apperror.ErrInvalidAmount()
	}
	if req.BuyerID == item.SellerID {
		return nil, nil, apperror.ErrSelfPurchase()
	}

	// Unlocked reads only resolve wallet ids for the ordered lock below.
	buyerRef, err := s.walletRepo.GetByUserID(ctx, req.BuyerID)
	if err != nil {
		return nil, nil, dbError("get buyer wallet", err)
	}
	sellerRef, err := s.walletRepo.GetByUserID(ctx, item.SellerID)
	if err != nil {
		return nil, nil, dbError("get seller wallet", err)
	}
	if buyerRef == nil || sellerRef == nil {
		return nil, nil, apperror.ErrNotFound("wallet")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	buyer, seller, err := lockWalletPair(ctx, s.walletRepo, dbTx, buyerRef.ID, sellerRef.ID)
	if err != nil {
		return nil, nil, err
	}

	owned, err := s.purchaseRepo.ExistsPaid(ctx, dbTx, req.BuyerID, req.ItemID)
	if err != nil {
		return nil, nil, dbError("check existing purchase", err)
	}
	if owned {
		return nil, nil, apperror.ErrAlreadyPurchased()
	}

	if !buyer.CanDebit(price) {
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	commission, net := domain.SplitCommission(price, s.cfg.CommissionRate)
	if !net.IsPositive() {
		// The price is too small to leave the seller anything after commission.
		return nil, nil, apperror.ErrInvalidAmount()
	}
	now := s.now().UTC()

	buyerTxn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixPurchase),
		WalletID:      buyer.ID,
		Amount:        price,
		Type:          domain.TransactionTypePurchase,
		Status:        domain.TransactionStatusPaid,
		ReceiptStatus: domain.ReceiptStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, buyerTxn); err != nil {
		return nil, nil, dbError("create buyer transaction", err)
	}
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, buyer.ID, buyer.Balance.Sub(price), buyer.Frozen); err != nil {
		return nil, nil, dbError("debit buyer", err)
	}

	sellerTxn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixReward),
		WalletID:      seller.ID,
		Amount:        net,
		Type:          domain.TransactionTypeReward,
		Status:        domain.TransactionStatusFrozen,
		ReceiptStatus: domain.ReceiptStatusNotRequired,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, sellerTxn); err != nil {
		return nil, nil, dbError("create seller transaction", err)
	}

	hold := &domain.FrozenFunds{
		ID:            uuid.New(),
		WalletID:      seller.ID,
		TransactionID: sellerTxn.ID,
		Amount:        net,
		Reason:        fmt.Sprintf("sale of item %s", req.ItemID),
		Status:        domain.FrozenStatusFrozen,
		CreatedAt:     now,
		ReleaseAt:     now.Add(s.cfg.HoldPeriod),
	}
	if err := s.frozenRepo.Create(ctx, dbTx, hold); err != nil {
		return nil, nil, dbError("create frozen funds", err)
	}
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, seller.ID, seller.Balance, seller.Frozen.Add(net)); err != nil {
		return nil, nil, dbError("freeze seller proceeds", err)
	}

	record := &domain.PurchaseRecord{
		ID:                  uuid.New(),
		ItemID:              req.ItemID,
		BuyerID:             req.BuyerID,
		SellerID:            item.SellerID,
		BuyerTransactionID:  buyerTxn.ID,
		SellerTransactionID: sellerTxn.ID,
		PaymentAmount:       price,
		Commission:          commission,
		NetAmount:           net,
		Status:              domain.PurchaseStatusPaid,
		CreatedAt:           now,
	}
	if err := s.purchaseRepo.Create(ctx, dbTx, record); err != nil {
		return nil, nil, dbError("create purchase", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, dbError("commit purchase", err)
	}
	return record, buyerTxn, nil
}
