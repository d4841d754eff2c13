package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/request"
)

// Store reads and writes requests and detection results.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveRequest upserts the materialized request state.
func (s *Store) SaveRequest(ctx context.Context, req *request.Request) error {
	expected, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil {
		return fmt.Errorf("request %s carries a malformed expectedAmount: %w", req.RequestID, err)
	}

	record := StoredRequest{
		RequestID:      req.RequestID,
		State:          req.State,
		Creator:        req.Creator.Value,
		Currency:       string(req.Currency.Type) + ":" + req.Currency.Value,
		Network:        req.Currency.Network,
		ExpectedAmount: expected,
		Snapshot:       RequestSnapshot{Request: *req},
		UpdatedAt:      time.Now(),
	}
	if req.Payee != nil {
		record.Payee = req.Payee.Value
	}
	if req.Payer != nil {
		record.Payer = req.Payer.Value
	}

	return s.db.WithContext(ctx).Save(&record).Error
}

// GetRequest loads a request snapshot by id. Returns nil when absent.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*request.Request, error) {
	var record StoredRequest
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	req := record.Snapshot.Request
	return &req, nil
}

// ListRequestsByState returns the materialized requests in the given state.
func (s *Store) ListRequestsByState(ctx context.Context, state request.State) ([]*request.Request, error) {
	var records []StoredRequest
	if err := s.db.WithContext(ctx).Where("state = ?", state).Order("created_at").Find(&records).Error; err != nil {
		return nil, err
	}
	requests := make([]*request.Request, len(records))
	for i := range records {
		req := records[i].Snapshot.Request
		requests[i] = &req
	}
	return requests, nil
}

// SaveDetectionRun records the outcome of one balance computation and
// returns the run id.
func (s *Store) SaveDetectionRun(ctx context.Context, requestID, extensionID string, balance payment.Balance) (string, error) {
	record := DetectionRun{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		ExtensionID: extensionID,
		Balance:     balance.Balance,
		FeeBalance:  balance.FeeBalance,
		EventCount:  len(balance.Events),
		CreatedAt:   time.Now(),
	}
	if balance.Error != nil {
		record.ErrorCode = string(balance.Error.Code)
		record.ErrorMessage = balance.Error.Message
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to record detection run: %w", err)
	}
	return record.ID, nil
}

// SyncDeclaredEvents replaces the declared-event journal of a request with
// the events currently attested in its extension state. Idempotent: calling
// it with the same events leaves the journal unchanged in content.
func (s *Store) SyncDeclaredEvents(ctx context.Context, requestID string, events []payment.NetworkEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", requestID).Delete(&DeclaredEvent{}).Error; err != nil {
			return err
		}
		for _, ev := range events {
			record := DeclaredEvent{
				ID:        uuid.NewString(),
				RequestID: requestID,
				Name:      string(ev.Name),
				Amount:    ev.Amount,
				Note:      ev.Parameters.Note,
				TxHash:    ev.Parameters.TxHash,
				Timestamp: ev.Timestamp,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDeclaredEvents returns the declared-event journal of a request in
// declaration order.
func (s *Store) ListDeclaredEvents(ctx context.Context, requestID string) ([]DeclaredEvent, error) {
	var records []DeclaredEvent
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LatestDetectionRun returns the most recent detection run of a request,
// or nil when none exists.
func (s *Store) LatestDetectionRun(ctx context.Context, requestID string) (*DetectionRun, error) {
	var record DetectionRun
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
