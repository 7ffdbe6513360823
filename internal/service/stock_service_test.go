package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/repository"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

// stockStoreStub serialises movements the way the row lock does.
type stockStoreStub struct {
	mu        sync.Mutex
	quantity  map[string]int
	movements []models.StockMovement
	filter    models.StockMovementFilter
}

func (s *stockStoreStub) Apply(ctx context.Context, movement *models.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quantity[movement.ProductID]
	if !ok {
		return sql.ErrNoRows
	}
	after := current + movement.Quantity
	if movement.Type == models.StockMovementExit {
		after = current - movement.Quantity
	}
	if after < 0 {
		return repository.ErrInsufficientStock
	}
	movement.QuantityBefore = current
	movement.QuantityAfter = after
	s.quantity[movement.ProductID] = after
	s.movements = append(s.movements, *movement)
	return nil
}

func (s *stockStoreStub) List(ctx context.Context, filter models.StockMovementFilter) ([]models.StockMovement, int, error) {
	s.filter = filter
	return s.movements, len(s.movements), nil
}

func TestStockServiceRecord(t *testing.T) {
	store := &stockStoreStub{quantity: map[string]int{"p-1": 5}}
	audit := &syncAuditStub{}
	svc := NewStockService(store, audit, nil, nil, zap.NewNop())
	ctx := context.Background()

	movement, err := svc.Record(ctx, storekeep, "p-1", dto.StockMovementRequest{Type: "ENTRY", Quantity: 10, Reason: "livraison"})
	require.NoError(t, err)
	assert.Equal(t, 5, movement.QuantityBefore)
	assert.Equal(t, 15, movement.QuantityAfter)
	require.NotNil(t, movement.CreatedBy)
	assert.Equal(t, "u-mag", *movement.CreatedBy)

	_, err = svc.Record(ctx, storekeep, "p-1", dto.StockMovementRequest{Type: "exit", Quantity: 16})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, 15, store.quantity["p-1"])

	_, err = svc.Record(ctx, storekeep, "p-1", dto.StockMovementRequest{Type: "exit", Quantity: 15})
	require.NoError(t, err)
	assert.Equal(t, 0, store.quantity["p-1"])

	_, err = svc.Record(ctx, storekeep, "p-404", dto.StockMovementRequest{Type: "entry", Quantity: 1})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Record(ctx, storekeep, "p-1", dto.StockMovementRequest{Type: "transfer", Quantity: 1})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Record(ctx, storekeep, "p-1", dto.StockMovementRequest{Type: "entry", Quantity: 0})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Record(ctx, chefInfo, "p-1", dto.StockMovementRequest{Type: "entry", Quantity: 1})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	assert.Equal(t, []string{models.AuditActionStockMovement, models.AuditActionStockMovement}, audit.actions())
}

func TestStockServiceConcurrentExitsNeverGoNegative(t *testing.T) {
	store := &stockStoreStub{quantity: map[string]int{"p-1": 10}}
	svc := NewStockService(store, nil, nil, nil, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Record(context.Background(), storekeep, "p-1", dto.StockMovementRequest{Type: "exit", Quantity: 1}); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, applied)
	assert.Equal(t, 0, store.quantity["p-1"])
}

func TestStockServiceList(t *testing.T) {
	store := &stockStoreStub{quantity: map[string]int{}}
	svc := NewStockService(store, nil, nil, nil, nil)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	_, pagination, err := svc.List(context.Background(), StockMovementQuery{ProductID: "p-1", Type: "EXIT", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, models.StockMovementExit, store.filter.Type)

	_, _, err = svc.List(context.Background(), StockMovementQuery{Type: "loss"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = svc.List(context.Background(), StockMovementQuery{From: &to, To: &from})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}
