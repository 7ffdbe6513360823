package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

// memoryDemandeStore mimics the conditional updates of the SQL repository.
type memoryDemandeStore struct {
	mu             sync.Mutex
	items          map[string]*models.Demande
	transitions    []models.DemandeTransition
	seq            int
	vanishOnUpdate bool
	getErr         error
}

func newMemoryDemandeStore() *memoryDemandeStore {
	return &memoryDemandeStore{items: make(map[string]*models.Demande)}
}

func (m *memoryDemandeStore) Create(ctx context.Context, demande *models.Demande) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if demande.ID == "" {
		demande.ID = fmt.Sprintf("d-%d", m.seq)
	}
	copy := *demande
	m.items[demande.ID] = &copy
	return nil
}

func (m *memoryDemandeStore) GetByID(ctx context.Context, id string) (*models.Demande, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	d, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *d
	return &copy, nil
}

func (m *memoryDemandeStore) List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.Demande
	for _, d := range m.items {
		if filter.RequesterID != "" && d.RequesterID != filter.RequesterID {
			continue
		}
		if filter.Department != "" && d.Department != filter.Department {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, d.Status) {
			continue
		}
		result = append(result, *d)
	}
	return result, len(result), nil
}

func (m *memoryDemandeStore) ListFeed(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, error) {
	items, _, err := m.List(ctx, filter)
	return items, err
}

func (m *memoryDemandeStore) UpdateStatus(ctx context.Context, change models.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[change.DemandeID]
	if m.vanishOnUpdate {
		delete(m.items, change.DemandeID)
		return sql.ErrNoRows
	}
	if !ok || d.Status != change.From {
		return sql.ErrNoRows
	}
	d.Status = change.To
	if change.ValidatedBy != nil {
		d.ValidatedBy = change.ValidatedBy
	}
	d.RejectedBy = change.RejectedBy
	d.RejectionReason = change.RejectionReason
	d.UpdatedAt = change.At
	m.transitions = append(m.transitions, models.DemandeTransition{
		DemandeID:  change.DemandeID,
		Action:     change.Action,
		FromStatus: change.From,
		ToStatus:   change.To,
		ActorID:    change.ActorID,
		ActorRole:  change.ActorRole,
		Reason:     change.RejectionReason,
		CreatedAt:  change.At,
	})
	return nil
}

func (m *memoryDemandeStore) Update(ctx context.Context, id string, changes models.DemandeChanges, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok || d.Status != workflow.StatusPending {
		return sql.ErrNoRows
	}
	if changes.Description != nil {
		d.Description = *changes.Description
	}
	if changes.Justification != nil {
		d.Justification = *changes.Justification
	}
	if changes.Items != nil {
		d.Items = changes.Items
	}
	d.UpdatedAt = at
	return nil
}

func (m *memoryDemandeStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok || d.Status != workflow.StatusPending {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *memoryDemandeStore) SetAttachment(ctx context.Context, id string, ref models.AttachmentRef, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok || d.Status != workflow.StatusPending {
		return sql.ErrNoRows
	}
	d.AttachmentKey = &ref.Key
	d.AttachmentName = &ref.Name
	d.AttachmentContentType = &ref.ContentType
	d.UpdatedAt = at
	return nil
}

func (m *memoryDemandeStore) ListTransitions(ctx context.Context, demandeID string) ([]models.DemandeTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.DemandeTransition
	for _, tr := range m.transitions {
		if tr.DemandeID == demandeID {
			result = append(result, tr)
		}
	}
	return result, nil
}

func (m *memoryDemandeStore) put(d models.Demande) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[d.ID] = &d
}

func containsStatus(statuses []workflow.Status, status workflow.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type syncAuditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *syncAuditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *syncAuditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type eventsStub struct {
	mu     sync.Mutex
	events []models.StatusChangedEvent
}

func (e *eventsStub) PublishStatusChanged(ctx context.Context, event models.StatusChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type invalidatorStub struct {
	mu       sync.Mutex
	patterns []string
}

func (c *invalidatorStub) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return nil
}

type transitionMetricsStub struct {
	mu       sync.Mutex
	ok       []string
	failures []string
}

func (m *transitionMetricsStub) ObserveTransition(action, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok = append(m.ok, action+":"+from+"->"+to)
}

func (m *transitionMetricsStub) ObserveTransitionFailure(action, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, action+":"+code)
}

type demandeFixture struct {
	store   *memoryDemandeStore
	audit   *syncAuditStub
	events  *eventsStub
	cache   *invalidatorStub
	metrics *transitionMetricsStub
	svc     *DemandeService
}

func newDemandeFixture() *demandeFixture {
	f := &demandeFixture{
		store:   newMemoryDemandeStore(),
		audit:   &syncAuditStub{},
		events:  &eventsStub{},
		cache:   &invalidatorStub{},
		metrics: &transitionMetricsStub{},
	}
	f.svc = NewDemandeService(f.store, f.audit, validator.New(), zap.NewNop(),
		WithDemandeEvents(f.events),
		WithDemandeCache(f.cache),
		WithDemandeMetrics(f.metrics),
	)
	return f
}

var (
	profInfo  = &models.Session{UserID: "u-prof", Role: workflow.RoleProfesseur, Department: "Informatique", FullName: "Karim Haddad"}
	profPhys  = &models.Session{UserID: "u-prof-phys", Role: workflow.RoleProfesseur, Department: "Physique"}
	chefInfo  = &models.Session{UserID: "u-chef", Role: workflow.RoleChefDepartement, Department: "Informatique"}
	chefPhys  = &models.Session{UserID: "u-chef-phys", Role: workflow.RoleChefDepartement, Department: "Physique"}
	doyen     = &models.Session{UserID: "u-doyen", Role: workflow.RoleDoyen}
	secretary = &models.Session{UserID: "u-sg", Role: workflow.RoleSecretaireGeneral}
	admin     = &models.Session{UserID: "u-admin", Role: workflow.RoleAdmin}
	storekeep = &models.Session{UserID: "u-mag", Role: workflow.RoleMagasinier}
)

func validCreateRequest() dto.CreateDemandeRequest {
	return dto.CreateDemandeRequest{
		Description:   "  Matériel pour le TP réseaux ",
		Justification: "Renouvellement du parc",
		Items: []dto.LineItemRequest{
			{ProductName: "Câble RJ45", Quantity: 20},
			{ProductName: "Switch 24 ports", Quantity: 2},
		},
	}
}

func (f *demandeFixture) createPending(t *testing.T, author *models.Session) *models.Demande {
	t.Helper()
	d, err := f.svc.Create(context.Background(), author, validCreateRequest())
	require.NoError(t, err)
	return d
}

func TestDemandeServiceCreate(t *testing.T) {
	f := newDemandeFixture()
	d, err := f.svc.Create(context.Background(), profInfo, validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusPending, d.Status)
	assert.Equal(t, "Informatique", d.Department)
	assert.Equal(t, "u-prof", d.RequesterID)
	assert.Equal(t, "Karim Haddad", d.RequesterName)
	assert.Equal(t, "Matériel pour le TP réseaux", d.Description)
	require.Len(t, d.Items, 2)
	assert.Equal(t, 1, d.Items[0].Position)
	assert.Equal(t, 2, d.Items[1].Position)

	assert.Equal(t, []string{models.AuditActionDemandeCreate}, f.audit.actions())
	assert.Equal(t, []string{dashboardCachePattern}, f.cache.patterns)
}

func TestDemandeServiceCreateRules(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, nil, validCreateRequest())
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	for _, s := range []*models.Session{doyen, secretary, storekeep, admin} {
		_, err = f.svc.Create(ctx, s, validCreateRequest())
		require.ErrorIs(t, err, appErrors.ErrForbidden, s.Role)
	}

	noItems := validCreateRequest()
	noItems.Items = nil
	_, err = f.svc.Create(ctx, profInfo, noItems)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	zeroQty := validCreateRequest()
	zeroQty.Items[0].Quantity = 0
	_, err = f.svc.Create(ctx, profInfo, zeroQty)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	blank := validCreateRequest()
	blank.Justification = "   "
	_, err = f.svc.Create(ctx, profInfo, blank)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Create(ctx, &models.Session{UserID: "x", Role: workflow.RoleDirecteurLabo}, validCreateRequest())
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDemandeServiceFullChain(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	got, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSentToDean, got.Status)
	require.NotNil(t, got.ValidatedBy)
	assert.Equal(t, workflow.RoleChefDepartement, *got.ValidatedBy)

	got, err = f.svc.Approve(ctx, doyen, d.ID, dto.TransitionRequest{ExpectedStatus: workflow.StatusSentToDean})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSentToSecretaryGeneral, got.Status)

	got, err = f.svc.Approve(ctx, secretary, d.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusTreated, got.Status)
	assert.Equal(t, workflow.RoleSecretaireGeneral, *got.ValidatedBy)

	_, err = f.svc.Approve(ctx, secretary, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrTerminalState)
	_, err = f.svc.Reject(ctx, doyen, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrTerminalState)

	stored, err := f.store.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusTreated, stored.Status)

	history, err := f.svc.History(ctx, profInfo, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, workflow.StatusPending, history[0].FromStatus)
	assert.Equal(t, workflow.StatusTreated, history[2].ToStatus)

	require.Len(t, f.events.events, 3)
	last := f.events.events[2]
	assert.Equal(t, StatusChangedEventType, last.Type)
	assert.Equal(t, workflow.StatusSentToSecretaryGeneral, last.From)
	assert.Equal(t, workflow.StatusTreated, last.To)
	assert.Equal(t, "Traitée", last.Label)
	assert.Equal(t, "u-prof", last.RequesterID)

	assert.Equal(t, []string{
		"approve:pending->sent_to_dean",
		"approve:sent_to_dean->sent_to_secretary_general",
		"approve:sent_to_secretary_general->treated",
	}, f.metrics.ok)
	assert.Len(t, f.metrics.failures, 2)
}

func TestDemandeServiceApproveTwiceConflicts(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	_, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.True(t, appErrors.IsConflict(err))
	assert.Equal(t, workflow.StatusSentToDean, appErrors.FromError(err).Details["current_status"])
}

func TestDemandeServiceRejectIsTerminal(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	_, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.NoError(t, err)

	got, err := f.svc.Reject(ctx, doyen, d.ID, dto.TransitionRequest{Reason: " budget épuisé "})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, got.Status)
	require.NotNil(t, got.RejectedBy)
	assert.Equal(t, workflow.RoleDoyen, *got.RejectedBy)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "budget épuisé", *got.RejectionReason)

	_, err = f.svc.Approve(ctx, doyen, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrTerminalState)

	assert.Contains(t, f.audit.actions(), models.AuditActionDemandeReject)
}

func TestDemandeServiceRejectKeepsLastApprover(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()

	forwarded := f.createPending(t, profInfo)
	_, err := f.svc.Approve(ctx, chefInfo, forwarded.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	got, err := f.svc.Reject(ctx, doyen, forwarded.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	require.NotNil(t, got.ValidatedBy)
	assert.Equal(t, workflow.RoleChefDepartement, *got.ValidatedBy)

	stored, err := f.store.GetByID(ctx, forwarded.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ValidatedBy)
	assert.Equal(t, workflow.RoleChefDepartement, *stored.ValidatedBy)
	assert.Equal(t, workflow.RoleDoyen, *stored.RejectedBy)

	fresh := f.createPending(t, profInfo)
	got, err = f.svc.Reject(ctx, chefInfo, fresh.ID, dto.TransitionRequest{Reason: "doublon"})
	require.NoError(t, err)
	assert.Nil(t, got.ValidatedBy)
	stored, err = f.store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ValidatedBy)
	assert.Equal(t, workflow.RoleChefDepartement, *stored.RejectedBy)
}

func TestDemandeServiceTransitionAuthorization(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	_, err := f.svc.Approve(ctx, profInfo, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Approve(ctx, storekeep, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	// the dean cannot act before the department head
	_, err = f.svc.Approve(ctx, doyen, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Reject(ctx, chefPhys, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Approve(ctx, nil, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.Approve(ctx, chefInfo, "missing", dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	stored, err := f.store.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, stored.Status)
	assert.Empty(t, f.events.events)
}

func TestDemandeServiceExpectedStatus(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	_, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{ExpectedStatus: workflow.StatusSentToDean})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, workflow.StatusPending, appErrors.FromError(err).Details["current_status"])

	_, err = f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{ExpectedStatus: "bogus"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Reject(ctx, chefInfo, d.ID, dto.TransitionRequest{ExpectedStatus: workflow.StatusPending})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{ExpectedStatus: workflow.StatusPending})
	require.ErrorIs(t, err, appErrors.ErrTerminalState)
}

func TestDemandeServiceConcurrentApprovalsHaveOneWinner(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	history, err := f.store.ListTransitions(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, f.events.events, 1)
}

func TestDemandeServiceLostRaceToDeletion(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)
	f.store.vanishOnUpdate = true

	_, err := f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDemandeServiceListScopes(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	own := f.createPending(t, profInfo)
	f.createPending(t, profPhys)
	chefOwn := f.createPending(t, chefInfo)

	items, pagination, err := f.svc.List(ctx, profInfo, dto.DemandeQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, own.ID, items[0].ID)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)

	items, _, err = f.svc.List(ctx, chefInfo, dto.DemandeQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, _, err = f.svc.List(ctx, chefInfo, dto.DemandeQuery{Scope: dto.DemandeScopeMine})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, chefOwn.ID, items[0].ID)

	items, _, err = f.svc.List(ctx, doyen, dto.DemandeQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = f.svc.Approve(ctx, chefInfo, own.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	items, _, err = f.svc.List(ctx, secretary, dto.DemandeQuery{Scope: dto.DemandeScopeAll, Status: []workflow.Status{workflow.StatusSentToDean}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, own.ID, items[0].ID)

	_, _, err = f.svc.List(ctx, profInfo, dto.DemandeQuery{Scope: dto.DemandeScopeAll})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, _, err = f.svc.List(ctx, doyen, dto.DemandeQuery{Scope: dto.DemandeScopeDepartment})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, _, err = f.svc.List(ctx, doyen, dto.DemandeQuery{Status: []workflow.Status{"open"}})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, _, err = f.svc.List(ctx, doyen, dto.DemandeQuery{Scope: "everything"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDemandeServiceGetVisibility(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	for _, s := range []*models.Session{profInfo, chefInfo, doyen, secretary, admin} {
		_, err := f.svc.Get(ctx, s, d.ID)
		require.NoError(t, err, s.Role)
	}
	for _, s := range []*models.Session{profPhys, chefPhys, storekeep} {
		_, err := f.svc.Get(ctx, s, d.ID)
		require.ErrorIs(t, err, appErrors.ErrForbidden, s.UserID)
	}
	_, err := f.svc.Get(ctx, profInfo, "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDemandeServiceUpdate(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()
	d := f.createPending(t, profInfo)

	desc := "Câblage salle 12"
	got, err := f.svc.Update(ctx, profInfo, d.ID, dto.UpdateDemandeRequest{
		Description: &desc,
		Items:       []dto.LineItemRequest{{ProductName: "Câble RJ45", Quantity: 40}},
	})
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description)
	assert.Equal(t, "Renouvellement du parc", got.Justification)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 40, got.Items[0].Quantity)

	_, err = f.svc.Update(ctx, chefInfo, d.ID, dto.UpdateDemandeRequest{Description: &desc})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Update(ctx, profInfo, d.ID, dto.UpdateDemandeRequest{Items: []dto.LineItemRequest{}})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Approve(ctx, chefInfo, d.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, profInfo, d.ID, dto.UpdateDemandeRequest{Description: &desc})
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestDemandeServiceDelete(t *testing.T) {
	f := newDemandeFixture()
	ctx := context.Background()

	d := f.createPending(t, profInfo)
	require.ErrorIs(t, f.svc.Delete(ctx, chefInfo, d.ID), appErrors.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, profInfo, d.ID))
	_, err := f.store.GetByID(ctx, d.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)

	byAdmin := f.createPending(t, profInfo)
	require.NoError(t, f.svc.Delete(ctx, admin, byAdmin.ID))

	moved := f.createPending(t, profInfo)
	_, err = f.svc.Approve(ctx, chefInfo, moved.ID, dto.TransitionRequest{})
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, profInfo, moved.ID), appErrors.ErrConflict)

	require.ErrorIs(t, f.svc.Delete(ctx, profInfo, "missing"), appErrors.ErrNotFound)
	assert.Contains(t, f.audit.actions(), models.AuditActionDemandeDelete)
}

func TestDemandeServiceStoreFailure(t *testing.T) {
	f := newDemandeFixture()
	f.store.getErr = fmt.Errorf("connection reset")
	_, err := f.svc.Get(context.Background(), profInfo, "d-1")
	require.ErrorIs(t, err, appErrors.ErrInternal)
}
