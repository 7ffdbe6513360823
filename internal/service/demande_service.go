package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

const demandeResource = "demande"

type demandeStore interface {
	Create(ctx context.Context, demande *models.Demande) error
	GetByID(ctx context.Context, id string) (*models.Demande, error)
	List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error)
	UpdateStatus(ctx context.Context, change models.StatusChange) error
	Update(ctx context.Context, id string, changes models.DemandeChanges, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListTransitions(ctx context.Context, demandeID string) ([]models.DemandeTransition, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type statusChangePublisher interface {
	PublishStatusChanged(ctx context.Context, event models.StatusChangedEvent) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type transitionMetrics interface {
	ObserveTransition(action, from, to string)
	ObserveTransitionFailure(action, code string)
}

// DemandeServiceOption customises optional collaborators.
type DemandeServiceOption func(*DemandeService)

// WithDemandeEvents publishes a status-changed event after each transition.
func WithDemandeEvents(publisher statusChangePublisher) DemandeServiceOption {
	return func(s *DemandeService) { s.events = publisher }
}

// WithDemandeCache invalidates cached dashboards on every write.
func WithDemandeCache(cache cacheInvalidator) DemandeServiceOption {
	return func(s *DemandeService) { s.cache = cache }
}

// WithDemandeMetrics records transition outcomes.
func WithDemandeMetrics(metrics transitionMetrics) DemandeServiceOption {
	return func(s *DemandeService) { s.metrics = metrics }
}

// DemandeService runs the purchase-request lifecycle: creation, scoped
// listing, the approval chain and pending-only edits.
type DemandeService struct {
	repo      demandeStore
	audit     auditLogger
	events    statusChangePublisher
	cache     cacheInvalidator
	metrics   transitionMetrics
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDemandeService constructs the service.
func NewDemandeService(repo demandeStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...DemandeServiceOption) *DemandeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &DemandeService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create submits a new request in pending. The department and author come
// from the session, never from the payload.
func (s *DemandeService) Create(ctx context.Context, session *models.Session, req dto.CreateDemandeRequest) (*models.Demande, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !session.Role.CanRequest() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot submit purchase requests")
	}
	req.Description = strings.TrimSpace(req.Description)
	req.Justification = strings.TrimSpace(req.Justification)
	for i := range req.Items {
		req.Items[i].ProductName = strings.TrimSpace(req.Items[i].ProductName)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase request")
	}
	if strings.TrimSpace(session.Department) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session has no department")
	}

	now := s.now()
	demande := &models.Demande{
		Description:   req.Description,
		Justification: req.Justification,
		RequesterID:   session.UserID,
		RequesterName: session.FullName,
		Department:    session.Department,
		Status:        workflow.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         lineItems(req.Items),
	}
	if err := s.repo.Create(ctx, demande); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create purchase request")
	}

	s.emitAudit(ctx, session, models.AuditActionDemandeCreate, demande.ID, nil, demande)
	s.invalidateDashboards(ctx)
	return demande, nil
}

// List returns the requests visible to the session under the chosen scope.
// An empty scope picks the widest one the role is entitled to.
func (s *DemandeService) List(ctx context.Context, session *models.Session, query dto.DemandeQuery) ([]models.Demande, *models.Pagination, error) {
	if session == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter, err := scopeFilter(session, query.Scope)
	if err != nil {
		return nil, nil, err
	}
	for _, status := range query.Status {
		if !status.IsValid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter: "+string(status))
		}
	}
	filter.Statuses = query.Status
	filter.Search = strings.TrimSpace(query.Search)

	page, size := normalizePage(query.Page, query.PageSize)
	filter.Page = page
	filter.PageSize = size

	demandes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list purchase requests")
	}
	return demandes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single request the session is allowed to see.
func (s *DemandeService) Get(ctx context.Context, session *models.Session, id string) (*models.Demande, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	demande, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(session, demande) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "purchase request is not visible to you")
	}
	return demande, nil
}

// History returns the transition log of a visible request.
func (s *DemandeService) History(ctx context.Context, session *models.Session, id string) ([]models.DemandeTransition, error) {
	if _, err := s.Get(ctx, session, id); err != nil {
		return nil, err
	}
	items, err := s.repo.ListTransitions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transition history")
	}
	return items, nil
}

// Approve forwards the request to the next step of the chain.
func (s *DemandeService) Approve(ctx context.Context, session *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error) {
	return s.transition(ctx, session, id, workflow.ActionApprove, req)
}

// Reject ends the request in rejected, recording who rejected it and why.
func (s *DemandeService) Reject(ctx context.Context, session *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error) {
	return s.transition(ctx, session, id, workflow.ActionReject, req)
}

func (s *DemandeService) transition(ctx context.Context, session *models.Session, id string, action workflow.Action, req dto.TransitionRequest) (*models.Demande, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	if req.ExpectedStatus != "" && !req.ExpectedStatus.IsValid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid expected_status")
	}
	if !session.Role.IsApprover() {
		return nil, s.transitionFailure(action, appErrors.Clone(appErrors.ErrForbidden, "role does not take part in the approval chain"))
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, s.transitionFailure(action, err)
	}
	if session.Role.DepartmentScoped() && current.Department != session.Department {
		return nil, s.transitionFailure(action, appErrors.Clone(appErrors.ErrForbidden, "purchase request belongs to another department"))
	}

	from := current.Status
	if req.ExpectedStatus != "" && req.ExpectedStatus != from {
		if from.IsTerminal() {
			return nil, s.transitionFailure(action, appErrors.Clone(appErrors.ErrTerminalState, "purchase request is already "+string(from)).WithDetail("current_status", from))
		}
		return nil, s.transitionFailure(action, appErrors.Clone(appErrors.ErrConflict, "purchase request changed to "+string(from)).WithDetail("current_status", from))
	}

	to, err := workflow.Transition(session.Role, from, action)
	if err != nil {
		return nil, s.transitionFailure(action, withCurrentStatus(mapWorkflowError(err), from))
	}

	role := session.Role
	change := models.StatusChange{
		DemandeID: id,
		From:      from,
		To:        to,
		Action:    action,
		ActorID:   session.UserID,
		ActorRole: role,
		At:        s.now(),
	}
	switch action {
	case workflow.ActionApprove:
		change.ValidatedBy = &role
	case workflow.ActionReject:
		change.RejectedBy = &role
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			change.RejectionReason = &reason
		}
	}

	if err := s.repo.UpdateStatus(ctx, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionFailure(action, s.lostRace(ctx, id))
		}
		return nil, s.transitionFailure(action, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update purchase request"))
	}

	updated := *current
	updated.Status = to
	if change.ValidatedBy != nil {
		updated.ValidatedBy = change.ValidatedBy
	}
	updated.RejectedBy = change.RejectedBy
	updated.RejectionReason = change.RejectionReason
	updated.UpdatedAt = change.At

	auditAction := models.AuditActionDemandeApprove
	if action == workflow.ActionReject {
		auditAction = models.AuditActionDemandeReject
	}
	s.emitAudit(ctx, session, auditAction, id, map[string]string{"status": string(from)}, map[string]string{"status": string(to)})
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(action), string(from), string(to))
	}
	s.invalidateDashboards(ctx)
	s.publish(ctx, &updated, from, role)

	return &updated, nil
}

// lostRace classifies a conditional update that matched nothing.
func (s *DemandeService) lostRace(ctx context.Context, id string) error {
	latest, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload purchase request")
	}
	if latest.Status.IsTerminal() {
		return appErrors.Clone(appErrors.ErrTerminalState, "purchase request is already "+string(latest.Status)).WithDetail("current_status", latest.Status)
	}
	return appErrors.Clone(appErrors.ErrConflict, "purchase request was processed concurrently").WithDetail("current_status", latest.Status)
}

// Update edits a pending request. Only its author may do so.
func (s *DemandeService) Update(ctx context.Context, session *models.Session, id string, req dto.UpdateDemandeRequest) (*models.Demande, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase request")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.RequesterID != session.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can edit a purchase request")
	}
	if current.Status != workflow.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only pending purchase requests can be edited")
	}

	changes := models.DemandeChanges{}
	if req.Description != nil {
		value := strings.TrimSpace(*req.Description)
		if value == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "description is required")
		}
		changes.Description = &value
	}
	if req.Justification != nil {
		value := strings.TrimSpace(*req.Justification)
		if value == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "justification is required")
		}
		changes.Justification = &value
	}
	if req.Items != nil {
		if len(req.Items) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "at least one item is required")
		}
		changes.Items = lineItems(req.Items)
	}

	if err := s.repo.Update(ctx, id, changes, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.pendingLost(ctx, id, "edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update purchase request")
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, session, models.AuditActionDemandeUpdate, id, current, updated)
	s.invalidateDashboards(ctx)
	return updated, nil
}

// Delete removes a pending request. The author or an admin may do so.
func (s *DemandeService) Delete(ctx context.Context, session *models.Session, id string) error {
	if session == nil {
		return appErrors.ErrUnauthorized
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if current.RequesterID != session.UserID && session.Role != workflow.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the author can delete a purchase request")
	}
	if current.Status != workflow.StatusPending {
		return appErrors.Clone(appErrors.ErrConflict, "only pending purchase requests can be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.pendingLost(ctx, id, "deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete purchase request")
	}
	s.emitAudit(ctx, session, models.AuditActionDemandeDelete, id, current, nil)
	s.invalidateDashboards(ctx)
	return nil
}

func (s *DemandeService) pendingLost(ctx context.Context, id, verb string) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload purchase request")
	}
	return appErrors.Clone(appErrors.ErrConflict, "only pending purchase requests can be "+verb)
}

func (s *DemandeService) load(ctx context.Context, id string) (*models.Demande, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "id is required")
	}
	demande, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load purchase request")
	}
	return demande, nil
}

func (s *DemandeService) transitionFailure(action workflow.Action, err error) error {
	if s.metrics != nil {
		s.metrics.ObserveTransitionFailure(string(action), appErrors.FromError(err).Code)
	}
	return err
}

func (s *DemandeService) publish(ctx context.Context, demande *models.Demande, from workflow.Status, actor workflow.Role) {
	if s.events == nil {
		return
	}
	event := models.StatusChangedEvent{
		Type:        StatusChangedEventType,
		DemandeID:   demande.ID,
		RequesterID: demande.RequesterID,
		Department:  demande.Department,
		From:        from,
		To:          demande.Status,
		Label:       demande.Status.Label(),
		ActorRole:   actor,
		OccurredAt:  demande.UpdatedAt,
	}
	if err := s.events.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish status change", zap.String("demande_id", demande.ID), zap.Error(err))
	}
}

func (s *DemandeService) invalidateDashboards(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, dashboardCachePattern); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}

func (s *DemandeService) emitAudit(ctx context.Context, session *models.Session, action, id string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	log := models.NewAuditLog(session.UserID, action, demandeResource, id).
		Change(oldValue, newValue).
		Origin("system", "demande-service")
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

// scopeFilter turns a listing scope into repository filters, enforcing who
// may use which scope.
func scopeFilter(session *models.Session, scope dto.DemandeScope) (models.DemandeFilter, error) {
	if scope == "" {
		scope = defaultScope(session.Role)
	}
	switch scope {
	case dto.DemandeScopeMine:
		return models.DemandeFilter{RequesterID: session.UserID}, nil
	case dto.DemandeScopeDepartment:
		if session.Role != workflow.RoleChefDepartement {
			return models.DemandeFilter{}, appErrors.Clone(appErrors.ErrForbidden, "only department heads can list their department")
		}
		return models.DemandeFilter{Department: session.Department}, nil
	case dto.DemandeScopeAll:
		if !seesAll(session.Role) {
			return models.DemandeFilter{}, appErrors.Clone(appErrors.ErrForbidden, "role cannot list every purchase request")
		}
		return models.DemandeFilter{}, nil
	default:
		return models.DemandeFilter{}, appErrors.Clone(appErrors.ErrValidation, "invalid scope")
	}
}

func defaultScope(role workflow.Role) dto.DemandeScope {
	switch {
	case role == workflow.RoleChefDepartement:
		return dto.DemandeScopeDepartment
	case seesAll(role):
		return dto.DemandeScopeAll
	default:
		return dto.DemandeScopeMine
	}
}

func seesAll(role workflow.Role) bool {
	return role == workflow.RoleDoyen || role == workflow.RoleSecretaireGeneral || role == workflow.RoleAdmin
}

func canView(session *models.Session, demande *models.Demande) bool {
	switch {
	case demande.RequesterID == session.UserID:
		return true
	case seesAll(session.Role):
		return true
	case session.Role == workflow.RoleChefDepartement:
		return demande.Department == session.Department
	}
	return false
}

// withCurrentStatus tells the caller where a request stands when a decision
// was refused because the request is no longer where they expected it.
func withCurrentStatus(err error, status workflow.Status) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErrors.IsConflict(appErr) {
		return appErr.WithDetail("current_status", status)
	}
	return err
}

// mapWorkflowError converts a decision failure into the API error kinds.
func mapWorkflowError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrTerminal):
		return appErrors.Wrap(err, appErrors.ErrTerminalState.Code, appErrors.ErrTerminalState.Status, appErrors.ErrTerminalState.Message)
	case errors.Is(err, workflow.ErrAlreadyProcessed):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "purchase request has already moved past your step")
	case errors.Is(err, workflow.ErrNotApprover), errors.Is(err, workflow.ErrNotYetReached):
		return appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "you cannot act on this purchase request yet")
	case errors.Is(err, workflow.ErrInvalidStatus), errors.Is(err, workflow.ErrInvalidAction), errors.Is(err, workflow.ErrInvalidRole):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}

func lineItems(items []dto.LineItemRequest) []models.LineItem {
	result := make([]models.LineItem, 0, len(items))
	for i, item := range items {
		result = append(result, models.LineItem{
			Position:    i + 1,
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
		})
	}
	return result
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
