package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/repository"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RegisterUserValidations adds the custom tags used by user payloads.
func RegisterUserValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return workflow.Role(fl.Field().String()).IsValid()
	})
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	RegisterUserValidations(validate)
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Role != nil && !filter.Role.IsValid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid role filter")
	}
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	filter.Page = page
	filter.PageSize = pageSize

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds an active account. Requesters must carry a department since
// their purchase requests inherit it.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Department = strings.TrimSpace(req.Department)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	role := workflow.Role(req.Role)
	if err := requireDepartment(role, req.Department); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, req.Email, ""); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		Department:   req.Department,
		Active:       true,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, mapUserWriteError(err, "failed to create user")
	}

	s.record(ctx, models.AuditActionUserCreate, user.ID, actorID, meta, nil, userSnapshot(user))
	return user, nil
}

// Update replaces the editable attributes of a user. Demoting or
// deactivating the last active admin is refused.
func (s *UserService) Update(ctx context.Context, id string, req dto.UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Department = strings.TrimSpace(req.Department)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	role := workflow.Role(req.Role)
	if err := requireDepartment(role, req.Department); err != nil {
		return nil, err
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	active := user.Active
	if req.Active != nil {
		active = *req.Active
	}
	if id == actorID && !active {
		return nil, errSelfDeactivation
	}
	if user.Email != req.Email {
		if err := s.ensureEmailFree(ctx, req.Email, id); err != nil {
			return nil, err
		}
	}
	if isActiveAdmin(user) && (role != workflow.RoleAdmin || !active) {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	before := userSnapshot(user)
	user.Email = req.Email
	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	user.Role = role
	user.Department = req.Department
	user.Active = active

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, mapUserWriteError(err, "failed to update user")
	}

	s.record(ctx, models.AuditActionUserUpdate, user.ID, actorID, meta, before, userSnapshot(user))
	return user, nil
}

// Delete deactivates a user; rows stay so past purchase requests keep their author.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	if id == actorID {
		return errSelfDeactivation
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if isActiveAdmin(user) {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return mapUserWriteError(err, "failed to delete user")
	}

	before := userSnapshot(user)
	user.Active = false
	s.record(ctx, models.AuditActionUserDelete, user.ID, actorID, meta, before, userSnapshot(user))
	return nil
}

var errSelfDeactivation = appErrors.Clone(appErrors.ErrValidation, "you cannot deactivate your own account")

func (s *UserService) ensureEmailFree(ctx context.Context, email, excludeID string) error {
	exists, err := s.repo.ExistsByEmail(ctx, email, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}
	return nil
}

// ensureOtherAdmin fails unless at least two admins are active, so the one
// being changed is not the last.
func (s *UserService) ensureOtherAdmin(ctx context.Context) error {
	role, active := workflow.RoleAdmin, true
	_, count, err := s.repo.List(ctx, models.UserFilter{Role: &role, Active: &active, Page: 1, PageSize: 1})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count administrators")
	}
	if count < 2 {
		return appErrors.Clone(appErrors.ErrConflict, "at least one active admin must remain")
	}
	return nil
}

func (s *UserService) record(ctx context.Context, action, userID, actorID string, meta models.LoginRequest, before, after map[string]interface{}) {
	entry := models.NewAuditLog(actorID, action, "users", userID).
		Change(before, after).
		Origin(meta.IP, meta.UserAgent)
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.String("user_id", userID), zap.Error(err))
	}
}

// userSnapshot is the audited view of an account; the password hash never
// leaves the users table.
func userSnapshot(user *models.User) map[string]interface{} {
	return map[string]interface{}{
		"email":      user.Email,
		"role":       user.Role,
		"department": user.Department,
		"active":     user.Active,
	}
}

func isActiveAdmin(user *models.User) bool {
	return user.Active && user.Role == workflow.RoleAdmin
}

func mapUserWriteError(err error, msg string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "email already in use")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// requireDepartment enforces that requesters belong to a department, since
// their requests inherit it.
func requireDepartment(role workflow.Role, department string) error {
	if role.CanRequest() && department == "" {
		return appErrors.Clone(appErrors.ErrValidation, "department is required for this role")
	}
	return nil
}
