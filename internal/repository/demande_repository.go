package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
)

const demandeColumns = `d.id, d.description, d.justification, d.attachment_key, d.attachment_name, d.attachment_content_type,
       d.requester_id, u.first_name || ' ' || u.last_name AS requester_name, d.department, d.status,
       d.validated_by, d.rejected_by, d.rejection_reason, d.created_at, d.updated_at`

const demandeFrom = ` FROM demandes d JOIN users u ON u.id = d.requester_id`

// DemandeRepository persists purchase requests, their line items and their
// transition history.
type DemandeRepository struct {
	db *sqlx.DB
}

// NewDemandeRepository constructs the repository.
func NewDemandeRepository(db *sqlx.DB) *DemandeRepository {
	return &DemandeRepository{db: db}
}

// Create inserts the request and its items in one transaction.
func (r *DemandeRepository) Create(ctx context.Context, demande *models.Demande) (err error) {
	if demande.ID == "" {
		demande.ID = uuid.NewString()
	}
	if demande.Status == "" {
		demande.Status = workflow.StatusPending
	}
	now := time.Now().UTC()
	if demande.CreatedAt.IsZero() {
		demande.CreatedAt = now
	}
	demande.UpdatedAt = demande.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create demande: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO demandes
	(id, description, justification, attachment_key, attachment_name, attachment_content_type, requester_id, department, status, created_at, updated_at)
	VALUES (:id, :description, :justification, :attachment_key, :attachment_name, :attachment_content_type, :requester_id, :department, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, demande); err != nil {
		return fmt.Errorf("create demande: %w", err)
	}
	if err = insertItems(ctx, tx, demande.ID, demande.Items); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create demande: %w", err)
	}
	return nil
}

// GetByID fetches a request with its items. sql.ErrNoRows is returned as is.
func (r *DemandeRepository) GetByID(ctx context.Context, id string) (*models.Demande, error) {
	query := `SELECT ` + demandeColumns + demandeFrom + ` WHERE d.id = $1`
	var demande models.Demande
	if err := r.db.GetContext(ctx, &demande, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get demande: %w", err)
	}
	const itemsQuery = `SELECT id, demande_id, position, product_name, quantity FROM demande_items WHERE demande_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &demande.Items, itemsQuery, id); err != nil {
		return nil, fmt.Errorf("get demande items: %w", err)
	}
	return &demande, nil
}

// List returns one page of requests (newest first) with their items, plus the total count.
func (r *DemandeRepository) List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error) {
	where, args := demandeConditions(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s%s%s ORDER BY d.created_at DESC, d.id LIMIT %d OFFSET %d", demandeColumns, demandeFrom, where, pageSize, offset)
	var demandes []models.Demande
	if err := r.db.SelectContext(ctx, &demandes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list demandes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM demandes d"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count demandes: %w", err)
	}

	if err := r.attachItems(ctx, demandes); err != nil {
		return nil, 0, err
	}
	return demandes, total, nil
}

// ListFeed returns every request matching filter, most recently changed
// first, without items. It is not paged: approval queues must be complete.
func (r *DemandeRepository) ListFeed(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, error) {
	where, args := demandeConditions(filter)
	query := fmt.Sprintf("SELECT %s%s%s ORDER BY d.updated_at DESC, d.id", demandeColumns, demandeFrom, where)
	var demandes []models.Demande
	if err := r.db.SelectContext(ctx, &demandes, query, args...); err != nil {
		return nil, fmt.Errorf("list demande feed: %w", err)
	}
	return demandes, nil
}

// UpdateStatus applies a transition only while the request is still in
// change.From, and records it in the history. A request that moved or
// vanished yields sql.ErrNoRows.
func (r *DemandeRepository) UpdateStatus(ctx context.Context, change models.StatusChange) (err error) {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin demande transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE demandes
	SET status = $3, validated_by = COALESCE($4, validated_by), rejected_by = $5, rejection_reason = $6, updated_at = $7
	WHERE id = $1 AND status = $2`
	result, err := tx.ExecContext(ctx, update,
		change.DemandeID, change.From, change.To,
		rolePtr(change.ValidatedBy), rolePtr(change.RejectedBy), change.RejectionReason, change.At,
	)
	if err != nil {
		return fmt.Errorf("update demande status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check demande status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	const insert = `INSERT INTO demande_transitions (id, demande_id, action, from_status, to_status, actor_id, actor_role, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err = tx.ExecContext(ctx, insert,
		uuid.NewString(), change.DemandeID, change.Action, change.From, change.To,
		change.ActorID, change.ActorRole, change.RejectionReason, change.At,
	); err != nil {
		return fmt.Errorf("record demande transition: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit demande transition: %w", err)
	}
	return nil
}

// Update edits a pending request. Non-nil Items replace every line. A request
// that is no longer pending yields sql.ErrNoRows.
func (r *DemandeRepository) Update(ctx context.Context, id string, changes models.DemandeChanges, at time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update demande: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE demandes
	SET description = COALESCE($3, description), justification = COALESCE($4, justification), updated_at = $5
	WHERE id = $1 AND status = $2`
	result, err := tx.ExecContext(ctx, update, id, workflow.StatusPending, changes.Description, changes.Justification, at)
	if err != nil {
		return fmt.Errorf("update demande: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check demande update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if changes.Items != nil {
		if _, err = tx.ExecContext(ctx, `DELETE FROM demande_items WHERE demande_id = $1`, id); err != nil {
			return fmt.Errorf("clear demande items: %w", err)
		}
		if err = insertItems(ctx, tx, id, changes.Items); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update demande: %w", err)
	}
	return nil
}

// Delete removes a pending request. Items and history cascade.
func (r *DemandeRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM demandes WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, workflow.StatusPending)
	if err != nil {
		return fmt.Errorf("delete demande: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check demande delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetAttachment records the stored attachment of a pending request.
func (r *DemandeRepository) SetAttachment(ctx context.Context, id string, ref models.AttachmentRef, at time.Time) error {
	const query = `UPDATE demandes
	SET attachment_key = $3, attachment_name = $4, attachment_content_type = $5, updated_at = $6
	WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, workflow.StatusPending, ref.Key, ref.Name, ref.ContentType, at)
	if err != nil {
		return fmt.Errorf("set demande attachment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check demande attachment rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus aggregates the filtered requests per status.
func (r *DemandeRepository) CountByStatus(ctx context.Context, filter models.DemandeFilter) ([]models.StatusCount, error) {
	where, args := demandeConditions(filter)
	query := "SELECT d.status, COUNT(*) AS count FROM demandes d" + where + " GROUP BY d.status"
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count demandes by status: %w", err)
	}
	return counts, nil
}

// ListTransitions returns the decision history of a request, oldest first.
func (r *DemandeRepository) ListTransitions(ctx context.Context, demandeID string) ([]models.DemandeTransition, error) {
	const query = `SELECT id, demande_id, action, from_status, to_status, actor_id, actor_role, reason, created_at
	FROM demande_transitions WHERE demande_id = $1 ORDER BY created_at, id`
	var transitions []models.DemandeTransition
	if err := r.db.SelectContext(ctx, &transitions, query, demandeID); err != nil {
		return nil, fmt.Errorf("list demande transitions: %w", err)
	}
	return transitions, nil
}

func (r *DemandeRepository) attachItems(ctx context.Context, demandes []models.Demande) error {
	if len(demandes) == 0 {
		return nil
	}
	ids := make([]string, len(demandes))
	index := make(map[string]int, len(demandes))
	for i, d := range demandes {
		ids[i] = d.ID
		index[d.ID] = i
		demandes[i].Items = []models.LineItem{}
	}

	const query = `SELECT id, demande_id, position, product_name, quantity FROM demande_items WHERE demande_id = ANY($1) ORDER BY demande_id, position`
	var items []models.LineItem
	if err := r.db.SelectContext(ctx, &items, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list demande items: %w", err)
	}
	for _, item := range items {
		if i, ok := index[item.DemandeID]; ok {
			demandes[i].Items = append(demandes[i].Items, item)
		}
	}
	return nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, demandeID string, items []models.LineItem) error {
	const query = `INSERT INTO demande_items (id, demande_id, position, product_name, quantity) VALUES ($1, $2, $3, $4, $5)`
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].DemandeID = demandeID
		items[i].Position = i + 1
		if _, err := tx.ExecContext(ctx, query, items[i].ID, demandeID, items[i].Position, items[i].ProductName, items[i].Quantity); err != nil {
			return fmt.Errorf("insert demande item: %w", err)
		}
	}
	return nil
}

// likeEscaper makes user search text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func demandeConditions(filter models.DemandeFilter) (string, []interface{}) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("d.requester_id = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("d.department = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("d.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.Search))+"%")
		conditions = append(conditions, fmt.Sprintf(`(LOWER(d.description) LIKE $%[1]d ESCAPE '\' OR LOWER(d.justification) LIKE $%[1]d ESCAPE '\')`, len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func rolePtr(role *workflow.Role) interface{} {
	if role == nil {
		return nil
	}
	return string(*role)
}
