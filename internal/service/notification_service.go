package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type feedLister interface {
	ListFeed(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, error)
}

// NotificationService derives a viewer's feed from current request states.
// Nothing is stored: the feed is recomputed on every call, and it lists the
// whole queue rather than a page of it.
type NotificationService struct {
	repo   feedLister
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(repo feedLister, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger}
}

// Feed returns the notifications for session, most recently changed first.
func (s *NotificationService) Feed(ctx context.Context, session *models.Session) ([]models.Notification, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}

	filters := feedFilters(session)
	seen := make(map[string]struct{})
	var demandes []models.Demande
	for _, filter := range filters {
		rows, err := s.repo.ListFeed(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notifications")
		}
		for _, row := range rows {
			if _, dup := seen[row.ID]; dup {
				continue
			}
			seen[row.ID] = struct{}{}
			demandes = append(demandes, row)
		}
	}

	sort.SliceStable(demandes, func(i, j int) bool {
		if !demandes[i].UpdatedAt.Equal(demandes[j].UpdatedAt) {
			return demandes[i].UpdatedAt.After(demandes[j].UpdatedAt)
		}
		return demandes[i].ID < demandes[j].ID
	})

	feed := make([]models.Notification, 0, len(demandes))
	for _, d := range demandes {
		feed = append(feed, models.Notification{
			DemandeID:     d.ID,
			Description:   d.Description,
			RequesterName: d.RequesterName,
			Department:    d.Department,
			Status:        d.Status,
			Label:         d.Status.Label(),
			Severity:      workflow.SeverityFor(d.Status, session.Role),
			CreatedAt:     d.CreatedAt,
			UpdatedAt:     d.UpdatedAt,
		})
	}
	return feed, nil
}

// feedFilters lists the queries whose union makes up the viewer's feed.
func feedFilters(session *models.Session) []models.DemandeFilter {
	switch session.Role {
	case workflow.RoleChefDepartement:
		return []models.DemandeFilter{
			{Department: session.Department, Statuses: []workflow.Status{workflow.StatusPending}},
			{RequesterID: session.UserID},
		}
	case workflow.RoleDoyen, workflow.RoleSecretaireGeneral:
		queue, _ := session.Role.Queue()
		return []models.DemandeFilter{{Statuses: []workflow.Status{queue}}}
	case workflow.RoleProfesseur, workflow.RoleDirecteurLabo:
		return []models.DemandeFilter{{RequesterID: session.UserID}}
	default:
		return nil
	}
}
