package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/export"
)

// Supported list export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

const (
	exportPageSize = 200
	exportMaxRows  = 5000
	exportDate     = "02/01/2006"
)

type demandeReader interface {
	Get(ctx context.Context, session *models.Session, id string) (*models.Demande, error)
	List(ctx context.Context, session *models.Session, query dto.DemandeQuery) ([]models.Demande, *models.Pagination, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderDocument(doc export.Document) ([]byte, error)
}

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders purchase requests as PDF or CSV documents. It reads
// through the demande service so visibility rules apply to exports too.
type ExportService struct {
	demandes demandeReader
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(demandes demandeReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(export.WithDelimiter(';'), export.WithBOM())
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		demandes: demandes,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DemandePDF renders the printable "bon de demande" of one request.
func (s *ExportService) DemandePDF(ctx context.Context, session *models.Session, id string) (*ExportFile, error) {
	demande, err := s.demandes.Get(ctx, session, id)
	if err != nil {
		return nil, err
	}

	fields := []export.Field{
		{Label: "Demandeur", Value: demande.RequesterName},
		{Label: "Département", Value: demande.Department},
		{Label: "Date", Value: demande.CreatedAt.Format(exportDate)},
		{Label: "Statut", Value: demande.Status.Label()},
		{Label: "Description", Value: demande.Description},
		{Label: "Justification", Value: demande.Justification},
	}
	if demande.ValidatedBy != nil {
		fields = append(fields, export.Field{Label: "Dernière approbation", Value: string(*demande.ValidatedBy)})
	}
	if demande.RejectedBy != nil {
		fields = append(fields, export.Field{Label: "Rejetée par", Value: string(*demande.RejectedBy)})
	}
	if demande.RejectionReason != nil {
		fields = append(fields, export.Field{Label: "Motif du rejet", Value: *demande.RejectionReason})
	}

	lines := export.Dataset{Headers: []string{"#", "Produit", "Quantité"}}
	for _, item := range demande.Items {
		lines.Rows = append(lines.Rows, map[string]string{
			"#":        strconv.Itoa(item.Position),
			"Produit":  item.ProductName,
			"Quantité": strconv.Itoa(item.Quantity),
		})
	}

	payload, err := s.pdf.RenderDocument(export.Document{
		Title:     "Bon de demande",
		Reference: demande.ID,
		Fields:    fields,
		Lines:     lines,
		Notes:     fmt.Sprintf("Généré le %s", s.now().Format(exportDate)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render purchase request")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("demande-%s.pdf", shortID(demande.ID)),
		ContentType: "application/pdf",
		Data:        payload,
	}, nil
}

// List renders every request visible under query as a table.
func (s *ExportService) List(ctx context.Context, session *models.Session, query dto.DemandeQuery, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	demandes, err := s.collect(ctx, session, query)
	if err != nil {
		return nil, err
	}
	dataset := demandeDataset(demandes)

	stamp := s.now().Format("20060102-150405")
	switch format {
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, "Demandes d'achat")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
		}
		return &ExportFile{Filename: "demandes-" + stamp + ".pdf", ContentType: "application/pdf", Data: payload}, nil
	default:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
		}
		return &ExportFile{Filename: "demandes-" + stamp + ".csv", ContentType: "text/csv; charset=utf-8", Data: payload}, nil
	}
}

func (s *ExportService) collect(ctx context.Context, session *models.Session, query dto.DemandeQuery) ([]models.Demande, error) {
	query.Page = 1
	query.PageSize = exportPageSize
	var all []models.Demande
	for {
		page, pagination, err := s.demandes.List(ctx, session, query)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize || pagination == nil || len(all) >= pagination.TotalCount {
			break
		}
		if len(all) >= exportMaxRows {
			s.logger.Warn("export truncated", zap.Int("rows", len(all)), zap.Int("total", pagination.TotalCount))
			break
		}
		query.Page++
	}
	return all, nil
}

func demandeDataset(demandes []models.Demande) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Référence", "Date", "Demandeur", "Département", "Description", "Articles", "Statut"},
		Rows:    make([]map[string]string, 0, len(demandes)),
	}
	for _, d := range demandes {
		items := make([]string, 0, len(d.Items))
		for _, item := range d.Items {
			items = append(items, fmt.Sprintf("%s x%d", item.ProductName, item.Quantity))
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Référence":   shortID(d.ID),
			"Date":        d.CreatedAt.Format(exportDate),
			"Demandeur":   d.RequesterName,
			"Département": d.Department,
			"Description": d.Description,
			"Articles":    strings.Join(items, ", "),
			"Statut":      d.Status.Label(),
		})
	}
	return dataset
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
