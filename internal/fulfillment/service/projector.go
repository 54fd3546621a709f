package service

import (
	"context"
	"fmt"
	"log"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/google/uuid"
)

// Projector turns ledger purchases into customer projects
type Projector struct {
	repo    repository.Repository
	catalog *catalog.Catalog
	logger  *log.Logger
}

// NewProjector creates a new projector
func NewProjector(repo repository.Repository, cat *catalog.Catalog, logger *log.Logger) *Projector {
	return &Projector{repo: repo, catalog: cat, logger: logger}
}

// NewProject builds the project a purchase starts: the package template
// with only the orderPlaced step completed
func (p *Projector) NewProject(purchase *models.PurchaseRecord) (models.CustomerProject, error) {
	tpl := p.catalog.Template(purchase.PackageName)
	project := models.CustomerProject{
		ID:                uuid.NewString(),
		Name:              purchase.PackageName,
		Type:              tpl.Type,
		Category:          tpl.Category,
		Status:            models.ProjectActive,
		StartDate:         purchase.Timestamp,
		EstimatedDuration: tpl.EstimatedDuration,
		Requirements:      append([]string(nil), tpl.Requirements...),
		Deliverables:      append([]string(nil), tpl.Deliverables...),
		Milestones:        models.NewOrderTimeline(),
		StripeSessionID:   purchase.StripeSessionID,
	}
	if err := project.Milestones.Transition(models.StepOrderPlaced, models.StepCompleted, purchase.Timestamp); err != nil {
		return models.CustomerProject{}, err
	}
	project.ApplyTimeline()
	return project, nil
}

// Project records the purchase on the customer's record, creating the record
// when needed. Projecting the same checkout session twice returns the
// existing project.
func (p *Projector) Project(ctx context.Context, purchase *models.PurchaseRecord) (*models.CustomerProject, error) {
	project, err := p.NewProject(purchase)
	if err != nil {
		return nil, err
	}

	var result models.CustomerProject
	_, err = updateCustomer(ctx, p.repo, purchase.CustomerEmail,
		func() *models.CustomerRecord {
			return models.NewCustomerRecord(purchase.CustomerEmail, purchase.CustomerName)
		},
		func(rec *models.CustomerRecord) error {
			if existing := findBySession(rec, purchase.StripeSessionID); existing != nil {
				result = *existing
				return errUnchanged
			}
			if rec.Name == "" {
				rec.Name = purchase.CustomerName
			}
			rec.ActiveProjects = append(rec.ActiveProjects, project)
			rec.CurrentProjectID = project.ID
			rec.OrderTimeline = project.Milestones.Clone()
			rec.AddActivity(models.ActivityPurchase, fmt.Sprintf("Purchased %s", project.Name), purchase.Timestamp)
			result = project
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("project purchase %s: %w", purchase.StripeSessionID, err)
	}

	p.logger.Printf("Projected purchase %s into project %s for %s", purchase.StripeSessionID, result.ID, purchase.CustomerEmail)
	return &result, nil
}

func findBySession(rec *models.CustomerRecord, sessionID string) *models.CustomerProject {
	if sessionID == "" {
		return nil
	}
	for _, list := range [][]models.CustomerProject{rec.ActiveProjects, rec.CompletedProjects} {
		for i := range list {
			if list[i].StripeSessionID == sessionID {
				return &list[i]
			}
		}
	}
	return nil
}
