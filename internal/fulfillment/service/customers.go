package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/google/uuid"
)

// BillingGracePeriod is how long a cancelled project keeps billing
const BillingGracePeriod = 30 * 24 * time.Hour

// CustomerService owns customer records: timelines, onboarding,
// cancellation and the admin views over them
type CustomerService struct {
	repo     repository.Repository
	catalog  *catalog.Catalog
	notifier Notifier
	logger   *log.Logger

	// Now is the service clock
	Now func() time.Time
}

// NewCustomerService creates a new customer service
func NewCustomerService(repo repository.Repository, cat *catalog.Catalog, notifier Notifier, logger *log.Logger) *CustomerService {
	return &CustomerService{
		repo:     repo,
		catalog:  cat,
		notifier: notifier,
		logger:   logger,
		Now:      time.Now,
	}
}

func (s *CustomerService) now() time.Time {
	return s.Now().UTC()
}

func (s *CustomerService) update(ctx context.Context, email string, fn func(*models.CustomerRecord) error) (*models.CustomerRecord, error) {
	return updateCustomer(ctx, s.repo, email, nil, fn)
}

// Get returns a customer record
func (s *CustomerService) Get(ctx context.Context, email string) (*models.CustomerRecord, error) {
	rec, err := s.repo.GetCustomer(ctx, email)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrCustomerNotFound
	}
	return rec, nil
}

// List returns every customer record
func (s *CustomerService) List(ctx context.Context) ([]models.CustomerRecord, error) {
	return s.repo.ListCustomers(ctx)
}

// SyncRequest carries the client-owned fields of a customer record
type SyncRequest struct {
	Email          string            `json:"email"`
	Version        int64             `json:"version"`
	Name           string            `json:"name"`
	RecentActivity []models.Activity `json:"recentActivity"`
}

// Sync applies client-owned fields when the client's version is current.
// On a version mismatch the current record is returned with
// repository.ErrVersionConflict so the client can rebase.
func (s *CustomerService) Sync(ctx context.Context, req SyncRequest) (*models.CustomerRecord, error) {
	rec, err := s.Get(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if rec.Version != req.Version {
		return rec, repository.ErrVersionConflict
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		rec.Name = name
	}
	if req.RecentActivity != nil {
		feed := append([]models.Activity(nil), req.RecentActivity...)
		sort.SliceStable(feed, func(i, j int) bool { return feed[i].Date.After(feed[j].Date) })
		if len(feed) > models.MaxRecentActivity {
			feed = feed[:models.MaxRecentActivity]
		}
		rec.RecentActivity = feed
	}

	if err := s.repo.SaveCustomer(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			current, getErr := s.Get(ctx, req.Email)
			if getErr != nil {
				return nil, getErr
			}
			return current, repository.ErrVersionConflict
		}
		return nil, err
	}
	return rec, nil
}

// CancelProject cancels an active project. It moves to completedProjects
// as Cancelled and keeps billing for BillingGracePeriod.
func (s *CustomerService) CancelProject(ctx context.Context, email, projectID, reason string) (*models.CustomerRecord, error) {
	now := s.now()
	var name string
	rec, err := s.update(ctx, email, func(rec *models.CustomerRecord) error {
		idx := rec.FindActiveProject(projectID)
		if idx < 0 {
			return ErrProjectNotFound
		}

		project := &rec.ActiveProjects[idx]
		billingEnd := now.Add(BillingGracePeriod)
		cancelledAt := now
		project.Status = models.ProjectCancelled
		project.CancelledAt = &cancelledAt
		project.BillingEndDate = &billingEnd
		project.CancellationReason = reason
		name = project.Name

		rec.MoveToCompleted(idx)
		rec.CancellationRequest = &models.CancellationRequest{ProjectID: projectID, Reason: reason, RequestedAt: now}
		rec.AddActivity(models.ActivityCancellation, fmt.Sprintf("Cancelled %s, billing ends %s", name, billingEnd.Format("2006-01-02")), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Project %s (%s) of %s cancelled", projectID, name, email)
	s.notify(ctx, Notification{
		Subject: fmt.Sprintf("Project cancelled: %s", name),
		Body:    fmt.Sprintf("%s cancelled project %s (%s). Reason: %s", email, projectID, name, reason),
	})
	return rec, nil
}

// SweepExpiredCancellations completes cancelled projects whose billing
// period has ended and returns how many were completed
func (s *CustomerService) SweepExpiredCancellations(ctx context.Context) (int, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	total := 0
	var errs []error
	for _, c := range customers {
		if !hasExpiredCancellation(&c, now) {
			continue
		}

		swept := 0
		_, err := s.update(ctx, c.Email, func(rec *models.CustomerRecord) error {
			swept = 0
			for i := range rec.CompletedProjects {
				p := &rec.CompletedProjects[i]
				if !expired(p, now) {
					continue
				}
				completedAt := now
				p.Status = models.ProjectCompleted
				p.BillingEndDate = nil
				p.CompletedAt = &completedAt
				rec.AddActivity(models.ActivityCompletion, fmt.Sprintf("Billing period for %s ended", p.Name), now)
				swept++
			}
			if swept == 0 {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", c.Email, err))
			continue
		}
		total += swept
	}
	return total, errors.Join(errs...)
}

func hasExpiredCancellation(rec *models.CustomerRecord, now time.Time) bool {
	for i := range rec.CompletedProjects {
		if expired(&rec.CompletedProjects[i], now) {
			return true
		}
	}
	return false
}

func expired(p *models.CustomerProject, now time.Time) bool {
	return p.Status == models.ProjectCancelled && p.BillingEndDate != nil && p.BillingEndDate.Before(now)
}

// SubmissionRequest is a customer's onboarding form
type SubmissionRequest struct {
	Email     string            `json:"email"`
	ProjectID string            `json:"projectId,omitempty"`
	Service   string            `json:"service"`
	FormData  map[string]string `json:"formData"`
}

// SubmitOnboarding validates and stores an onboarding submission and moves
// the matching project's onboardingForm step to pending_approval. Without an
// explicit project id the newest active project for the service is used, then
// the current project. A customer without a record or a matching project gets
// an unlinked submission.
//
// The submission is stored before the project is touched. When the project
// update fails afterwards the submission is withdrawn, so a failed submit
// never leaves a step awaiting an approval that cannot happen.
func (s *CustomerService) SubmitOnboarding(ctx context.Context, req SubmissionRequest) (*models.OnboardingSubmission, error) {
	if err := s.catalog.Validate(req.Service, req.FormData); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetCustomer(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("load customer %s: %w", req.Email, err)
	}

	now := s.now()
	submission := &models.OnboardingSubmission{
		ID:            uuid.NewString(),
		CustomerEmail: req.Email,
		Service:       req.Service,
		FormData:      req.FormData,
		SubmittedAt:   now,
		Status:        models.SubmissionPendingApproval,
	}

	idx := -1
	if rec != nil {
		idx = s.resolveProject(rec, req)
	}
	if idx < 0 && req.ProjectID != "" {
		return nil, ErrProjectNotFound
	}
	if idx >= 0 {
		project := rec.ActiveProjects[idx]
		check := project.Milestones.Clone()
		if err := check.Transition(models.StepOnboardingForm, models.StepPendingApproval, now); err != nil {
			return nil, err
		}
		submission.ProjectID = project.ID
	}

	if err := s.repo.CreateSubmission(ctx, submission); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}

	if rec != nil {
		_, err := s.update(ctx, req.Email, func(rec *models.CustomerRecord) error {
			if submission.ProjectID == "" {
				rec.AddActivity(models.ActivityOnboarding, fmt.Sprintf("Onboarding form submitted for %s", req.Service), now)
				return nil
			}
			idx := rec.FindActiveProject(submission.ProjectID)
			if idx < 0 {
				return ErrProjectNotFound
			}
			project := &rec.ActiveProjects[idx]
			if err := project.Milestones.Transition(models.StepOnboardingForm, models.StepPendingApproval, now); err != nil {
				return err
			}
			project.ApplyTimeline()
			rec.SyncCurrentTimeline(project)
			rec.AddActivity(models.ActivityOnboarding, fmt.Sprintf("Onboarding form submitted for %s, awaiting approval", project.Name), now)
			return nil
		})
		if err != nil {
			s.withdraw(ctx, submission, err)
			return nil, err
		}
	}

	s.logger.Printf("Onboarding submission %s for %s from %s", submission.ID, submission.Service, submission.CustomerEmail)
	s.notify(ctx, Notification{
		Subject: fmt.Sprintf("Onboarding submission: %s", submission.Service),
		Body:    formatSubmission(submission),
	})
	return submission, nil
}

// withdraw rejects a stored submission whose project could not be updated
func (s *CustomerService) withdraw(ctx context.Context, sub *models.OnboardingSubmission, cause error) {
	now := s.now()
	sub.Status = models.SubmissionRejected
	sub.AdminNotes = fmt.Sprintf("withdrawn: %v", cause)
	sub.ReviewedAt = &now
	if err := s.repo.UpdateSubmission(ctx, sub); err != nil {
		s.logger.Printf("Error withdrawing submission %s: %v", sub.ID, err)
	}
}

func (s *CustomerService) resolveProject(rec *models.CustomerRecord, req SubmissionRequest) int {
	if req.ProjectID != "" {
		return rec.FindActiveProject(req.ProjectID)
	}
	if idx := rec.FindActiveProjectByName(req.Service); idx >= 0 {
		return idx
	}
	if rec.CurrentProjectID != "" {
		return rec.FindActiveProject(rec.CurrentProjectID)
	}
	return -1
}

func formatSubmission(sub *models.OnboardingSubmission) string {
	keys := make([]string, 0, len(sub.FormData))
	for k := range sub.FormData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s\nService: %s\nSubmission: %s\n\n", sub.CustomerEmail, sub.Service, sub.ID)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, sub.FormData[k])
	}
	return b.String()
}

// ReviewSubmission approves or rejects a pending submission. Approval
// completes the project's onboardingForm step, rejection sends it back to
// pending so the customer can resubmit.
func (s *CustomerService) ReviewSubmission(ctx context.Context, id, status, notes string) (*models.OnboardingSubmission, error) {
	var target string
	switch status {
	case models.SubmissionApproved:
		target = models.StepCompleted
	case models.SubmissionRejected:
		target = models.StepPending
	default:
		return nil, ErrInvalidReview
	}

	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	if sub.Status != models.SubmissionPendingApproval {
		return nil, fmt.Errorf("%w: submission already %s", models.ErrInvalidTransition, sub.Status)
	}

	now := s.now()
	pending := *sub
	sub.Status = status
	sub.AdminNotes = notes
	sub.ReviewedAt = &now
	if err := s.repo.UpdateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	if sub.ProjectID != "" {
		_, err := s.update(ctx, sub.CustomerEmail, func(rec *models.CustomerRecord) error {
			idx := rec.FindActiveProject(sub.ProjectID)
			if idx < 0 {
				s.logger.Printf("Submission %s refers to project %s which is no longer active", sub.ID, sub.ProjectID)
				return errUnchanged
			}
			project := &rec.ActiveProjects[idx]
			if err := project.Milestones.Transition(models.StepOnboardingForm, target, now); err != nil {
				return err
			}
			project.ApplyTimeline()
			rec.SyncCurrentTimeline(project)
			if status == models.SubmissionApproved {
				rec.AddActivity(models.ActivityApproval, fmt.Sprintf("Onboarding for %s approved", project.Name), now)
			} else {
				rec.AddActivity(models.ActivityRejection, fmt.Sprintf("Onboarding for %s needs changes: %s", project.Name, notes), now)
			}
			return nil
		})
		if err != nil && !errors.Is(err, ErrCustomerNotFound) {
			// put the submission back so the review can be retried
			if rerr := s.repo.UpdateSubmission(ctx, &pending); rerr != nil {
				s.logger.Printf("Error restoring submission %s: %v", sub.ID, rerr)
			}
			return nil, err
		}
	}

	s.logger.Printf("Submission %s %s", sub.ID, status)
	return sub, nil
}

// ListSubmissions returns every onboarding submission, optionally filtered by status
func (s *CustomerService) ListSubmissions(ctx context.Context, status string) ([]models.OnboardingSubmission, error) {
	all, err := s.repo.ListSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := []models.OnboardingSubmission{}
	for _, sub := range all {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	return out, nil
}

// CompleteStep completes a timeline step of an active project. Completing
// orderComplete finishes the project. The onboardingForm step is completed
// through ReviewSubmission instead.
func (s *CustomerService) CompleteStep(ctx context.Context, email, projectID string, step models.Step) (*models.CustomerRecord, error) {
	if step == models.StepOnboardingForm {
		return nil, fmt.Errorf("%w: onboarding form is completed by reviewing the submission", models.ErrInvalidTransition)
	}

	now := s.now()
	return s.update(ctx, email, func(rec *models.CustomerRecord) error {
		idx := rec.FindActiveProject(projectID)
		if idx < 0 {
			return ErrProjectNotFound
		}
		project := &rec.ActiveProjects[idx]
		if err := project.Milestones.Transition(step, models.StepCompleted, now); err != nil {
			return err
		}
		project.ApplyTimeline()
		rec.SyncCurrentTimeline(project)
		rec.AddActivity(models.ActivityProgress, fmt.Sprintf("%s: %s completed", project.Name, step.Label()), now)

		if project.Milestones.IsComplete() {
			completedAt := now
			project.Status = models.ProjectCompleted
			project.CompletedAt = &completedAt
			rec.AddActivity(models.ActivityCompletion, fmt.Sprintf("%s delivered", project.Name), now)
			rec.MoveToCompleted(idx)
		}
		return nil
	})
}

// Overview aggregates customers, submissions and the ledger for the admin dashboard
func (s *CustomerService) Overview(ctx context.Context) (*models.Overview, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	submissions, err := s.repo.ListSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx)
	if err != nil {
		return nil, err
	}

	o := &models.Overview{Customers: len(customers), Purchases: len(purchases)}
	for _, c := range customers {
		o.ActiveProjects += len(c.ActiveProjects)
		for _, p := range c.CompletedProjects {
			if p.Status == models.ProjectCancelled {
				o.CancelledProjects++
			} else {
				o.CompletedProjects++
			}
		}
	}
	for _, sub := range submissions {
		if sub.Status == models.SubmissionPendingApproval {
			o.PendingSubmissions++
		}
	}
	var cents int64
	for _, p := range purchases {
		if !p.Processed {
			o.UnprocessedPurchases++
		}
		if s.catalog.IsUnknown(p.PackageName) {
			o.UnknownPackagePurchases++
		}
		cents += int64(p.Amount*100 + 0.5)
	}
	o.Revenue = float64(cents) / 100
	return o, nil
}

func (s *CustomerService) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Printf("Error queueing notification %q: %v", n.Subject, err)
	}
}
