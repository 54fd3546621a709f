package models

import (
	"time"
)

// User represents a registered dashboard account
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// User roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// PurchaseRecord is one completed checkout in the ledger
type PurchaseRecord struct {
	CustomerEmail    string    `json:"customerEmail"`
	CustomerName     string    `json:"customerName"`
	PackageName      string    `json:"packageName"`
	Amount           float64   `json:"amount"`
	StripeSessionID  string    `json:"stripeSessionId"`
	StripeCustomerID string    `json:"stripeCustomerId"`
	Timestamp        time.Time `json:"timestamp"`
	Processed        bool      `json:"processed"`
}

// Project statuses
const (
	ProjectActive    = "Active"
	ProjectCancelled = "Cancelled"
	ProjectCompleted = "Completed"
)

// CustomerProject is one purchased package as the customer sees it
type CustomerProject struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Type               string        `json:"type"`
	Category           string        `json:"category"`
	Status             string        `json:"status"`
	Progress           int           `json:"progress"`
	StartDate          time.Time     `json:"startDate"`
	EstimatedDuration  string        `json:"estimatedDuration"`
	Requirements       []string      `json:"requirements"`
	Deliverables       []string      `json:"deliverables"`
	CurrentPhase       string        `json:"currentPhase"`
	NextMilestone      string        `json:"nextMilestone"`
	Milestones         OrderTimeline `json:"milestones"`
	StripeSessionID    string        `json:"stripeSessionId,omitempty"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	BillingEndDate     *time.Time    `json:"billingEndDate"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
}

// Activity types
const (
	ActivityPurchase     = "purchase"
	ActivityOnboarding   = "onboarding"
	ActivityApproval     = "approval"
	ActivityRejection    = "rejection"
	ActivityProgress     = "progress"
	ActivityCancellation = "cancellation"
	ActivityCompletion   = "completion"
)

// Activity is one entry of the customer's recent activity feed
type Activity struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// CancellationRequest records the customer's last cancellation
type CancellationRequest struct {
	ProjectID   string    `json:"projectId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

// MaxRecentActivity bounds the activity feed kept on a customer record
const MaxRecentActivity = 50

// CustomerRecord is the root state object of a customer.
// Version is bumped by the repository on every successful save.
type CustomerRecord struct {
	Name                string               `json:"name"`
	Email               string               `json:"email"`
	ActiveProjects      []CustomerProject    `json:"activeProjects"`
	CompletedProjects   []CustomerProject    `json:"completedProjects"`
	CurrentProjectID    string               `json:"currentProjectId,omitempty"`
	OrderTimeline       OrderTimeline        `json:"orderTimeline"`
	RecentActivity      []Activity           `json:"recentActivity"`
	CancellationRequest *CancellationRequest `json:"cancellationRequest,omitempty"`
	Version             int64                `json:"version"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// NewCustomerRecord creates an empty record for a customer
func NewCustomerRecord(email, name string) *CustomerRecord {
	return &CustomerRecord{
		Name:              name,
		Email:             email,
		ActiveProjects:    []CustomerProject{},
		CompletedProjects: []CustomerProject{},
		OrderTimeline:     NewOrderTimeline(),
		RecentActivity:    []Activity{},
	}
}

// AddActivity prepends an entry to the activity feed, keeping it bounded
func (c *CustomerRecord) AddActivity(kind, message string, at time.Time) {
	feed := make([]Activity, 0, len(c.RecentActivity)+1)
	feed = append(feed, Activity{Type: kind, Message: message, Date: at})
	feed = append(feed, c.RecentActivity...)
	if len(feed) > MaxRecentActivity {
		feed = feed[:MaxRecentActivity]
	}
	c.RecentActivity = feed
}

// FindActiveProject returns the index of an active project or -1
func (c *CustomerRecord) FindActiveProject(projectID string) int {
	for i := range c.ActiveProjects {
		if c.ActiveProjects[i].ID == projectID {
			return i
		}
	}
	return -1
}

// FindActiveProjectByName returns the most recently started active project
// with the given package name or -1
func (c *CustomerRecord) FindActiveProjectByName(name string) int {
	found := -1
	for i := range c.ActiveProjects {
		if c.ActiveProjects[i].Name != name {
			continue
		}
		if found == -1 || c.ActiveProjects[i].StartDate.After(c.ActiveProjects[found].StartDate) {
			found = i
		}
	}
	return found
}

// MoveToCompleted moves an active project into completedProjects
func (c *CustomerRecord) MoveToCompleted(idx int) {
	project := c.ActiveProjects[idx]
	c.ActiveProjects = append(c.ActiveProjects[:idx:idx], c.ActiveProjects[idx+1:]...)
	c.CompletedProjects = append(c.CompletedProjects, project)
	if c.CurrentProjectID == project.ID {
		c.CurrentProjectID = ""
		c.OrderTimeline = NewOrderTimeline()
		if n := len(c.ActiveProjects); n > 0 {
			c.CurrentProjectID = c.ActiveProjects[n-1].ID
			c.OrderTimeline = c.ActiveProjects[n-1].Milestones.Clone()
		}
	}
}

// SyncCurrentTimeline mirrors a project's milestones into the record's
// order timeline when it is the current project
func (c *CustomerRecord) SyncCurrentTimeline(project *CustomerProject) {
	if c.CurrentProjectID == project.ID {
		c.OrderTimeline = project.Milestones.Clone()
	}
}

// Onboarding submission statuses
const (
	SubmissionPendingApproval = "pending_approval"
	SubmissionApproved        = "approved"
	SubmissionRejected        = "rejected"
)

// OnboardingSubmission holds the business details a customer sent for a service
type OnboardingSubmission struct {
	ID            string            `json:"id"`
	CustomerEmail string            `json:"customerEmail"`
	ProjectID     string            `json:"projectId,omitempty"`
	Service       string            `json:"service"`
	FormData      map[string]string `json:"formData"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	Status        string            `json:"status"`
	AdminNotes    string            `json:"adminNotes"`
	ReviewedAt    *time.Time        `json:"reviewedAt,omitempty"`
}

// Overview aggregates operational status for the admin dashboard
type Overview struct {
	Customers               int     `json:"customers"`
	ActiveProjects          int     `json:"activeProjects"`
	CancelledProjects       int     `json:"cancelledProjects"`
	CompletedProjects       int     `json:"completedProjects"`
	PendingSubmissions      int     `json:"pendingSubmissions"`
	Purchases               int     `json:"purchases"`
	UnprocessedPurchases    int     `json:"unprocessedPurchases"`
	UnknownPackagePurchases int     `json:"unknownPackagePurchases"`
	Revenue                 float64 `json:"revenue"`
}
