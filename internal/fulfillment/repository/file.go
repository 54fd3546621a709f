package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/utils"
)

const (
	purchasesFile   = "purchases.json"
	usersFile       = "users.json"
	submissionsFile = "onboarding-submissions.json"
	customersDir    = "customers"
)

// FileRepository implements Repository on flat JSON files in a directory.
// Every write rewrites a whole file through a temp file and a rename, and
// all access goes through one mutex.
type FileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewFileRepository prepares the data directory
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Join(dir, customersDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

// Close is a no-op, files are never held open
func (r *FileRepository) Close() error {
	return nil
}

func (r *FileRepository) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (r *FileRepository) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(r.dir, name)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// User methods
func (r *FileRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers()
	if err != nil {
		return 0, err
	}

	var maxID int64
	for _, u := range users {
		if u.Email == user.Email {
			return 0, ErrUserExists
		}
		if u.ID > maxID {
			maxID = u.ID
		}
	}

	user.ID = maxID + 1
	user.CreatedAt = time.Now().UTC()
	stored := make([]storedUser, 0, len(users)+1)
	for _, u := range users {
		stored = append(stored, toStoredUser(u))
	}
	stored = append(stored, toStoredUser(*user))
	if err := r.writeJSON(usersFile, stored); err != nil {
		return 0, err
	}
	return user.ID, nil
}

// storedUser is the on-disk user shape; models.User hides the hash from JSON
type storedUser struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toStoredUser(u models.User) storedUser {
	return storedUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
}

func (s storedUser) user() models.User {
	return models.User{ID: s.ID, Email: s.Email, Name: s.Name, Role: s.Role, PasswordHash: s.PasswordHash, CreatedAt: s.CreatedAt}
}

func (r *FileRepository) loadUsers() ([]models.User, error) {
	var stored []storedUser
	if err := r.readJSON(usersFile, &stored); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(stored))
	for _, s := range stored {
		users = append(users, s.user())
	}
	return users, nil
}

func (r *FileRepository) findUser(match func(models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (r *FileRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.Email == email })
}

func (r *FileRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.ID == id })
}

// Purchase ledger methods
func (r *FileRepository) AppendPurchase(ctx context.Context, p *models.PurchaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purchases []models.PurchaseRecord
	if err := r.readJSON(purchasesFile, &purchases); err != nil {
		return err
	}
	for _, existing := range purchases {
		if existing.StripeSessionID == p.StripeSessionID {
			return ErrDuplicatePurchase
		}
	}

	return r.writeJSON(purchasesFile, append(purchases, *p))
}

func (r *FileRepository) ListPurchases(ctx context.Context) ([]models.PurchaseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purchases := []models.PurchaseRecord{}
	if err := r.readJSON(purchasesFile, &purchases); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *FileRepository) MarkPurchaseProcessed(ctx context.Context, sessionID string) (*models.PurchaseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purchases []models.PurchaseRecord
	if err := r.readJSON(purchasesFile, &purchases); err != nil {
		return nil, err
	}

	for i := range purchases {
		if purchases[i].StripeSessionID != sessionID {
			continue
		}
		if !purchases[i].Processed {
			purchases[i].Processed = true
			if err := r.writeJSON(purchasesFile, purchases); err != nil {
				return nil, err
			}
		}
		p := purchases[i]
		return &p, nil
	}
	return nil, ErrNotFound
}

// Customer record methods
func customerFile(email string) string {
	return filepath.Join(customersDir, utils.CustomerKey(email)+".json")
}

func (r *FileRepository) loadCustomer(email string) (*models.CustomerRecord, error) {
	var rec *models.CustomerRecord
	if err := r.readJSON(customerFile(email), &rec); err != nil {
		return nil, err
	}
	if rec != nil && utils.NormalizeEmail(rec.Email) != utils.NormalizeEmail(email) {
		return nil, fmt.Errorf("customer file %s holds %s", customerFile(email), rec.Email)
	}
	return rec, nil
}

func (r *FileRepository) GetCustomer(ctx context.Context, email string) (*models.CustomerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadCustomer(email)
}

func (r *FileRepository) ListCustomers(ctx context.Context) ([]models.CustomerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(r.dir, customersDir))
	if err != nil {
		return nil, err
	}

	customers := []models.CustomerRecord{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "customer-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec models.CustomerRecord
		if err := r.readJSON(filepath.Join(customersDir, e.Name()), &rec); err != nil {
			return nil, err
		}
		customers = append(customers, rec)
	}

	sort.Slice(customers, func(i, j int) bool { return customers[i].Email < customers[j].Email })
	return customers, nil
}

func (r *FileRepository) SaveCustomer(ctx context.Context, rec *models.CustomerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.loadCustomer(rec.Email)
	if err != nil {
		return err
	}

	var stored int64
	if current != nil {
		stored = current.Version
	}
	if stored != rec.Version {
		return ErrVersionConflict
	}

	next := *rec
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	if err := r.writeJSON(customerFile(rec.Email), next); err != nil {
		return err
	}

	rec.Version = next.Version
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Onboarding submission methods
func (r *FileRepository) CreateSubmission(ctx context.Context, s *models.OnboardingSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var submissions []models.OnboardingSubmission
	if err := r.readJSON(submissionsFile, &submissions); err != nil {
		return err
	}
	return r.writeJSON(submissionsFile, append(submissions, *s))
}

func (r *FileRepository) GetSubmission(ctx context.Context, id string) (*models.OnboardingSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var submissions []models.OnboardingSubmission
	if err := r.readJSON(submissionsFile, &submissions); err != nil {
		return nil, err
	}
	for i := range submissions {
		if submissions[i].ID == id {
			s := submissions[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (r *FileRepository) ListSubmissions(ctx context.Context) ([]models.OnboardingSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	submissions := []models.OnboardingSubmission{}
	if err := r.readJSON(submissionsFile, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *FileRepository) UpdateSubmission(ctx context.Context, s *models.OnboardingSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var submissions []models.OnboardingSubmission
	if err := r.readJSON(submissionsFile, &submissions); err != nil {
		return err
	}
	for i := range submissions {
		if submissions[i].ID == s.ID {
			submissions[i] = *s
			return r.writeJSON(submissionsFile, submissions)
		}
	}
	return ErrNotFound
}
