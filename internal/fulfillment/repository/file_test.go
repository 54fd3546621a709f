package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileRepo(t *testing.T) (*FileRepository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	return repo, dir
}

func purchase(i int) *models.PurchaseRecord {
	return &models.PurchaseRecord{
		CustomerEmail:   fmt.Sprintf("c%d@example.com", i),
		PackageName:     "Map PowerBoost",
		Amount:          249,
		StripeSessionID: fmt.Sprintf("cs_test_%d", i),
		Timestamp:       time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestAppendPurchasesReloadInOrder(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t)

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, repo.AppendPurchase(ctx, purchase(i)))
	}

	reopened, err := NewFileRepository(dir)
	require.NoError(t, err)
	got, err := reopened.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("cs_test_%d", i), p.StripeSessionID)
	}
}

func TestAppendPurchaseIsIdempotentOnSession(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)

	require.NoError(t, repo.AppendPurchase(ctx, purchase(1)))
	err := repo.AppendPurchase(ctx, purchase(1))
	assert.ErrorIs(t, err, ErrDuplicatePurchase)

	got, err := repo.ListPurchases(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.AppendPurchase(ctx, purchase(i)))
		}(i)
	}
	wg.Wait()

	got, err := repo.ListPurchases(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestMarkPurchaseProcessedTouchesOnlyMatch(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendPurchase(ctx, purchase(i)))
	}

	p, err := repo.MarkPurchaseProcessed(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.True(t, p.Processed)

	got, err := repo.ListPurchases(ctx)
	require.NoError(t, err)
	assert.False(t, got[0].Processed)
	assert.True(t, got[1].Processed)
	assert.False(t, got[2].Processed)

	_, err = repo.MarkPurchaseProcessed(ctx, "cs_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPurchasesEmpty(t *testing.T) {
	repo, _ := newFileRepo(t)
	got, err := repo.ListPurchases(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSaveCustomerOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t)

	missing, err := repo.GetCustomer(ctx, "joe@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rec := models.NewCustomerRecord("joe@example.com", "Joe")
	require.NoError(t, repo.SaveCustomer(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)
	assert.FileExists(t, filepath.Join(dir, "customers", "customer-joe@example.com.json"))

	stale := *rec
	rec.Name = "Joseph"
	require.NoError(t, repo.SaveCustomer(ctx, rec))
	assert.Equal(t, int64(2), rec.Version)

	stale.Name = "Jo"
	assert.ErrorIs(t, repo.SaveCustomer(ctx, &stale), ErrVersionConflict)

	again := models.NewCustomerRecord("joe@example.com", "Dup")
	assert.ErrorIs(t, repo.SaveCustomer(ctx, again), ErrVersionConflict)

	got, err := repo.GetCustomer(ctx, "joe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Joseph", got.Name)
	assert.Equal(t, int64(2), got.Version)
}

func TestListCustomersSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t)

	require.NoError(t, repo.SaveCustomer(ctx, models.NewCustomerRecord("b@example.com", "B")))
	require.NoError(t, repo.SaveCustomer(ctx, models.NewCustomerRecord("a@example.com", "A")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers", "notes.txt"), []byte("x"), 0o644))

	got, err := repo.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a@example.com", got[0].Email)
	assert.Equal(t, "b@example.com", got[1].Email)
}

func TestUsersKeepPasswordHash(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)

	u := &models.User{Email: "admin@example.com", Role: models.RoleAdmin, PasswordHash: "hash-1"}
	id, err := repo.CreateUser(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id2, err := repo.CreateUser(ctx, &models.User{Email: "c@example.com", Role: models.RoleCustomer, PasswordHash: "hash-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2)

	_, err = repo.CreateUser(ctx, &models.User{Email: "admin@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := repo.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-1", got.PasswordHash)

	byID, err := repo.GetUserByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", byID.PasswordHash)

	none, err := repo.GetUserByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSubmissions(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)

	s := &models.OnboardingSubmission{
		ID:            "sub-1",
		CustomerEmail: "joe@example.com",
		Service:       "Local Citations",
		FormData:      map[string]string{"businessName": "Joe's"},
		SubmittedAt:   time.Now().UTC(),
		Status:        models.SubmissionPendingApproval,
	}
	require.NoError(t, repo.CreateSubmission(ctx, s))

	s.Status = models.SubmissionApproved
	s.AdminNotes = "ok"
	require.NoError(t, repo.UpdateSubmission(ctx, s))

	got, err := repo.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionApproved, got.Status)
	assert.Equal(t, "Joe's", got.FormData["businessName"])

	assert.ErrorIs(t, repo.UpdateSubmission(ctx, &models.OnboardingSubmission{ID: "nope"}), ErrNotFound)

	missing, err := repo.GetSubmission(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCustomersWithSimilarEmailsStaySeparate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t)

	emails := []string{"a.b@example.com", "a-b@example.com", "a_b@example.com"}
	for _, e := range emails {
		require.NoError(t, repo.SaveCustomer(ctx, models.NewCustomerRecord(e, e)))
	}

	for _, e := range emails {
		rec, err := repo.GetCustomer(ctx, e)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, e, rec.Email)
		assert.Equal(t, int64(1), rec.Version)
	}

	all, err := repo.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetCustomerRejectsForeignRecord(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t)

	data, err := json.Marshal(models.NewCustomerRecord("other@example.com", "Other"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers", "customer-joe@example.com.json"), data, 0o644))

	_, err = repo.GetCustomer(ctx, "joe@example.com")
	assert.Error(t, err)
	assert.Error(t, repo.SaveCustomer(ctx, models.NewCustomerRecord("joe@example.com", "Joe")))
}
