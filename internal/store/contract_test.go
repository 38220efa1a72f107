package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/rbac"
)

// contractStore is the surface both store implementations share.
type contractStore interface {
	Ping(context.Context) error
	ListDepartments(context.Context) ([]Department, error)
	GetDepartment(context.Context, int64) (Department, error)
	CreateDepartment(context.Context, string) (Department, error)
	RenameDepartment(context.Context, int64, string) (Department, error)
	DeleteDepartment(context.Context, int64) error
	ListStaff(context.Context) ([]StaffAccount, error)
	GetStaff(context.Context, int64) (StaffAccount, error)
	GetStaffByUsername(context.Context, string) (StaffAccount, error)
	CreateStaff(context.Context, StaffAccount) (StaffAccount, error)
	UpdateStaff(context.Context, StaffAccount) (StaffAccount, error)
	DeleteStaff(context.Context, int64) error
	CountSuperAdmins(context.Context) (int, error)
	InsertSuggestion(context.Context, Suggestion) (Suggestion, error)
	GetSuggestion(context.Context, int64) (Suggestion, error)
	GetSuggestionByCode(context.Context, string) (Suggestion, error)
	ListSuggestions(context.Context, SuggestionFilter) ([]Suggestion, int, error)
	UpdateSuggestionStatus(context.Context, int64, lifecycle.Status, lifecycle.Status) (Suggestion, error)
	InsertReply(context.Context, Reply) (Reply, error)
	Upvote(context.Context, int64) (int64, error)
	UpvoteByCode(context.Context, string) (int64, error)
	DeleteSuggestions(context.Context, []int64, func(map[int64]int64) error) (int, error)
	DashboardCounts(context.Context, *int64, time.Time) (DashboardCounts, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

var (
	_ contractStore = (*MemoryStore)(nil)
	_ contractStore = (*PostgresStore)(nil)
)

func strPtr(v string) *string { return &v }

// runStoreContract exercises one store instance. newStore must return an
// empty store for every call.
func runStoreContract(t *testing.T, newStore func(t *testing.T) contractStore) {
	t.Run("departments", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		library, err := s.CreateDepartment(ctx, "Library")
		require.NoError(t, err)
		_, err = s.CreateDepartment(ctx, "Academic Affairs")
		require.NoError(t, err)

		_, err = s.CreateDepartment(ctx, "Library")
		require.ErrorIs(t, err, ErrDuplicate)

		items, err := s.ListDepartments(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "Academic Affairs", items[0].Name)

		renamed, err := s.RenameDepartment(ctx, library.ID, "Main Library")
		require.NoError(t, err)
		assert.Equal(t, "Main Library", renamed.Name)

		_, err = s.RenameDepartment(ctx, 9999, "Ghost")
		require.ErrorIs(t, err, sql.ErrNoRows)

		require.NoError(t, s.DeleteDepartment(ctx, library.ID))
		_, err = s.GetDepartment(ctx, library.ID)
		require.ErrorIs(t, err, sql.ErrNoRows)
		require.ErrorIs(t, s.DeleteDepartment(ctx, library.ID), sql.ErrNoRows)
	})

	t.Run("department in use", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dept, err := s.CreateDepartment(ctx, "Logistics")
		require.NoError(t, err)
		_, err = s.CreateStaff(ctx, StaffAccount{Username: "lee", PasswordHash: "x", Role: rbac.RoleAdmin, DepartmentID: &dept.ID})
		require.NoError(t, err)
		_, err = s.InsertSuggestion(ctx, Suggestion{TrackingCode: "CODE1", Title: "t", Content: "c", DepartmentID: dept.ID})
		require.NoError(t, err)

		err = s.DeleteDepartment(ctx, dept.ID)
		var inUse *DepartmentInUseError
		require.ErrorAs(t, err, &inUse)
		assert.Equal(t, 1, inUse.Staff)
		assert.Equal(t, 1, inUse.Suggestions)

		_, err = s.GetDepartment(ctx, dept.ID)
		require.NoError(t, err)
		staff, err := s.GetStaffByUsername(ctx, "lee")
		require.NoError(t, err)
		assert.Equal(t, "Logistics", staff.DepartmentName)
	})

	t.Run("staff accounts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dept, err := s.CreateDepartment(ctx, "IT Services")
		require.NoError(t, err)

		root, err := s.CreateStaff(ctx, StaffAccount{Username: "superadmin", PasswordHash: "h1", Role: rbac.RoleSuperAdmin, IsRoot: true})
		require.NoError(t, err)
		assert.True(t, root.IsRoot)
		assert.Nil(t, root.DepartmentID)

		admin, err := s.CreateStaff(ctx, StaffAccount{Username: "ada", PasswordHash: "h2", Role: rbac.RoleAdmin, DepartmentID: &dept.ID})
		require.NoError(t, err)
		assert.Equal(t, "IT Services", admin.DepartmentName)

		_, err = s.CreateStaff(ctx, StaffAccount{Username: "ada", PasswordHash: "h3", Role: rbac.RoleAdmin})
		require.ErrorIs(t, err, ErrDuplicate)

		missing := int64(424242)
		_, err = s.CreateStaff(ctx, StaffAccount{Username: "bo", PasswordHash: "h4", Role: rbac.RoleAdmin, DepartmentID: &missing})
		require.ErrorIs(t, err, ErrInvalidReference)

		admin.CanViewAll = true
		admin.Username = "ada.l"
		updated, err := s.UpdateStaff(ctx, admin)
		require.NoError(t, err)
		assert.True(t, updated.CanViewAll)
		assert.Equal(t, "ada.l", updated.Username)

		count, err := s.CountSuperAdmins(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		list, err := s.ListStaff(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, root.ID, list[0].ID)

		require.NoError(t, s.DeleteStaff(ctx, admin.ID))
		require.ErrorIs(t, s.DeleteStaff(ctx, admin.ID), sql.ErrNoRows)
		_, err = s.GetStaff(ctx, admin.ID)
		require.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("suggestion lifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dept, err := s.CreateDepartment(ctx, "Library")
		require.NoError(t, err)

		created, err := s.InsertSuggestion(ctx, Suggestion{
			TrackingCode:   "ABC123",
			Title:          "Library seats",
			Content:        "Need more seats",
			DepartmentID:   dept.ID,
			SubmitterName:  strPtr("Kim"),
			SubmitterClass: strPtr("3B"),
			IsPublic:       true,
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, lifecycle.StatusPendingReview, created.Status)
		assert.Equal(t, "Library", created.DepartmentName)
		assert.Empty(t, created.Replies)

		_, err = s.InsertSuggestion(ctx, Suggestion{TrackingCode: "ABC123", Title: "x", Content: "y", DepartmentID: dept.ID})
		require.ErrorIs(t, err, ErrTrackingCodeTaken)

		_, err = s.InsertSuggestion(ctx, Suggestion{TrackingCode: "NODEPT", Title: "x", Content: "y", DepartmentID: 999999})
		require.ErrorIs(t, err, ErrInvalidReference)

		byCode, err := s.GetSuggestionByCode(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byCode.ID)
		require.NotNil(t, byCode.SubmitterName)
		assert.Equal(t, "Kim", *byCode.SubmitterName)

		_, err = s.GetSuggestionByCode(ctx, "abc123")
		require.ErrorIs(t, err, sql.ErrNoRows, "tracking codes are case-sensitive")

		approved, err := s.UpdateSuggestionStatus(ctx, created.ID, lifecycle.StatusPendingReview, lifecycle.StatusPendingAction)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusPendingAction, approved.Status)

		_, err = s.UpdateSuggestionStatus(ctx, created.ID, lifecycle.StatusPendingReview, lifecycle.StatusRejectedByReview)
		require.ErrorIs(t, err, ErrStatusChanged)

		resolved, err := s.UpdateSuggestionStatus(ctx, created.ID, "", lifecycle.StatusResolved)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusResolved, resolved.Status)

		_, err = s.UpdateSuggestionStatus(ctx, 999999, "", lifecycle.StatusResolved)
		require.ErrorIs(t, err, sql.ErrNoRows)

		staff, err := s.CreateStaff(ctx, StaffAccount{Username: "lib", PasswordHash: "h", Role: rbac.RoleAdmin, DepartmentID: &dept.ID})
		require.NoError(t, err)
		reply, err := s.InsertReply(ctx, Reply{SuggestionID: created.ID, Content: "Added 40 seats", ReplierID: &staff.ID, ReplierName: staff.Username})
		require.NoError(t, err)
		assert.NotZero(t, reply.ID)

		_, err = s.InsertReply(ctx, Reply{SuggestionID: 999999, Content: "nope", ReplierName: "lib"})
		require.ErrorIs(t, err, ErrInvalidReference)

		withReply, err := s.GetSuggestion(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, withReply.Replies, 1)
		assert.Equal(t, "Added 40 seats", withReply.Replies[0].Content)

		require.NoError(t, s.DeleteStaff(ctx, staff.ID))
		orphaned, err := s.GetSuggestion(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, orphaned.Replies, 1)
		assert.Nil(t, orphaned.Replies[0].ReplierID)
		assert.Equal(t, "lib", orphaned.Replies[0].ReplierName)
	})

	t.Run("list filters and pagination", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		a, err := s.CreateDepartment(ctx, "A")
		require.NoError(t, err)
		b, err := s.CreateDepartment(ctx, "B")
		require.NoError(t, err)

		codes := []string{"P1", "P2", "P3", "P4", "P5"}
		ids := make([]int64, 0, len(codes))
		for i, code := range codes {
			dept := a.ID
			if i%2 == 1 {
				dept = b.ID
			}
			item, err := s.InsertSuggestion(ctx, Suggestion{TrackingCode: code, Title: code, Content: code, DepartmentID: dept, IsPublic: i != 4})
			require.NoError(t, err)
			ids = append(ids, item.ID)
		}
		// P1 approved, P2 rejected, P3 resolved, P4 pending, P5 private and approved.
		_, err = s.UpdateSuggestionStatus(ctx, ids[0], "", lifecycle.StatusPendingAction)
		require.NoError(t, err)
		_, err = s.UpdateSuggestionStatus(ctx, ids[1], "", lifecycle.StatusRejectedByReview)
		require.NoError(t, err)
		_, err = s.UpdateSuggestionStatus(ctx, ids[2], "", lifecycle.StatusResolved)
		require.NoError(t, err)
		_, err = s.UpdateSuggestionStatus(ctx, ids[4], "", lifecycle.StatusPendingAction)
		require.NoError(t, err)

		feed, total, err := s.ListSuggestions(ctx, SuggestionFilter{PublicFeed: true, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, feed, 2)
		assert.Equal(t, "P3", feed[0].TrackingCode)
		assert.Equal(t, "P1", feed[1].TrackingCode)

		feedA, total, err := s.ListSuggestions(ctx, SuggestionFilter{PublicFeed: true, DepartmentID: &a.ID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, feedA, 2)

		pending, total, err := s.ListSuggestions(ctx, SuggestionFilter{View: lifecycle.ViewPending, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, pending, 1)
		assert.Equal(t, "P4", pending[0].TrackingCode)

		reviewed, total, err := s.ListSuggestions(ctx, SuggestionFilter{View: lifecycle.ViewReviewed, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, reviewed, 2)
		assert.Equal(t, "P2", reviewed[0].TrackingCode)
		assert.Equal(t, "P1", reviewed[1].TrackingCode)

		exact, total, err := s.ListSuggestions(ctx, SuggestionFilter{Status: lifecycle.StatusPendingAction, DepartmentID: &a.ID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, exact, 2)

		beyond, total, err := s.ListSuggestions(ctx, SuggestionFilter{Limit: 10, Offset: 50})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, beyond)
	})

	t.Run("concurrent upvotes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dept, err := s.CreateDepartment(ctx, "Votes")
		require.NoError(t, err)
		item, err := s.InsertSuggestion(ctx, Suggestion{TrackingCode: "VOTE1", Title: "t", Content: "c", DepartmentID: dept.ID})
		require.NoError(t, err)

		const voters = 40
		var wg sync.WaitGroup
		errs := make(chan error, voters)
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = s.Upvote(ctx, item.ID)
				} else {
					_, err = s.UpvoteByCode(ctx, "VOTE1")
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stored, err := s.GetSuggestion(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(voters), stored.Upvotes)

		_, err = s.Upvote(ctx, 999999)
		require.ErrorIs(t, err, sql.ErrNoRows)
		_, err = s.UpvoteByCode(ctx, "NOPE")
		require.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("bulk delete is all or nothing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dept, err := s.CreateDepartment(ctx, "Bulk")
		require.NoError(t, err)
		first, err := s.InsertSuggestion(ctx, Suggestion{TrackingCode: "DEL1", Title: "t", Content: "c", DepartmentID: dept.ID})
		require.NoError(t, err)
		second, err := s.InsertSuggestion(ctx, Suggestion{TrackingCode: "DEL2", Title: "t", Content: "c", DepartmentID: dept.ID})
		require.NoError(t, err)
		_, err = s.InsertReply(ctx, Reply{SuggestionID: first.ID, Content: "noted", ReplierName: "x"})
		require.NoError(t, err)

		refused := errors.New("refused")
		var seen map[int64]int64
		_, err = s.DeleteSuggestions(ctx, []int64{first.ID, second.ID, 999999}, func(found map[int64]int64) error {
			seen = found
			return refused
		})
		require.ErrorIs(t, err, refused)
		assert.Equal(t, map[int64]int64{first.ID: dept.ID, second.ID: dept.ID}, seen)

		_, err = s.GetSuggestion(ctx, first.ID)
		require.NoError(t, err, "guard failure must leave rows intact")

		deleted, err := s.DeleteSuggestions(ctx, []int64{first.ID, second.ID}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)
		_, err = s.GetSuggestionByCode(ctx, "DEL1")
		require.ErrorIs(t, err, sql.ErrNoRows)

		require.NoError(t, s.DeleteDepartment(ctx, dept.ID))
	})

	t.Run("dashboard counts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		a, err := s.CreateDepartment(ctx, "A")
		require.NoError(t, err)
		b, err := s.CreateDepartment(ctx, "B")
		require.NoError(t, err)

		one, err := s.InsertSuggestion(ctx, Suggestion{TrackingCode: "S1", Title: "t", Content: "c", DepartmentID: a.ID})
		require.NoError(t, err)
		_, err = s.InsertSuggestion(ctx, Suggestion{TrackingCode: "S2", Title: "t", Content: "c", DepartmentID: a.ID})
		require.NoError(t, err)
		_, err = s.InsertSuggestion(ctx, Suggestion{TrackingCode: "S3", Title: "t", Content: "c", DepartmentID: b.ID})
		require.NoError(t, err)
		_, err = s.UpdateSuggestionStatus(ctx, one.ID, "", lifecycle.StatusResolved)
		require.NoError(t, err)

		since := time.Now().Add(-7 * 24 * time.Hour)
		all, err := s.DashboardCounts(ctx, nil, since)
		require.NoError(t, err)
		assert.Equal(t, 3, all.Total)
		assert.Equal(t, 2, all.ByStatus[lifecycle.StatusPendingReview])
		assert.Equal(t, 1, all.ByStatus[lifecycle.StatusResolved])
		require.Len(t, all.ByDepartment, 2)
		assert.Equal(t, "A", all.ByDepartment[0].DepartmentName)
		assert.Equal(t, 2, all.ByDepartment[0].Count)

		newTotal, resolvedTotal := 0, 0
		for _, day := range all.Daily {
			newTotal += day.New
			resolvedTotal += day.Resolved
		}
		assert.Equal(t, 3, newTotal)
		assert.Equal(t, 1, resolvedTotal)

		onlyB, err := s.DashboardCounts(ctx, &b.ID, since)
		require.NoError(t, err)
		assert.Equal(t, 1, onlyB.Total)
		require.Len(t, onlyB.ByDepartment, 1)
		assert.Equal(t, b.ID, onlyB.ByDepartment[0].DepartmentID)
	})

	t.Run("token revocation", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)))
		require.NoError(t, s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)))
		revoked, err = s.IsAccessTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)

		require.NoError(t, s.RevokeAccessToken(ctx, "jti-old", time.Now().Add(-time.Minute)))
		revoked, err = s.IsAccessTokenRevoked(ctx, "jti-old")
		require.NoError(t, err)
		assert.False(t, revoked, "expired revocations no longer matter")
	})
}
