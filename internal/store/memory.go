package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/rbac"
)

// MemoryStore is an in-process store with the same contract as
// PostgresStore, for local development and tests. Missing rows are reported
// as sql.ErrNoRows like the Postgres implementation.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	nextDepartmentID int64
	nextStaffID      int64
	nextSuggestionID int64
	nextReplyID      int64

	departments map[int64]Department
	staff       map[int64]StaffAccount
	suggestions map[int64]Suggestion
	byCode      map[string]int64
	replies     map[int64][]Reply
	revoked     map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		departments: make(map[int64]Department),
		staff:       make(map[int64]StaffAccount),
		suggestions: make(map[int64]Suggestion),
		byCode:      make(map[string]int64),
		replies:     make(map[int64][]Reply),
		revoked:     make(map[string]time.Time),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Departments

func (s *MemoryStore) ListDepartments(context.Context) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Department, 0, len(s.departments))
	for _, item := range s.departments {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetDepartment(_ context.Context, id int64) (Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.departments[id]
	if !ok {
		return Department{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *MemoryStore) CreateDepartment(_ context.Context, name string) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.departmentNameTaken(name, 0) {
		return Department{}, fmt.Errorf("insert department: %w: departments_name_key", ErrDuplicate)
	}
	s.nextDepartmentID++
	item := Department{ID: s.nextDepartmentID, Name: name, CreatedAt: s.now()}
	s.departments[item.ID] = item
	return item, nil
}

func (s *MemoryStore) RenameDepartment(_ context.Context, id int64, name string) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.departments[id]
	if !ok {
		return Department{}, sql.ErrNoRows
	}
	if s.departmentNameTaken(name, id) {
		return Department{}, fmt.Errorf("rename department: %w: departments_name_key", ErrDuplicate)
	}
	item.Name = name
	s.departments[id] = item
	return item, nil
}

func (s *MemoryStore) departmentNameTaken(name string, except int64) bool {
	for id, item := range s.departments {
		if id != except && item.Name == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) DeleteDepartment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.departments[id]; !ok {
		return sql.ErrNoRows
	}
	inUse := &DepartmentInUseError{DepartmentID: id}
	for _, account := range s.staff {
		if account.DepartmentID != nil && *account.DepartmentID == id {
			inUse.Staff++
		}
	}
	for _, item := range s.suggestions {
		if item.DepartmentID == id {
			inUse.Suggestions++
		}
	}
	if inUse.Staff > 0 || inUse.Suggestions > 0 {
		return inUse
	}
	delete(s.departments, id)
	return nil
}

// Staff accounts

func (s *MemoryStore) ListStaff(context.Context) ([]StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]StaffAccount, 0, len(s.staff))
	for _, account := range s.staff {
		items = append(items, s.withDepartmentName(account))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) GetStaff(_ context.Context, id int64) (StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.staff[id]
	if !ok {
		return StaffAccount{}, sql.ErrNoRows
	}
	return s.withDepartmentName(account), nil
}

func (s *MemoryStore) GetStaffByUsername(_ context.Context, username string) (StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.staff {
		if account.Username == username {
			return s.withDepartmentName(account), nil
		}
	}
	return StaffAccount{}, sql.ErrNoRows
}

func (s *MemoryStore) CreateStaff(_ context.Context, account StaffAccount) (StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStaff(account, 0); err != nil {
		return StaffAccount{}, fmt.Errorf("insert staff: %w", err)
	}
	s.nextStaffID++
	account.ID = s.nextStaffID
	account.DepartmentID = cloneInt64(account.DepartmentID)
	account.CreatedAt = s.now()
	account.DepartmentName = ""
	s.staff[account.ID] = account
	return s.withDepartmentName(account), nil
}

func (s *MemoryStore) UpdateStaff(_ context.Context, account StaffAccount) (StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.staff[account.ID]
	if !ok {
		return StaffAccount{}, sql.ErrNoRows
	}
	if err := s.checkStaff(account, account.ID); err != nil {
		return StaffAccount{}, fmt.Errorf("update staff: %w", err)
	}
	existing.Username = account.Username
	existing.PasswordHash = account.PasswordHash
	existing.Role = account.Role
	existing.DepartmentID = cloneInt64(account.DepartmentID)
	existing.CanViewAll = account.CanViewAll
	s.staff[existing.ID] = existing
	return s.withDepartmentName(existing), nil
}

func (s *MemoryStore) checkStaff(account StaffAccount, except int64) error {
	for id, other := range s.staff {
		if id != except && other.Username == account.Username {
			return fmt.Errorf("%w: staff_accounts_username_key", ErrDuplicate)
		}
	}
	if account.DepartmentID != nil {
		if _, ok := s.departments[*account.DepartmentID]; !ok {
			return fmt.Errorf("%w: staff_accounts_department_id_fkey", ErrInvalidReference)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteStaff(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.staff[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.staff, id)
	for suggestionID, thread := range s.replies {
		for i := range thread {
			if thread[i].ReplierID != nil && *thread[i].ReplierID == id {
				thread[i].ReplierID = nil
			}
		}
		s.replies[suggestionID] = thread
	}
	return nil
}

func (s *MemoryStore) CountSuperAdmins(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, account := range s.staff {
		if account.Role == rbac.RoleSuperAdmin {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) withDepartmentName(account StaffAccount) StaffAccount {
	account.DepartmentID = cloneInt64(account.DepartmentID)
	account.DepartmentName = ""
	if account.DepartmentID != nil {
		account.DepartmentName = s.departments[*account.DepartmentID].Name
	}
	return account
}

// Suggestions

func (s *MemoryStore) InsertSuggestion(_ context.Context, item Suggestion) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[item.TrackingCode]; taken {
		return Suggestion{}, fmt.Errorf("insert suggestion: %w", ErrTrackingCodeTaken)
	}
	if _, ok := s.departments[item.DepartmentID]; !ok {
		return Suggestion{}, fmt.Errorf("insert suggestion: %w: suggestions_department_id_fkey", ErrInvalidReference)
	}

	s.nextSuggestionID++
	now := s.now()
	item.ID = s.nextSuggestionID
	item.Status = lifecycle.Initial
	item.Upvotes = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	item.SubmitterName = cloneString(item.SubmitterName)
	item.SubmitterClass = cloneString(item.SubmitterClass)
	item.Replies = nil
	item.DepartmentName = ""
	s.suggestions[item.ID] = item
	s.byCode[item.TrackingCode] = item.ID
	return s.hydrate(item), nil
}

func (s *MemoryStore) GetSuggestion(_ context.Context, id int64) (Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.suggestions[id]
	if !ok {
		return Suggestion{}, sql.ErrNoRows
	}
	return s.hydrate(item), nil
}

func (s *MemoryStore) GetSuggestionByCode(_ context.Context, code string) (Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return Suggestion{}, sql.ErrNoRows
	}
	return s.hydrate(s.suggestions[id]), nil
}

func (s *MemoryStore) ListSuggestions(_ context.Context, filter SuggestionFilter) ([]Suggestion, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Suggestion, 0)
	for _, item := range s.suggestions {
		if filter.Matches(item) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit >= 0 {
		end = min(start+filter.Limit, total)
	}

	items := make([]Suggestion, 0, end-start)
	for _, item := range matched[start:end] {
		items = append(items, s.hydrate(item))
	}
	return items, total, nil
}

func (s *MemoryStore) UpdateSuggestionStatus(_ context.Context, id int64, expected, next lifecycle.Status) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.suggestions[id]
	if !ok {
		return Suggestion{}, sql.ErrNoRows
	}
	if expected != "" && item.Status != expected {
		return Suggestion{}, ErrStatusChanged
	}
	item.Status = next
	item.UpdatedAt = s.now()
	s.suggestions[id] = item
	return s.hydrate(item), nil
}

func (s *MemoryStore) InsertReply(_ context.Context, reply Reply) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suggestions[reply.SuggestionID]; !ok {
		return Reply{}, fmt.Errorf("insert reply: %w: replies_suggestion_id_fkey", ErrInvalidReference)
	}
	s.nextReplyID++
	reply.ID = s.nextReplyID
	reply.ReplierID = cloneInt64(reply.ReplierID)
	reply.CreatedAt = s.now()
	s.replies[reply.SuggestionID] = append(s.replies[reply.SuggestionID], reply)
	return reply, nil
}

func (s *MemoryStore) Upvote(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.suggestions[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	item.Upvotes++
	s.suggestions[id] = item
	return item.Upvotes, nil
}

func (s *MemoryStore) UpvoteByCode(ctx context.Context, code string) (int64, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return 0, sql.ErrNoRows
	}
	return s.Upvote(ctx, id)
}

func (s *MemoryStore) DeleteSuggestions(_ context.Context, ids []int64, guard func(found map[int64]int64) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if item, ok := s.suggestions[id]; ok {
			found[id] = item.DepartmentID
		}
	}
	if guard != nil {
		if err := guard(found); err != nil {
			return 0, err
		}
	}
	for id := range found {
		delete(s.byCode, s.suggestions[id].TrackingCode)
		delete(s.suggestions, id)
		delete(s.replies, id)
	}
	return len(found), nil
}

func (s *MemoryStore) DashboardCounts(_ context.Context, departmentID *int64, since time.Time) (DashboardCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := DashboardCounts{
		ByStatus:     make(map[lifecycle.Status]int),
		ByDepartment: make([]DepartmentCount, 0),
		Daily:        make([]DailyCount, 0),
	}
	perDepartment := make(map[int64]int)
	daily := make(map[time.Time]*DailyCount)
	bump := func(at time.Time) *DailyCount {
		day := truncateDay(at)
		if _, ok := daily[day]; !ok {
			daily[day] = &DailyCount{Day: day}
		}
		return daily[day]
	}

	for _, item := range s.suggestions {
		if departmentID != nil && item.DepartmentID != *departmentID {
			continue
		}
		counts.Total++
		counts.ByStatus[item.Status]++
		perDepartment[item.DepartmentID]++
		if !item.CreatedAt.Before(since) {
			bump(item.CreatedAt).New++
		}
		if item.Status == lifecycle.StatusResolved && !item.UpdatedAt.Before(since) {
			bump(item.UpdatedAt).Resolved++
		}
	}

	for id, department := range s.departments {
		if departmentID != nil && id != *departmentID {
			continue
		}
		counts.ByDepartment = append(counts.ByDepartment, DepartmentCount{
			DepartmentID:   id,
			DepartmentName: department.Name,
			Count:          perDepartment[id],
		})
	}
	sort.Slice(counts.ByDepartment, func(i, j int) bool {
		a, b := counts.ByDepartment[i], counts.ByDepartment[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.DepartmentName < b.DepartmentName
	})

	for _, day := range daily {
		counts.Daily = append(counts.Daily, *day)
	}
	sort.Slice(counts.Daily, func(i, j int) bool { return counts.Daily[i].Day.Before(counts.Daily[j].Day) })
	return counts, nil
}

// Access token revocation

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revoked[jti]; !ok {
		s.revoked[jti] = exp
	}
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.revoked[jti]
	return ok && exp.After(s.now()), nil
}

func (s *MemoryStore) hydrate(item Suggestion) Suggestion {
	item.DepartmentName = s.departments[item.DepartmentID].Name
	item.SubmitterName = cloneString(item.SubmitterName)
	item.SubmitterClass = cloneString(item.SubmitterClass)
	thread := s.replies[item.ID]
	item.Replies = make([]Reply, 0, len(thread))
	for _, reply := range thread {
		reply.ReplierID = cloneInt64(reply.ReplierID)
		item.Replies = append(item.Replies, reply)
	}
	return item
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
