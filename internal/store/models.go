package store

import (
	"time"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/rbac"
)

type Department struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type StaffAccount struct {
	ID             int64
	Username       string
	PasswordHash   string
	Role           rbac.Role
	DepartmentID   *int64
	DepartmentName string
	CanViewAll     bool
	IsRoot         bool
	CreatedAt      time.Time
}

type Suggestion struct {
	ID             int64
	TrackingCode   string
	Title          string
	Content        string
	Category       string
	DepartmentID   int64
	DepartmentName string
	SubmitterName  *string
	SubmitterClass *string
	IsPublic       bool
	Upvotes        int64
	Status         lifecycle.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Replies        []Reply
}

type Reply struct {
	ID           int64
	SuggestionID int64
	Content      string
	// ReplierID is cleared when the staff account is deleted; ReplierName is
	// kept so the thread still shows who answered.
	ReplierID   *int64
	ReplierName string
	CreatedAt   time.Time
}

type SuggestionFilter struct {
	// PublicFeed limits results to public suggestions that passed review.
	PublicFeed   bool
	View         lifecycle.View
	Status       lifecycle.Status
	DepartmentID *int64
	Limit        int
	Offset       int
}

// Matches mirrors the SQL predicate of ListSuggestions for the memory store.
func (f SuggestionFilter) Matches(s Suggestion) bool {
	if f.PublicFeed && (!s.IsPublic || !s.Status.Publishable()) {
		return false
	}
	if !f.View.Matches(s.Status) {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.DepartmentID != nil && s.DepartmentID != *f.DepartmentID {
		return false
	}
	return true
}

type DepartmentCount struct {
	DepartmentID   int64
	DepartmentName string
	Count          int
}

type DailyCount struct {
	Day      time.Time
	New      int
	Resolved int
}

type DashboardCounts struct {
	Total        int
	ByStatus     map[lifecycle.Status]int
	ByDepartment []DepartmentCount
	Daily        []DailyCount
}
