package app

import (
	"context"
	"math"
	"time"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/rbac"
	"suggestbox/api/internal/store"
)

const trendDays = 7

type DailyTrend struct {
	Date     string `json:"date"`
	New      int    `json:"new"`
	Resolved int    `json:"resolved"`
}

type DepartmentSuggestionCount struct {
	DepartmentID   int64  `json:"department_id"`
	DepartmentName string `json:"department_name"`
	Count          int    `json:"count"`
}

type DashboardStats struct {
	TotalSuggestions      int                         `json:"total_suggestions"`
	PendingSuggestions    int                         `json:"pending_suggestions"`
	ProcessingSuggestions int                         `json:"processing_suggestions"`
	ResolvedSuggestions   int                         `json:"resolved_suggestions"`
	ResolutionRate        float64                     `json:"resolution_rate"`
	ByStatus              map[lifecycle.Status]int    `json:"by_status"`
	WeeklyTrend           []DailyTrend                `json:"weekly_trend"`
	SuggestionsByDept     []DepartmentSuggestionCount `json:"suggestions_by_dept"`
}

// DashboardStats aggregates counts over the caller's department scope. The
// trend covers the last seven UTC days, today included, oldest first.
func (s *Service) DashboardStats(ctx context.Context, session Session) (DashboardStats, error) {
	if !session.Can(rbac.ActionReadDashboard) {
		return DashboardStats{}, forbidden("not allowed to read the dashboard", nil)
	}

	today := truncateDay(s.now())
	since := today.AddDate(0, 0, -(trendDays - 1))

	scope := session.Scope()
	counts := store.DashboardCounts{ByStatus: map[lifecycle.Status]int{}}
	if !scope.Empty() {
		var departmentID *int64
		if !scope.All {
			departmentID = scope.DepartmentID
		}
		var err error
		counts, err = s.store.DashboardCounts(ctx, departmentID, since)
		if err != nil {
			return DashboardStats{}, err
		}
	}
	return buildStats(counts, since), nil
}

func buildStats(counts store.DashboardCounts, since time.Time) DashboardStats {
	stats := DashboardStats{
		TotalSuggestions:      counts.Total,
		PendingSuggestions:    counts.ByStatus[lifecycle.StatusPendingReview],
		ProcessingSuggestions: counts.ByStatus[lifecycle.StatusInProgress],
		ResolvedSuggestions:   counts.ByStatus[lifecycle.StatusResolved],
		ByStatus:              make(map[lifecycle.Status]int, len(lifecycle.All())),
		WeeklyTrend:           make([]DailyTrend, 0, trendDays),
		SuggestionsByDept:     make([]DepartmentSuggestionCount, 0, len(counts.ByDepartment)),
	}
	if counts.Total > 0 {
		rate := float64(stats.ResolvedSuggestions) / float64(counts.Total) * 100
		stats.ResolutionRate = math.Round(rate*100) / 100
	}
	for _, status := range lifecycle.All() {
		stats.ByStatus[status] = counts.ByStatus[status]
	}

	byDay := make(map[time.Time]store.DailyCount, len(counts.Daily))
	for _, day := range counts.Daily {
		byDay[truncateDay(day.Day)] = day
	}
	for i := 0; i < trendDays; i++ {
		day := since.AddDate(0, 0, i)
		activity := byDay[day]
		stats.WeeklyTrend = append(stats.WeeklyTrend, DailyTrend{
			Date:     day.Format(time.DateOnly),
			New:      activity.New,
			Resolved: activity.Resolved,
		})
	}

	for _, item := range counts.ByDepartment {
		stats.SuggestionsByDept = append(stats.SuggestionsByDept, DepartmentSuggestionCount{
			DepartmentID:   item.DepartmentID,
			DepartmentName: item.DepartmentName,
			Count:          item.Count,
		})
	}
	return stats
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
