// Package visibility shapes suggestions for the caller that reads them.
//
// Anyone outside the staff console sees a PublicSuggestion: no numeric ids
// and no submitter details, whatever the submitter's publication choice.
// Staff see a StaffSuggestion with every field.
package visibility

import (
	"time"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/store"
)

type PublicReply struct {
	Content     string    `json:"content"`
	ReplierName string    `json:"replier_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type PublicSuggestion struct {
	TrackingCode   string           `json:"tracking_code"`
	Title          string           `json:"title"`
	Content        string           `json:"content"`
	Category       string           `json:"category,omitempty"`
	DepartmentName string           `json:"department_name"`
	Status         lifecycle.Status `json:"status"`
	Upvotes        int64            `json:"upvotes"`
	CreatedAt      time.Time        `json:"created_at"`
	Replies        []PublicReply    `json:"replies"`
}

type StaffReply struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	ReplierID   *int64    `json:"replier_id"`
	ReplierName string    `json:"replier_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type StaffSuggestion struct {
	ID             int64            `json:"id"`
	TrackingCode   string           `json:"tracking_code"`
	Title          string           `json:"title"`
	Content        string           `json:"content"`
	Category       string           `json:"category"`
	DepartmentID   int64            `json:"department_id"`
	DepartmentName string           `json:"department_name"`
	SubmitterName  *string          `json:"submitter_name"`
	SubmitterClass *string          `json:"submitter_class"`
	IsPublic       bool             `json:"is_public"`
	Upvotes        int64            `json:"upvotes"`
	Status         lifecycle.Status `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Replies        []StaffReply     `json:"replies"`
}

// Public masks a suggestion for anonymous readers.
func Public(s store.Suggestion) PublicSuggestion {
	replies := make([]PublicReply, 0, len(s.Replies))
	for _, r := range s.Replies {
		replies = append(replies, PublicReply{
			Content:     r.Content,
			ReplierName: r.ReplierName,
			CreatedAt:   r.CreatedAt,
		})
	}
	return PublicSuggestion{
		TrackingCode:   s.TrackingCode,
		Title:          s.Title,
		Content:        s.Content,
		Category:       s.Category,
		DepartmentName: s.DepartmentName,
		Status:         s.Status,
		Upvotes:        s.Upvotes,
		CreatedAt:      s.CreatedAt,
		Replies:        replies,
	}
}

func Staff(s store.Suggestion) StaffSuggestion {
	replies := make([]StaffReply, 0, len(s.Replies))
	for _, r := range s.Replies {
		replies = append(replies, StaffReply{
			ID:          r.ID,
			Content:     r.Content,
			ReplierID:   r.ReplierID,
			ReplierName: r.ReplierName,
			CreatedAt:   r.CreatedAt,
		})
	}
	return StaffSuggestion{
		ID:             s.ID,
		TrackingCode:   s.TrackingCode,
		Title:          s.Title,
		Content:        s.Content,
		Category:       s.Category,
		DepartmentID:   s.DepartmentID,
		DepartmentName: s.DepartmentName,
		SubmitterName:  s.SubmitterName,
		SubmitterClass: s.SubmitterClass,
		IsPublic:       s.IsPublic,
		Upvotes:        s.Upvotes,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Replies:        replies,
	}
}

func PublicList(items []store.Suggestion) []PublicSuggestion {
	out := make([]PublicSuggestion, 0, len(items))
	for _, item := range items {
		out = append(out, Public(item))
	}
	return out
}

func StaffList(items []store.Suggestion) []StaffSuggestion {
	out := make([]StaffSuggestion, 0, len(items))
	for _, item := range items {
		out = append(out, Staff(item))
	}
	return out
}

// Page is the list envelope shared by the public feed and the staff console.
type Page[T any] struct {
	Data     []T `json:"data"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
