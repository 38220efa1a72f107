package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/logger"
	"suggestbox/api/internal/rbac"
	"suggestbox/api/internal/store"
	"suggestbox/api/internal/trackcode"
	"suggestbox/api/internal/visibility"
)

const (
	maxTitleLength    = 200
	maxContentLength  = 5000
	maxCategoryLength = 64
	maxSubmitterField = 100
	maxReplyLength    = 2000
)

type SubmitInput struct {
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	Category       string  `json:"category"`
	DepartmentID   int64   `json:"department_id"`
	SubmitterName  *string `json:"submitter_name"`
	SubmitterClass *string `json:"submitter_class"`
	IsPublic       bool    `json:"is_public"`
}

type SubmitResult struct {
	TrackingCode string `json:"tracking_code"`
}

type FeedQuery struct {
	Page         int
	PageSize     int
	DepartmentID *int64
}

type StaffQuery struct {
	Page         int
	PageSize     int
	View         lifecycle.View
	Status       lifecycle.Status
	DepartmentID *int64
}

type DeleteResult struct {
	Deleted int `json:"deleted"`
}

// pageWindow clamps paging input. Page numbers start at 1.
func (s *Service) pageWindow(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	if page-1 > math.MaxInt/pageSize {
		return page, pageSize, math.MaxInt
	}
	return page, pageSize, (page - 1) * pageSize
}

func checkLength(fields FieldErrors, field, value string, max int) {
	switch {
	case strings.ContainsRune(value, 0):
		fields[field] = "must not contain NUL characters"
	case utf8.RuneCountInString(value) > max:
		fields[field] = "is too long"
	}
}

func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (in SubmitInput) normalize() (store.Suggestion, *DomainError) {
	item := store.Suggestion{
		Title:          strings.TrimSpace(in.Title),
		Content:        strings.TrimSpace(in.Content),
		Category:       strings.TrimSpace(in.Category),
		DepartmentID:   in.DepartmentID,
		SubmitterName:  optionalText(in.SubmitterName),
		SubmitterClass: optionalText(in.SubmitterClass),
		IsPublic:       in.IsPublic,
	}

	fields := FieldErrors{}
	if item.Title == "" {
		fields["title"] = "is required"
	}
	if item.Content == "" {
		fields["content"] = "is required"
	}
	if item.DepartmentID <= 0 {
		fields["department_id"] = "is required"
	}
	checkLength(fields, "title", item.Title, maxTitleLength)
	checkLength(fields, "content", item.Content, maxContentLength)
	checkLength(fields, "category", item.Category, maxCategoryLength)
	if item.SubmitterName != nil {
		checkLength(fields, "submitter_name", *item.SubmitterName, maxSubmitterField)
	}
	if item.SubmitterClass != nil {
		checkLength(fields, "submitter_class", *item.SubmitterClass, maxSubmitterField)
	}
	if len(fields) > 0 {
		return store.Suggestion{}, validationError("invalid suggestion", fields)
	}
	return item, nil
}

// Submit stores a new suggestion under a fresh tracking code, retrying when
// the generated code is already taken.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (SubmitResult, error) {
	sc := logger.StartSpan(ctx, "app.submit")
	defer sc.End()
	ctx = sc.Context()

	item, verr := input.normalize()
	if verr != nil {
		return SubmitResult{}, verr
	}

	for attempt := 1; attempt <= s.cfg.TrackingCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			sc.RecordError(err)
			return SubmitResult{}, err
		}
		item.TrackingCode = code

		created, err := s.store.InsertSuggestion(ctx, item)
		switch {
		case err == nil:
			ctx = logger.WithLogFields(ctx, logger.LogFields{SuggestionID: logger.Ptr(created.ID)})
			slog.InfoContext(ctx, "suggestion submitted", "department_id", created.DepartmentID, "is_public", created.IsPublic)
			return SubmitResult{TrackingCode: created.TrackingCode}, nil
		case errors.Is(err, store.ErrTrackingCodeTaken):
			slog.WarnContext(ctx, "tracking code collision", "attempt", attempt)
			continue
		case errors.Is(err, store.ErrInvalidReference):
			return SubmitResult{}, fieldError("department_id", "does not exist")
		default:
			sc.RecordError(err)
			return SubmitResult{}, err
		}
	}

	slog.ErrorContext(ctx, "tracking codes exhausted", "attempts", s.cfg.TrackingCodeAttempts)
	return SubmitResult{}, conflict("TRACKING_CODE_EXHAUSTED", "could not allocate a unique tracking code", map[string]any{
		"attempts": s.cfg.TrackingCodeAttempts,
	})
}

// PublicFeed lists public suggestions that passed review, masked.
func (s *Service) PublicFeed(ctx context.Context, query FeedQuery) (visibility.Page[visibility.PublicSuggestion], error) {
	page, pageSize, offset := s.pageWindow(query.Page, query.PageSize)
	items, total, err := s.store.ListSuggestions(ctx, store.SuggestionFilter{
		PublicFeed:   true,
		DepartmentID: query.DepartmentID,
		Limit:        pageSize,
		Offset:       offset,
	})
	if err != nil {
		return visibility.Page[visibility.PublicSuggestion]{}, err
	}
	return visibility.Page[visibility.PublicSuggestion]{
		Data:     visibility.PublicList(items),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// LookupByCode serves the "query my suggestion" flow. Holding the code is the
// only credential, so any status and publication choice is returned, masked.
func (s *Service) LookupByCode(ctx context.Context, code string) (visibility.PublicSuggestion, error) {
	if !trackcode.Valid(code) {
		return visibility.PublicSuggestion{}, notFound("suggestion")
	}
	item, err := s.store.GetSuggestionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return visibility.PublicSuggestion{}, notFound("suggestion")
		}
		return visibility.PublicSuggestion{}, err
	}
	return visibility.Public(item), nil
}

// UpvoteByCode is open to anyone and has no per-voter de-duplication.
func (s *Service) UpvoteByCode(ctx context.Context, code string) (int64, error) {
	if !trackcode.Valid(code) {
		return 0, notFound("suggestion")
	}
	count, err := s.store.UpvoteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("suggestion")
		}
		return 0, err
	}
	return count, nil
}

func (s *Service) ListSuggestions(ctx context.Context, session Session, query StaffQuery) (visibility.Page[visibility.StaffSuggestion], error) {
	if !session.Can(rbac.ActionReadSuggestions) {
		return visibility.Page[visibility.StaffSuggestion]{}, forbidden("not allowed to read suggestions", nil)
	}
	page, pageSize, offset := s.pageWindow(query.Page, query.PageSize)
	empty := visibility.Page[visibility.StaffSuggestion]{
		Data:     make([]visibility.StaffSuggestion, 0),
		Page:     page,
		PageSize: pageSize,
	}

	scope := session.Scope()
	if scope.Empty() {
		return empty, nil
	}
	departmentID, err := scope.Narrow(query.DepartmentID)
	if err != nil {
		return empty, forbidden("department outside your scope", map[string]any{"department_id": *query.DepartmentID})
	}

	items, total, err := s.store.ListSuggestions(ctx, store.SuggestionFilter{
		View:         query.View,
		Status:       query.Status,
		DepartmentID: departmentID,
		Limit:        pageSize,
		Offset:       offset,
	})
	if err != nil {
		return empty, err
	}
	return visibility.Page[visibility.StaffSuggestion]{
		Data:     visibility.StaffList(items),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// loadScoped fetches a suggestion and enforces the action gate and the
// caller's department scope on it.
func (s *Service) loadScoped(ctx context.Context, session Session, id int64, action rbac.Action) (store.Suggestion, error) {
	if !session.Can(action) {
		return store.Suggestion{}, forbidden("not allowed", nil)
	}
	item, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Suggestion{}, notFound("suggestion")
		}
		return store.Suggestion{}, err
	}
	if !session.Scope().Allows(item.DepartmentID) {
		slog.WarnContext(ctx, "suggestion outside staff scope", "suggestion_id", id, "department_id", item.DepartmentID)
		return store.Suggestion{}, forbidden("suggestion outside your department scope", nil)
	}
	return item, nil
}

func (s *Service) GetSuggestion(ctx context.Context, session Session, id int64) (visibility.StaffSuggestion, error) {
	item, err := s.loadScoped(ctx, session, id, rbac.ActionReadSuggestions)
	if err != nil {
		return visibility.StaffSuggestion{}, err
	}
	return visibility.Staff(item), nil
}

func (s *Service) Approve(ctx context.Context, session Session, id int64) (visibility.StaffSuggestion, error) {
	return s.transition(ctx, session, id, lifecycle.EventApprove, "")
}

func (s *Service) Reject(ctx context.Context, session Session, id int64) (visibility.StaffSuggestion, error) {
	return s.transition(ctx, session, id, lifecycle.EventReject, "")
}

// SetStatus parses the requested status and applies it from any state.
func (s *Service) SetStatus(ctx context.Context, session Session, id int64, status string) (visibility.StaffSuggestion, error) {
	target, ok := lifecycle.ParseStatus(status)
	if !ok || target == lifecycle.StatusPendingReview {
		return visibility.StaffSuggestion{}, validationError("invalid status", FieldErrors{
			"status": "must be one of " + joinStatuses(lifecycle.Targets()),
		})
	}
	return s.transition(ctx, session, id, lifecycle.EventSetStatus, target)
}

func joinStatuses(statuses []lifecycle.Status) string {
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, string(status))
	}
	return strings.Join(parts, ", ")
}

func (s *Service) transition(ctx context.Context, session Session, id int64, event lifecycle.Event, target lifecycle.Status) (visibility.StaffSuggestion, error) {
	sc := logger.StartSpan(ctx, "app.transition")
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{SuggestionID: logger.Ptr(id)})

	item, err := s.loadScoped(ctx, session, id, rbac.ActionWriteSuggestions)
	if err != nil {
		return visibility.StaffSuggestion{}, err
	}

	next, err := lifecycle.Apply(event, item.Status, target)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTarget) {
			return visibility.StaffSuggestion{}, fieldError("status", "is not a valid target")
		}
		return visibility.StaffSuggestion{}, invalidTransition(event, item.Status)
	}

	// Review decisions only apply to a suggestion still waiting for review.
	var expected lifecycle.Status
	if event != lifecycle.EventSetStatus {
		expected = lifecycle.StatusPendingReview
	}
	updated, err := s.store.UpdateSuggestionStatus(ctx, id, expected, next)
	switch {
	case errors.Is(err, store.ErrStatusChanged):
		return visibility.StaffSuggestion{}, invalidTransition(event, item.Status)
	case errors.Is(err, sql.ErrNoRows):
		return visibility.StaffSuggestion{}, notFound("suggestion")
	case err != nil:
		sc.RecordError(err)
		return visibility.StaffSuggestion{}, err
	}

	slog.InfoContext(ctx, "suggestion status changed", "event", event, "from", item.Status, "to", updated.Status, "staff_id", session.StaffID)
	return visibility.Staff(updated), nil
}

func invalidTransition(event lifecycle.Event, from lifecycle.Status) *DomainError {
	return conflict("INVALID_TRANSITION", "cannot "+string(event)+" a suggestion in status "+string(from), map[string]any{
		"event": event,
		"from":  from,
	})
}

// Reply appends a staff reply. The author's username is copied onto the
// reply so the thread keeps it after the account is deleted.
func (s *Service) Reply(ctx context.Context, session Session, id int64, content string) (visibility.StaffSuggestion, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{SuggestionID: logger.Ptr(id)})
	content = strings.TrimSpace(content)
	if content == "" {
		return visibility.StaffSuggestion{}, fieldError("content", "is required")
	}
	fields := FieldErrors{}
	checkLength(fields, "content", content, maxReplyLength)
	if len(fields) > 0 {
		return visibility.StaffSuggestion{}, validationError("invalid reply", fields)
	}

	if _, err := s.loadScoped(ctx, session, id, rbac.ActionWriteSuggestions); err != nil {
		return visibility.StaffSuggestion{}, err
	}

	replierID := session.StaffID
	_, err := s.store.InsertReply(ctx, store.Reply{
		SuggestionID: id,
		Content:      content,
		ReplierID:    &replierID,
		ReplierName:  session.Username,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidReference) {
			return visibility.StaffSuggestion{}, notFound("suggestion")
		}
		return visibility.StaffSuggestion{}, err
	}
	slog.InfoContext(ctx, "reply added", "staff_id", session.StaffID)

	item, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return visibility.StaffSuggestion{}, notFound("suggestion")
		}
		return visibility.StaffSuggestion{}, err
	}
	return visibility.Staff(item), nil
}

// UpvoteByID is the staff console's upvote; it is scoped like any other read.
func (s *Service) UpvoteByID(ctx context.Context, session Session, id int64) (int64, error) {
	if _, err := s.loadScoped(ctx, session, id, rbac.ActionReadSuggestions); err != nil {
		return 0, err
	}
	count, err := s.store.Upvote(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("suggestion")
		}
		return 0, err
	}
	return count, nil
}

// DeleteSuggestions removes every id or none. Unknown ids fail with 404 and
// out-of-scope ids with 403, each listing the offending ids.
func (s *Service) DeleteSuggestions(ctx context.Context, session Session, ids []int64) (DeleteResult, error) {
	sc := logger.StartSpan(ctx, "app.delete_suggestions")
	defer sc.End()
	ctx = sc.Context()

	if !session.Can(rbac.ActionWriteSuggestions) {
		return DeleteResult{}, forbidden("not allowed to delete suggestions", nil)
	}
	unique, verr := uniqueIDs(ids)
	if verr != nil {
		return DeleteResult{}, verr
	}

	scope := session.Scope()
	deleted, err := s.store.DeleteSuggestions(ctx, unique, func(found map[int64]int64) error {
		missing := make([]int64, 0)
		outside := make([]int64, 0)
		for _, id := range unique {
			departmentID, ok := found[id]
			switch {
			case !ok:
				missing = append(missing, id)
			case !scope.Allows(departmentID):
				outside = append(outside, id)
			}
		}
		if len(missing) > 0 {
			return domainError(http.StatusNotFound, "NOT_FOUND", "some suggestions do not exist", map[string]any{"missing_ids": missing})
		}
		if len(outside) > 0 {
			return forbidden("some suggestions are outside your department scope", map[string]any{"forbidden_ids": outside})
		}
		return nil
	})
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			sc.RecordError(err)
		}
		return DeleteResult{}, err
	}

	slog.InfoContext(ctx, "suggestions deleted", "count", deleted, "staff_id", session.StaffID)
	return DeleteResult{Deleted: deleted}, nil
}

func uniqueIDs(ids []int64) ([]int64, *DomainError) {
	if len(ids) == 0 {
		return nil, fieldError("ids", "must not be empty")
	}
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fieldError("ids", "must be positive")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return unique, nil
}
