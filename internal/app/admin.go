package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"suggestbox/api/internal/authpw"
	"suggestbox/api/internal/rbac"
	"suggestbox/api/internal/store"
)

const (
	maxDepartmentName = 100
	minUsernameLength = 3
	maxUsernameLength = 64
)

type DepartmentView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StaffView never carries the password hash.
type StaffView struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Role           rbac.Role `json:"role"`
	DepartmentID   *int64    `json:"department_id"`
	DepartmentName string    `json:"department_name,omitempty"`
	CanViewAll     bool      `json:"can_view_all"`
	IsRoot         bool      `json:"is_root"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

type CreateStaffInput struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id"`
	CanViewAll   bool   `json:"can_view_all"`
}

// UpdateStaffInput changes only the fields that are set.
type UpdateStaffInput struct {
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	Role         *string `json:"role"`
	DepartmentID *int64  `json:"department_id"`
	CanViewAll   *bool   `json:"can_view_all"`
}

func departmentView(d store.Department) DepartmentView {
	return DepartmentView{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt}
}

func staffView(a store.StaffAccount) StaffView {
	return StaffView{
		ID:             a.ID,
		Username:       a.Username,
		Role:           a.Role,
		DepartmentID:   a.DepartmentID,
		DepartmentName: a.DepartmentName,
		CanViewAll:     a.CanViewAll,
		IsRoot:         a.IsRoot,
		CreatedAt:      a.CreatedAt,
	}
}

// Me describes the calling staff account.
func (s *Service) Me(session Session) StaffView {
	return StaffView{
		ID:             session.StaffID,
		Username:       session.Username,
		Role:           session.Role,
		DepartmentID:   session.DepartmentID,
		DepartmentName: session.DepartmentName,
		CanViewAll:     session.CanViewAll,
		IsRoot:         session.IsRoot,
	}
}

// Departments

// ListDepartments is public; the submission form needs it.
func (s *Service) ListDepartments(ctx context.Context) ([]DepartmentView, error) {
	items, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]DepartmentView, 0, len(items))
	for _, item := range items {
		views = append(views, departmentView(item))
	}
	return views, nil
}

func departmentName(name string) (string, *DomainError) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fieldError("name", "is required")
	}
	fields := FieldErrors{}
	checkLength(fields, "name", name, maxDepartmentName)
	if len(fields) > 0 {
		return "", validationError("invalid department", fields)
	}
	return name, nil
}

func (s *Service) CreateDepartment(ctx context.Context, session Session, name string) (DepartmentView, error) {
	if !session.Can(rbac.ActionManageDepartments) {
		return DepartmentView{}, forbidden("only super admins manage departments", nil)
	}
	name, verr := departmentName(name)
	if verr != nil {
		return DepartmentView{}, verr
	}
	created, err := s.store.CreateDepartment(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return DepartmentView{}, conflict("DUPLICATE", "department name already exists", FieldErrors{"name": "already exists"})
		}
		return DepartmentView{}, err
	}
	slog.InfoContext(ctx, "department created", "department_id", created.ID, "staff_id", session.StaffID)
	return departmentView(created), nil
}

func (s *Service) RenameDepartment(ctx context.Context, session Session, id int64, name string) (DepartmentView, error) {
	if !session.Can(rbac.ActionManageDepartments) {
		return DepartmentView{}, forbidden("only super admins manage departments", nil)
	}
	name, verr := departmentName(name)
	if verr != nil {
		return DepartmentView{}, verr
	}
	renamed, err := s.store.RenameDepartment(ctx, id, name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return DepartmentView{}, notFound("department")
	case errors.Is(err, store.ErrDuplicate):
		return DepartmentView{}, conflict("DUPLICATE", "department name already exists", FieldErrors{"name": "already exists"})
	case err != nil:
		return DepartmentView{}, err
	}
	return departmentView(renamed), nil
}

// DeleteDepartment refuses while staff accounts or suggestions still
// reference the department.
func (s *Service) DeleteDepartment(ctx context.Context, session Session, id int64) error {
	if !session.Can(rbac.ActionManageDepartments) {
		return forbidden("only super admins manage departments", nil)
	}
	err := s.store.DeleteDepartment(ctx, id)
	var inUse *store.DepartmentInUseError
	switch {
	case err == nil:
		slog.InfoContext(ctx, "department deleted", "department_id", id, "staff_id", session.StaffID)
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return notFound("department")
	case errors.As(err, &inUse):
		return conflict("DEPARTMENT_IN_USE", "department is still referenced", map[string]any{
			"staff":       inUse.Staff,
			"suggestions": inUse.Suggestions,
		})
	default:
		return err
	}
}

// Staff accounts

func (s *Service) ListStaff(ctx context.Context, session Session) ([]StaffView, error) {
	if !session.Can(rbac.ActionManageStaff) {
		return nil, forbidden("only super admins manage staff accounts", nil)
	}
	accounts, err := s.store.ListStaff(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]StaffView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, staffView(account))
	}
	return views, nil
}

func validUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= minUsernameLength && n <= maxUsernameLength && !strings.ContainsAny(username, " \t\r\n\x00")
}

// shapeAccount applies the role rules: super admins never carry a
// department, admins always do.
func shapeAccount(account *store.StaffAccount, fields FieldErrors) {
	switch account.Role {
	case rbac.RoleSuperAdmin:
		account.DepartmentID = nil
		account.CanViewAll = false
	case rbac.RoleAdmin:
		if account.DepartmentID == nil {
			fields["department_id"] = "is required for admin accounts"
		}
	}
}

func (s *Service) CreateStaff(ctx context.Context, session Session, input CreateStaffInput) (StaffView, error) {
	if !session.Can(rbac.ActionManageStaff) {
		return StaffView{}, forbidden("only super admins manage staff accounts", nil)
	}

	fields := FieldErrors{}
	account := store.StaffAccount{
		Username:     strings.TrimSpace(input.Username),
		DepartmentID: input.DepartmentID,
		CanViewAll:   input.CanViewAll,
	}
	if !validUsername(account.Username) {
		fields["username"] = "must be 3 to 64 characters without spaces"
	}
	role, ok := rbac.Parse(strings.TrimSpace(input.Role))
	if !ok {
		fields["role"] = "must be admin or super_admin"
	}
	account.Role = role
	shapeAccount(&account, fields)

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		if !errors.Is(err, authpw.ErrWeakPassword) {
			return StaffView{}, err
		}
		fields["password"] = err.Error()
	}
	if len(fields) > 0 {
		return StaffView{}, validationError("invalid staff account", fields)
	}
	account.PasswordHash = hash

	created, err := s.store.CreateStaff(ctx, account)
	if err != nil {
		return StaffView{}, staffWriteError(err)
	}
	slog.InfoContext(ctx, "staff account created", "created_staff_id", created.ID, "role", created.Role, "staff_id", session.StaffID)
	return staffView(created), nil
}

func staffWriteError(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return conflict("DUPLICATE", "username already exists", FieldErrors{"username": "already exists"})
	case errors.Is(err, store.ErrInvalidReference):
		return fieldError("department_id", "does not exist")
	case errors.Is(err, sql.ErrNoRows):
		return notFound("staff account")
	default:
		return err
	}
}

func (s *Service) UpdateStaff(ctx context.Context, session Session, id int64, input UpdateStaffInput) (StaffView, error) {
	if !session.Can(rbac.ActionManageStaff) {
		return StaffView{}, forbidden("only super admins manage staff accounts", nil)
	}
	account, err := s.store.GetStaff(ctx, id)
	if err != nil {
		return StaffView{}, staffWriteError(err)
	}
	if account.IsRoot {
		return StaffView{}, forbidden("the root account cannot be modified", nil)
	}

	fields := FieldErrors{}
	if input.Username != nil {
		account.Username = strings.TrimSpace(*input.Username)
		if !validUsername(account.Username) {
			fields["username"] = "must be 3 to 64 characters without spaces"
		}
	}
	if input.Role != nil {
		role, ok := rbac.Parse(strings.TrimSpace(*input.Role))
		if !ok {
			fields["role"] = "must be admin or super_admin"
		} else {
			account.Role = role
		}
	}
	if input.DepartmentID != nil {
		account.DepartmentID = input.DepartmentID
	}
	if input.CanViewAll != nil {
		account.CanViewAll = *input.CanViewAll
	}
	shapeAccount(&account, fields)

	if input.Password != nil {
		hash, err := s.passwords.Hash(*input.Password)
		if err != nil {
			if !errors.Is(err, authpw.ErrWeakPassword) {
				return StaffView{}, err
			}
			fields["password"] = err.Error()
		}
		account.PasswordHash = hash
	}
	if len(fields) > 0 {
		return StaffView{}, validationError("invalid staff account", fields)
	}

	updated, err := s.store.UpdateStaff(ctx, account)
	if err != nil {
		return StaffView{}, staffWriteError(err)
	}
	slog.InfoContext(ctx, "staff account updated", "updated_staff_id", id, "staff_id", session.StaffID)
	return staffView(updated), nil
}

// DeleteStaff removes an account. Replies it wrote keep the author name.
func (s *Service) DeleteStaff(ctx context.Context, session Session, id int64) error {
	if !session.Can(rbac.ActionManageStaff) {
		return forbidden("only super admins manage staff accounts", nil)
	}
	if id == session.StaffID {
		return conflict("CONFLICT", "you cannot delete your own account", nil)
	}
	account, err := s.store.GetStaff(ctx, id)
	if err != nil {
		return staffWriteError(err)
	}
	if account.IsRoot {
		return forbidden("the root account cannot be deleted", nil)
	}
	if err := s.store.DeleteStaff(ctx, id); err != nil {
		return staffWriteError(err)
	}
	slog.InfoContext(ctx, "staff account deleted", "deleted_staff_id", id, "staff_id", session.StaffID)
	return nil
}
