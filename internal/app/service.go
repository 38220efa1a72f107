package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"suggestbox/api/internal/auth"
	"suggestbox/api/internal/authpw"
	"suggestbox/api/internal/config"
	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/logger"
	"suggestbox/api/internal/rbac"
	"suggestbox/api/internal/store"
	"suggestbox/api/internal/trackcode"
)

// Store is the persistence surface the service needs. Both
// store.PostgresStore and store.MemoryStore satisfy it.
type Store interface {
	Ping(context.Context) error

	ListDepartments(context.Context) ([]store.Department, error)
	GetDepartment(context.Context, int64) (store.Department, error)
	CreateDepartment(context.Context, string) (store.Department, error)
	RenameDepartment(context.Context, int64, string) (store.Department, error)
	DeleteDepartment(context.Context, int64) error

	ListStaff(context.Context) ([]store.StaffAccount, error)
	GetStaff(context.Context, int64) (store.StaffAccount, error)
	GetStaffByUsername(context.Context, string) (store.StaffAccount, error)
	CreateStaff(context.Context, store.StaffAccount) (store.StaffAccount, error)
	UpdateStaff(context.Context, store.StaffAccount) (store.StaffAccount, error)
	DeleteStaff(context.Context, int64) error
	CountSuperAdmins(context.Context) (int, error)

	InsertSuggestion(context.Context, store.Suggestion) (store.Suggestion, error)
	GetSuggestion(context.Context, int64) (store.Suggestion, error)
	GetSuggestionByCode(context.Context, string) (store.Suggestion, error)
	ListSuggestions(context.Context, store.SuggestionFilter) ([]store.Suggestion, int, error)
	UpdateSuggestionStatus(ctx context.Context, id int64, expected, next lifecycle.Status) (store.Suggestion, error)
	InsertReply(context.Context, store.Reply) (store.Reply, error)
	Upvote(context.Context, int64) (int64, error)
	UpvoteByCode(context.Context, string) (int64, error)
	DeleteSuggestions(ctx context.Context, ids []int64, guard func(found map[int64]int64) error) (int, error)
	DashboardCounts(ctx context.Context, departmentID *int64, since time.Time) (store.DashboardCounts, error)

	Revocations
}

// Revocations tracks logged-out access tokens. Redis replaces the store's
// table when configured.
type Revocations interface {
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Session struct {
	Token          string
	StaffID        int64
	Username       string
	Role           rbac.Role
	DepartmentID   *int64
	DepartmentName string
	CanViewAll     bool
	IsRoot         bool
	JTI            string
	ExpiresAt      time.Time
}

// Scope is resolved from the stored account, not from token claims.
func (s Session) Scope() rbac.Scope {
	return rbac.ScopeFor(s.Role, s.DepartmentID, s.CanViewAll)
}

func (s Session) Can(action rbac.Action) bool {
	return rbac.Can(s.Role, action)
}

type Option func(*Service)

func WithRevocations(r Revocations) Option {
	return func(s *Service) { s.revocations = r }
}

func WithCodeGenerator(g trackcode.Generator) Option {
	return func(s *Service) { s.codes = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPasswordCost sets the bcrypt cost; tests use bcrypt.MinCost.
func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.passwords = authpw.NewServiceWithCost(s.store, cost) }
}

type Service struct {
	cfg         config.Config
	store       Store
	revocations Revocations
	passwords   *authpw.Service
	codes       trackcode.Generator
	now         func() time.Time
}

func New(cfg config.Config, dataStore Store, options ...Option) (*Service, error) {
	s := &Service{
		cfg:         cfg,
		store:       dataStore,
		revocations: dataStore,
		now:         time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.passwords == nil {
		s.passwords = authpw.NewService(dataStore)
	}
	if s.codes == nil {
		codes, err := trackcode.NewRandom(cfg.TrackingCodeLength)
		if err != nil {
			return nil, fmt.Errorf("tracking codes: %w", err)
		}
		s.codes = codes
	}
	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	sc := logger.StartSpan(ctx, "app.login")
	defer sc.End()
	ctx = sc.Context()

	account, err := s.passwords.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			slog.WarnContext(ctx, "staff login rejected")
			return Session{}, unauthenticated("invalid username or password")
		}
		sc.RecordError(err)
		return Session{}, err
	}
	return s.issueSession(ctx, account)
}

func (s *Service) issueSession(ctx context.Context, account store.StaffAccount) (Session, error) {
	claims := auth.NewClaims(account.ID, account.Username, string(account.Role), s.now(), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	slog.InfoContext(ctx, "staff session issued", "staff_id", account.ID, "role", account.Role)
	session := sessionFor(account)
	session.Token = token
	session.JTI = claims.ID
	session.ExpiresAt = claims.ExpiresAt.Time
	return session, nil
}

func sessionFor(account store.StaffAccount) Session {
	return Session{
		StaffID:        account.ID,
		Username:       account.Username,
		Role:           account.Role,
		DepartmentID:   account.DepartmentID,
		DepartmentName: account.DepartmentName,
		CanViewAll:     account.CanViewAll,
		IsRoot:         account.IsRoot,
	}
}

// SessionFromToken verifies a bearer token and reloads the account so role
// and department changes apply to tokens already issued.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return Session{}, unauthenticated("token expired")
		}
		return Session{}, unauthenticated("invalid token")
	}
	revoked, err := s.revocations.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, unauthenticated("token revoked")
	}

	staffID, _ := claims.StaffID()
	account, err := s.store.GetStaff(ctx, staffID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthenticated("account no longer exists")
		}
		return Session{}, err
	}

	session := sessionFor(account)
	session.Token = token
	session.JTI = claims.ID
	session.ExpiresAt = claims.ExpiresAt.Time
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	if err := s.revocations.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
		return err
	}
	slog.InfoContext(ctx, "staff session revoked", "staff_id", session.StaffID)
	return nil
}
