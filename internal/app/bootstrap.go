package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"suggestbox/api/internal/rbac"
	"suggestbox/api/internal/store"
)

type SeedStaff struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
	CanViewAll bool   `yaml:"can_view_all"`
}

type SeedData struct {
	Departments []string    `yaml:"departments"`
	Staff       []SeedStaff `yaml:"staff"`
}

type SeedReport struct {
	Departments int
	Staff       int
}

// LoadSeed reads a seed file. Unknown keys are rejected.
func LoadSeed(path string) (SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SeedData{}, fmt.Errorf("read seed file: %w", err)
	}
	var data SeedData
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&data); err != nil {
		return SeedData{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return data, nil
}

// Bootstrap creates the root super admin when no super admin exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountSuperAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if s.cfg.BootstrapAdminPassword == "" {
		slog.WarnContext(ctx, "no super admin exists and BOOTSTRAP_ADMIN_PASSWORD is empty, skipping bootstrap")
		return nil
	}

	hash, err := s.passwords.Hash(s.cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin password: %w", err)
	}
	root, err := s.store.CreateStaff(ctx, store.StaffAccount{
		Username:     s.cfg.BootstrapAdminUsername,
		PasswordHash: hash,
		Role:         rbac.RoleSuperAdmin,
		IsRoot:       true,
	})
	if err != nil {
		return fmt.Errorf("create root admin: %w", err)
	}
	slog.InfoContext(ctx, "root super admin created", "staff_id", root.ID, "username", root.Username)
	return nil
}

// Seed fills an empty departments table and adds seed accounts whose
// usernames are still free. Running it again is a no-op.
func (s *Service) Seed(ctx context.Context, data SeedData) (SeedReport, error) {
	var report SeedReport

	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		return report, err
	}
	if len(departments) == 0 {
		for _, name := range data.Departments {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			created, err := s.store.CreateDepartment(ctx, name)
			if err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					continue
				}
				return report, err
			}
			departments = append(departments, created)
			report.Departments++
		}
	}

	byName := make(map[string]int64, len(departments))
	for _, d := range departments {
		byName[d.Name] = d.ID
	}

	for _, seed := range data.Staff {
		if _, err := s.store.GetStaffByUsername(ctx, seed.Username); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return report, err
		}

		role, ok := rbac.Parse(seed.Role)
		if !ok {
			return report, fmt.Errorf("seed staff %s: unknown role %q", seed.Username, seed.Role)
		}
		account := store.StaffAccount{Username: seed.Username, Role: role, CanViewAll: seed.CanViewAll}
		if seed.Department != "" {
			id, ok := byName[seed.Department]
			if !ok {
				return report, fmt.Errorf("seed staff %s: unknown department %q", seed.Username, seed.Department)
			}
			account.DepartmentID = &id
		}
		fields := FieldErrors{}
		shapeAccount(&account, fields)
		if len(fields) > 0 {
			return report, fmt.Errorf("seed staff %s: %v", seed.Username, fields)
		}

		account.PasswordHash, err = s.passwords.Hash(seed.Password)
		if err != nil {
			return report, fmt.Errorf("seed staff %s: %w", seed.Username, err)
		}
		if _, err := s.store.CreateStaff(ctx, account); err != nil {
			return report, fmt.Errorf("seed staff %s: %w", seed.Username, err)
		}
		report.Staff++
	}

	slog.InfoContext(ctx, "seed applied", "departments", report.Departments, "staff", report.Staff)
	return report, nil
}
