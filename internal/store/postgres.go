package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/rbac"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Departments

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM departments ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var item Department
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, id int64) (Department, error) {
	var item Department
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM departments WHERE id=$1`, id).
		Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Department{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateDepartment(ctx context.Context, name string) (Department, error) {
	var item Department
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (name) VALUES ($1)
		RETURNING id, name, created_at
	`, name).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Department{}, fmt.Errorf("insert department: %w", translate(err))
	}
	return item, nil
}

func (s *PostgresStore) RenameDepartment(ctx context.Context, id int64, name string) (Department, error) {
	var item Department
	err := s.db.QueryRowContext(ctx, `
		UPDATE departments SET name=$2 WHERE id=$1
		RETURNING id, name, created_at
	`, id, name).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Department{}, err
	}
	if err != nil {
		return Department{}, fmt.Errorf("rename department: %w", translate(err))
	}
	return item, nil
}

// DeleteDepartment refuses to delete a department still referenced by staff
// accounts or suggestions. The row is locked while references are counted.
func (s *PostgresStore) DeleteDepartment(ctx context.Context, id int64) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		var locked int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM departments WHERE id=$1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock department: %w", err)
		}

		inUse := &DepartmentInUseError{DepartmentID: id}
		if err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM staff_accounts WHERE department_id=$1),
				(SELECT COUNT(*) FROM suggestions WHERE department_id=$1)
		`, id).Scan(&inUse.Staff, &inUse.Suggestions); err != nil {
			return fmt.Errorf("count department references: %w", err)
		}
		if inUse.Staff > 0 || inUse.Suggestions > 0 {
			return inUse
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM departments WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete department: %w", translate(err))
		}
		return nil
	})
}

// Staff accounts

const staffSelect = `
	SELECT a.id, a.username, a.password_hash, a.role, a.department_id, COALESCE(d.name, ''),
	       a.can_view_all, a.is_root, a.created_at
	FROM staff_accounts a
	LEFT JOIN departments d ON d.id = a.department_id
`

func scanStaff(row rowScanner) (StaffAccount, error) {
	var item StaffAccount
	var role string
	var departmentID sql.NullInt64
	if err := row.Scan(&item.ID, &item.Username, &item.PasswordHash, &role, &departmentID, &item.DepartmentName,
		&item.CanViewAll, &item.IsRoot, &item.CreatedAt); err != nil {
		return StaffAccount{}, err
	}
	item.Role = rbac.Normalize(role)
	item.DepartmentID = nullInt64Ptr(departmentID)
	return item, nil
}

func (s *PostgresStore) ListStaff(ctx context.Context) ([]StaffAccount, error) {
	rows, err := s.db.QueryContext(ctx, staffSelect+` ORDER BY a.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	items := make([]StaffAccount, 0)
	for rows.Next() {
		item, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStaff(ctx context.Context, id int64) (StaffAccount, error) {
	return scanStaff(s.db.QueryRowContext(ctx, staffSelect+` WHERE a.id=$1`, id))
}

func (s *PostgresStore) GetStaffByUsername(ctx context.Context, username string) (StaffAccount, error) {
	return scanStaff(s.db.QueryRowContext(ctx, staffSelect+` WHERE a.username=$1`, username))
}

func (s *PostgresStore) CreateStaff(ctx context.Context, account StaffAccount) (StaffAccount, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO staff_accounts (username, password_hash, role, department_id, can_view_all, is_root)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, account.Username, account.PasswordHash, string(account.Role), account.DepartmentID, account.CanViewAll, account.IsRoot).Scan(&id)
	if err != nil {
		return StaffAccount{}, fmt.Errorf("insert staff: %w", translate(err))
	}
	return s.GetStaff(ctx, id)
}

// UpdateStaff overwrites the mutable account fields. is_root is never changed.
func (s *PostgresStore) UpdateStaff(ctx context.Context, account StaffAccount) (StaffAccount, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE staff_accounts
		SET username=$2, password_hash=$3, role=$4, department_id=$5, can_view_all=$6
		WHERE id=$1
	`, account.ID, account.Username, account.PasswordHash, string(account.Role), account.DepartmentID, account.CanViewAll)
	if err != nil {
		return StaffAccount{}, fmt.Errorf("update staff: %w", translate(err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return StaffAccount{}, sql.ErrNoRows
	}
	return s.GetStaff(ctx, account.ID)
}

func (s *PostgresStore) DeleteStaff(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM staff_accounts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete staff: %w", translate(err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountSuperAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff_accounts WHERE role='super_admin'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count super admins: %w", err)
	}
	return count, nil
}

// Suggestions

const suggestionSelect = `
	SELECT s.id, s.tracking_code, s.title, s.content, s.category, s.department_id, d.name,
	       s.submitter_name, s.submitter_class, s.is_public, s.upvotes, s.status, s.created_at, s.updated_at
	FROM suggestions s
	JOIN departments d ON d.id = s.department_id
`

// suggestionFilterWhere takes $1 public feed, $2 view, $3 exact status,
// $4 department id.
const suggestionFilterWhere = `
	WHERE ($1::boolean IS FALSE OR (s.is_public AND s.status NOT IN ('PENDING_REVIEW', 'REJECTED_BY_REVIEW')))
	  AND ($2::text = '' OR ($2 = 'pending' AND s.status = 'PENDING_REVIEW') OR ($2 = 'other' AND s.status <> 'PENDING_REVIEW'))
	  AND ($3::text = '' OR s.status = $3)
	  AND ($4::bigint IS NULL OR s.department_id = $4)
`

func scanSuggestion(row rowScanner) (Suggestion, error) {
	var item Suggestion
	var name, class sql.NullString
	var status string
	if err := row.Scan(&item.ID, &item.TrackingCode, &item.Title, &item.Content, &item.Category, &item.DepartmentID, &item.DepartmentName,
		&name, &class, &item.IsPublic, &item.Upvotes, &status, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Suggestion{}, err
	}
	item.SubmitterName = nullStringPtr(name)
	item.SubmitterClass = nullStringPtr(class)
	item.Status = lifecycle.Status(status)
	item.Replies = make([]Reply, 0)
	return item, nil
}

// InsertSuggestion stores a new suggestion. A tracking code collision is
// reported as ErrTrackingCodeTaken so the caller can retry with a fresh code.
func (s *PostgresStore) InsertSuggestion(ctx context.Context, item Suggestion) (Suggestion, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO suggestions (tracking_code, title, content, category, department_id, submitter_name, submitter_class, is_public, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, item.TrackingCode, item.Title, item.Content, item.Category, item.DepartmentID,
		item.SubmitterName, item.SubmitterClass, item.IsPublic, string(lifecycle.Initial)).Scan(&id)
	if err != nil {
		return Suggestion{}, fmt.Errorf("insert suggestion: %w", translate(err))
	}
	return s.GetSuggestion(ctx, id)
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, id int64) (Suggestion, error) {
	return s.getSuggestion(ctx, suggestionSelect+` WHERE s.id=$1`, id)
}

func (s *PostgresStore) GetSuggestionByCode(ctx context.Context, code string) (Suggestion, error) {
	return s.getSuggestion(ctx, suggestionSelect+` WHERE s.tracking_code=$1`, code)
}

func (s *PostgresStore) getSuggestion(ctx context.Context, query string, arg any) (Suggestion, error) {
	item, err := scanSuggestion(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Suggestion{}, err
		}
		return Suggestion{}, fmt.Errorf("get suggestion: %w", err)
	}
	replies, err := loadReplies(ctx, s.db, []int64{item.ID})
	if err != nil {
		return Suggestion{}, err
	}
	if thread, ok := replies[item.ID]; ok {
		item.Replies = thread
	}
	return item, nil
}

// ListSuggestions returns one page, newest first, and the filtered total.
func (s *PostgresStore) ListSuggestions(ctx context.Context, filter SuggestionFilter) ([]Suggestion, int, error) {
	args := []any{filter.PublicFeed, string(filter.View), string(filter.Status), filter.DepartmentID}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestions s`+suggestionFilterWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suggestions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, suggestionSelect+suggestionFilterWhere+`
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $5 OFFSET $6
	`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]Suggestion, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		item, err := scanSuggestion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan suggestion: %w", err)
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate suggestions: %w", err)
	}

	if len(ids) > 0 {
		replies, err := loadReplies(ctx, s.db, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range items {
			if thread, ok := replies[items[i].ID]; ok {
				items[i].Replies = thread
			}
		}
	}
	return items, total, nil
}

func loadReplies(ctx context.Context, q queryer, suggestionIDs []int64) (map[int64][]Reply, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, suggestion_id, content, replier_id, replier_name, created_at
		FROM replies
		WHERE suggestion_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, suggestionIDs)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	threads := make(map[int64][]Reply)
	for rows.Next() {
		var item Reply
		var replierID sql.NullInt64
		if err := rows.Scan(&item.ID, &item.SuggestionID, &item.Content, &replierID, &item.ReplierName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		item.ReplierID = nullInt64Ptr(replierID)
		threads[item.SuggestionID] = append(threads[item.SuggestionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return threads, nil
}

// UpdateSuggestionStatus sets next. When expected is non-empty the update only
// applies if the stored status still equals expected; otherwise
// ErrStatusChanged is returned.
func (s *PostgresStore) UpdateSuggestionStatus(ctx context.Context, id int64, expected, next lifecycle.Status) (Suggestion, error) {
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE suggestions SET status=$2, updated_at=NOW()
		WHERE id=$1 AND ($3::text = '' OR status=$3)
		RETURNING id
	`, id, string(next), string(expected)).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM suggestions WHERE id=$1)`, id).Scan(&exists); err != nil {
			return Suggestion{}, fmt.Errorf("check suggestion: %w", err)
		}
		if exists {
			return Suggestion{}, ErrStatusChanged
		}
		return Suggestion{}, sql.ErrNoRows
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("update suggestion status: %w", translate(err))
	}
	return s.GetSuggestion(ctx, id)
}

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) (Reply, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO replies (suggestion_id, content, replier_id, replier_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, reply.SuggestionID, reply.Content, reply.ReplierID, reply.ReplierName).Scan(&reply.ID, &reply.CreatedAt)
	if err != nil {
		return Reply{}, fmt.Errorf("insert reply: %w", translate(err))
	}
	return reply, nil
}

// Upvote increments in a single statement so concurrent votes never race.
func (s *PostgresStore) Upvote(ctx context.Context, id int64) (int64, error) {
	var upvotes int64
	err := s.db.QueryRowContext(ctx, `UPDATE suggestions SET upvotes = upvotes + 1 WHERE id=$1 RETURNING upvotes`, id).Scan(&upvotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("upvote suggestion: %w", err)
	}
	return upvotes, nil
}

func (s *PostgresStore) UpvoteByCode(ctx context.Context, code string) (int64, error) {
	var upvotes int64
	err := s.db.QueryRowContext(ctx, `UPDATE suggestions SET upvotes = upvotes + 1 WHERE tracking_code=$1 RETURNING upvotes`, code).Scan(&upvotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("upvote suggestion: %w", err)
	}
	return upvotes, nil
}

// DeleteSuggestions locks every requested row, hands the found id to
// department map to guard, and deletes all of them only if guard returns nil.
// Replies go with their suggestion.
func (s *PostgresStore) DeleteSuggestions(ctx context.Context, ids []int64, guard func(found map[int64]int64) error) (int, error) {
	var deleted int
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, department_id FROM suggestions WHERE id = ANY($1) FOR UPDATE`, ids)
		if err != nil {
			return fmt.Errorf("lock suggestions: %w", err)
		}
		found := make(map[int64]int64, len(ids))
		for rows.Next() {
			var id, departmentID int64
			if err := rows.Scan(&id, &departmentID); err != nil {
				rows.Close()
				return fmt.Errorf("scan suggestion: %w", err)
			}
			found[id] = departmentID
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate suggestions: %w", err)
		}
		rows.Close()

		if guard != nil {
			if err := guard(found); err != nil {
				return err
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("delete suggestions: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete suggestions: %w", err)
		}
		deleted = int(affected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DashboardCounts aggregates suggestion counts, optionally for one department.
// Daily holds only days with activity since the given time.
func (s *PostgresStore) DashboardCounts(ctx context.Context, departmentID *int64, since time.Time) (DashboardCounts, error) {
	counts := DashboardCounts{
		ByStatus:     make(map[lifecycle.Status]int),
		ByDepartment: make([]DepartmentCount, 0),
		Daily:        make([]DailyCount, 0),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM suggestions
		WHERE ($1::bigint IS NULL OR department_id=$1)
		GROUP BY status
	`, departmentID)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return DashboardCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		counts.ByStatus[lifecycle.Status(status)] = count
		counts.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return DashboardCounts{}, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT d.id, d.name, COUNT(s.id)
		FROM departments d
		LEFT JOIN suggestions s ON s.department_id = d.id
		WHERE ($1::bigint IS NULL OR d.id=$1)
		GROUP BY d.id, d.name
		ORDER BY COUNT(s.id) DESC, d.name ASC
	`, departmentID)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("count by department: %w", err)
	}
	for rows.Next() {
		var item DepartmentCount
		if err := rows.Scan(&item.DepartmentID, &item.DepartmentName, &item.Count); err != nil {
			rows.Close()
			return DashboardCounts{}, fmt.Errorf("scan department count: %w", err)
		}
		counts.ByDepartment = append(counts.ByDepartment, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return DashboardCounts{}, fmt.Errorf("iterate department counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT day, SUM(created), SUM(resolved) FROM (
			SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, 1 AS created, 0 AS resolved
			FROM suggestions
			WHERE created_at >= $2 AND ($1::bigint IS NULL OR department_id=$1)
			UNION ALL
			SELECT date_trunc('day', updated_at AT TIME ZONE 'UTC') AS day, 0, 1
			FROM suggestions
			WHERE status='RESOLVED' AND updated_at >= $2 AND ($1::bigint IS NULL OR department_id=$1)
		) activity
		GROUP BY day
		ORDER BY day ASC
	`, departmentID, since)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("count daily activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item DailyCount
		if err := rows.Scan(&item.Day, &item.New, &item.Resolved); err != nil {
			return DashboardCounts{}, fmt.Errorf("scan daily activity: %w", err)
		}
		item.Day = time.Date(item.Day.Year(), item.Day.Month(), item.Day.Day(), 0, 0, 0, 0, time.UTC)
		counts.Daily = append(counts.Daily, item)
	}
	if err := rows.Err(); err != nil {
		return DashboardCounts{}, fmt.Errorf("iterate daily activity: %w", err)
	}
	return counts, nil
}

// Access token revocation, used when Redis is not configured.

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) PurgeExpiredRevocations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_access_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}
