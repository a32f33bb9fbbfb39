package storage

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/nodenexus/nodenexus/internal/domain/host"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HostRepository is the C1 surface for the Host entity.
type HostRepository interface {
	Create(ctx context.Context, h *host.Host) error
	Get(ctx context.Context, id string) (*host.Host, error)
	List(ctx context.Context, ownerID string) ([]*host.Host, error)
	Update(ctx context.Context, h *host.Host) error
	Delete(ctx context.Context, id string) error

	// AllHostIDs returns every host ID, for the broadcast fabric's rebuild
	// step (C5).
	AllHostIDs(ctx context.Context) ([]string, error)

	// DueTrafficReset returns hosts whose NextTrafficResetAt has passed.
	DueTrafficReset(ctx context.Context, now time.Time) ([]*host.Host, error)
	// DueRenewalReminder returns hosts needing a reminder armed.
	DueRenewalReminder(ctx context.Context, now time.Time) ([]*host.Host, error)
	// DueAutoRenewal returns hosts whose auto-renewal is due.
	DueAutoRenewal(ctx context.Context, now time.Time) ([]*host.Host, error)
}

// SQLiteHostRepository implements HostRepository over the embedded store.
type SQLiteHostRepository struct {
	db *sql.DB
}

// NewSQLiteHostRepository constructs a repository bound to db.
func NewSQLiteHostRepository(db *sql.DB) *SQLiteHostRepository {
	return &SQLiteHostRepository{db: db}
}

func (r *SQLiteHostRepository) Create(ctx context.Context, h *host.Host) error {
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	metadataJSON, err := json.Marshal(h.Metadata)
	if err != nil {
		return Wrap("marshal host metadata", err)
	}
	tagsJSON, err := json.Marshal(h.Tags)
	if err != nil {
		return Wrap("marshal host tags", err)
	}
	ipsJSON, err := json.Marshal(h.PublicIPAddresses)
	if err != nil {
		return Wrap("marshal host ips", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO hosts (
			id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			reminder_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.OwnerID, h.Name, h.AgentSecret, h.NewAgentSecret, string(metadataJSON), h.GroupName, string(tagsJSON),
		boolToInt(h.Status == host.StatusOnline), h.TrafficLimitBytes, h.TrafficCurrentCycleRxBytes+h.TrafficCurrentCycleTxBytes,
		h.TrafficCycleDayOfMonth, boolToInt(h.ReminderActive), h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return Wrap("insert host", err)
	}
	_ = ipsJSON // public IPs are tracked in metadata today; reserved column for a future migration
	return nil
}

func (r *SQLiteHostRepository) Get(ctx context.Context, id string) (*host.Host, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, last_seen_at, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			traffic_reset_at, renewal_due_at, reminder_active, created_at, updated_at
		FROM hosts WHERE id = ?
	`, id)
	h, err := scanHost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFound("host not found: " + id)
		}
		return nil, Wrap("get host", err)
	}
	return h, nil
}

func (r *SQLiteHostRepository) List(ctx context.Context, ownerID string) ([]*host.Host, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, last_seen_at, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			traffic_reset_at, renewal_due_at, reminder_active, created_at, updated_at
		FROM hosts WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, Wrap("list hosts", err)
	}
	defer rows.Close()
	return scanHostRows(rows)
}

// AllHostIDs returns every host ID regardless of owner.
func (r *SQLiteHostRepository) AllHostIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM hosts`)
	if err != nil {
		return nil, Wrap("list all host ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Wrap("scan host id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *SQLiteHostRepository) Update(ctx context.Context, h *host.Host) error {
	h.UpdatedAt = time.Now().UTC()
	metadataJSON, err := json.Marshal(h.Metadata)
	if err != nil {
		return Wrap("marshal host metadata", err)
	}
	tagsJSON, err := json.Marshal(h.Tags)
	if err != nil {
		return Wrap("marshal host tags", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE hosts SET
			owner_id = ?, name = ?, agent_secret_hash = ?, new_agent_secret = ?, metadata = ?, group_name = ?, tags = ?,
			is_online = ?, last_seen_at = ?, traffic_limit_bytes = ?, traffic_used_bytes = ?,
			traffic_cycle_day = ?, traffic_reset_at = ?, renewal_due_at = ?, reminder_active = ?, updated_at = ?
		WHERE id = ?
	`, h.OwnerID, h.Name, h.AgentSecret, h.NewAgentSecret, string(metadataJSON), h.GroupName, string(tagsJSON),
		boolToInt(h.Status == host.StatusOnline), nullableTime(lastSeenFrom(h)),
		h.TrafficLimitBytes, h.TrafficCurrentCycleRxBytes+h.TrafficCurrentCycleTxBytes, h.TrafficCycleDayOfMonth,
		nullableTime(h.NextTrafficResetAt), nullableTime(h.NextRenewalDate), boolToInt(h.ReminderActive),
		h.UpdatedAt, h.ID)
	if err != nil {
		return Wrap("update host", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("host not found: " + h.ID)
	}
	return nil
}

func (r *SQLiteHostRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return Wrap("delete host", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("host not found: " + id)
	}
	return nil
}

func (r *SQLiteHostRepository) DueTrafficReset(ctx context.Context, now time.Time) ([]*host.Host, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, last_seen_at, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			traffic_reset_at, renewal_due_at, reminder_active, created_at, updated_at
		FROM hosts WHERE traffic_reset_at IS NOT NULL AND traffic_reset_at <= ?
	`, now)
	if err != nil {
		return nil, Wrap("query due traffic reset", err)
	}
	defer rows.Close()
	return scanHostRows(rows)
}

func (r *SQLiteHostRepository) DueRenewalReminder(ctx context.Context, now time.Time) ([]*host.Host, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, last_seen_at, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			traffic_reset_at, renewal_due_at, reminder_active, created_at, updated_at
		FROM hosts WHERE renewal_due_at IS NOT NULL AND renewal_due_at <= ? AND reminder_active = 0
	`, now.AddDate(0, 0, 7))
	if err != nil {
		return nil, Wrap("query due renewal reminder", err)
	}
	defer rows.Close()
	return scanHostRows(rows)
}

func (r *SQLiteHostRepository) DueAutoRenewal(ctx context.Context, now time.Time) ([]*host.Host, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, agent_secret_hash, new_agent_secret, metadata, group_name, tags,
			is_online, last_seen_at, traffic_limit_bytes, traffic_used_bytes, traffic_cycle_day,
			traffic_reset_at, renewal_due_at, reminder_active, created_at, updated_at
		FROM hosts WHERE renewal_due_at IS NOT NULL AND renewal_due_at <= ?
	`, now)
	if err != nil {
		return nil, Wrap("query due auto renewal", err)
	}
	defer rows.Close()
	return scanHostRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*host.Host, error) {
	var (
		h              host.Host
		metadataJSON   string
		tagsJSON       string
		isOnline       int
		lastSeenAt     sql.NullTime
		trafficUsed    uint64
		trafficResetAt sql.NullTime
		renewalDueAt   sql.NullTime
		reminderActive int
	)
	if err := row.Scan(&h.ID, &h.OwnerID, &h.Name, &h.AgentSecret, &h.NewAgentSecret, &metadataJSON, &h.GroupName, &tagsJSON,
		&isOnline, &lastSeenAt, &h.TrafficLimitBytes, &trafficUsed, &h.TrafficCycleDayOfMonth,
		&trafficResetAt, &renewalDueAt, &reminderActive, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadataJSON), &h.Metadata); err != nil {
		h.Metadata = map[string]any{}
	}
	if err := json.Unmarshal([]byte(tagsJSON), &h.Tags); err != nil {
		h.Tags = nil
	}
	h.TrafficCurrentCycleRxBytes = trafficUsed
	h.ReminderActive = reminderActive != 0
	if lastSeenAt.Valid {
		h.Status = host.StatusOnline
	} else {
		h.Status = host.StatusPending
	}
	if isOnline == 0 && lastSeenAt.Valid {
		h.Status = host.StatusOffline
	}
	if trafficResetAt.Valid {
		t := trafficResetAt.Time
		h.NextTrafficResetAt = &t
	}
	if renewalDueAt.Valid {
		t := renewalDueAt.Time
		h.NextRenewalDate = &t
	}
	return &h, nil
}

func scanHostRows(rows *sql.Rows) ([]*host.Host, error) {
	var out []*host.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, Wrap("scan host", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func lastSeenFrom(h *host.Host) *time.Time {
	if h.Status == host.StatusOnline || h.Status == host.StatusOffline {
		return &h.UpdatedAt
	}
	return nil
}
