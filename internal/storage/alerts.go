package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/alert"
	"github.com/nodenexus/nodenexus/internal/secretcrypto"
)

// AlertRuleRepository is the C11 surface for AlertRule definitions.
type AlertRuleRepository interface {
	Create(ctx context.Context, r *alert.Rule) error
	Get(ctx context.Context, id string) (*alert.Rule, error)
	ListEnabled(ctx context.Context) ([]alert.Rule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]alert.Rule, error)
	Update(ctx context.Context, r *alert.Rule) error
	Delete(ctx context.Context, id string) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// SQLiteAlertRuleRepository implements AlertRuleRepository. NotificationTarget
// is encrypted at rest via cipher (spec's NOTIFICATION_ENCRYPTION_KEY).
type SQLiteAlertRuleRepository struct {
	db     *sql.DB
	cipher secretcrypto.Cipher
}

// NewSQLiteAlertRuleRepository constructs a repository bound to db. A nil
// cipher defaults to secretcrypto.NewNoop (values stored unencrypted).
func NewSQLiteAlertRuleRepository(db *sql.DB, cipher secretcrypto.Cipher) *SQLiteAlertRuleRepository {
	if cipher == nil {
		cipher = secretcrypto.NewNoop()
	}
	return &SQLiteAlertRuleRepository{db: db, cipher: cipher}
}

func (r *SQLiteAlertRuleRepository) Create(ctx context.Context, rule *alert.Rule) error {
	hostIDs, err := json.Marshal(hostIDList(rule.HostID))
	if err != nil {
		return Wrap("marshal alert host ids", err)
	}
	encryptedTarget, err := r.cipher.Encrypt(rule.NotificationTarget)
	if err != nil {
		return Wrap("encrypt notification target", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (
			id, owner_id, name, metric, comparator, threshold, duration_seconds, cooldown_seconds,
			host_ids, notification_target, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.OwnerID, rule.Name, string(rule.Metric), string(rule.Comparator), rule.Threshold,
		rule.DurationSeconds, rule.CooldownSeconds, string(hostIDs), encryptedTarget,
		boolToInt(rule.Active), now, now)
	if err != nil {
		return Wrap("insert alert rule", err)
	}
	return nil
}

func (r *SQLiteAlertRuleRepository) Get(ctx context.Context, id string) (*alert.Rule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, metric, comparator, threshold, duration_seconds, cooldown_seconds,
			host_ids, notification_target, enabled, last_triggered_at
		FROM alert_rules WHERE id = ?
	`, id)
	rule, err := scanAlertRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFound("alert rule not found: " + id)
		}
		return nil, Wrap("get alert rule", err)
	}
	if err := r.decrypt(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *SQLiteAlertRuleRepository) ListEnabled(ctx context.Context) ([]alert.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, metric, comparator, threshold, duration_seconds, cooldown_seconds,
			host_ids, notification_target, enabled, last_triggered_at
		FROM alert_rules WHERE enabled = 1
	`)
	if err != nil {
		return nil, Wrap("list enabled alert rules", err)
	}
	defer rows.Close()

	var out []alert.Rule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, Wrap("scan alert rule", err)
		}
		if err := r.decrypt(rule); err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// ListByOwner lists every rule (enabled or not) owned by ownerID, for the
// HTTP CRUD surface.
func (r *SQLiteAlertRuleRepository) ListByOwner(ctx context.Context, ownerID string) ([]alert.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, metric, comparator, threshold, duration_seconds, cooldown_seconds,
			host_ids, notification_target, enabled, last_triggered_at
		FROM alert_rules WHERE owner_id = ?
	`, ownerID)
	if err != nil {
		return nil, Wrap("list alert rules by owner", err)
	}
	defer rows.Close()

	var out []alert.Rule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, Wrap("scan alert rule", err)
		}
		if err := r.decrypt(rule); err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *SQLiteAlertRuleRepository) Update(ctx context.Context, rule *alert.Rule) error {
	hostIDs, err := json.Marshal(hostIDList(rule.HostID))
	if err != nil {
		return Wrap("marshal alert host ids", err)
	}
	encryptedTarget, err := r.cipher.Encrypt(rule.NotificationTarget)
	if err != nil {
		return Wrap("encrypt notification target", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			name = ?, metric = ?, comparator = ?, threshold = ?, duration_seconds = ?,
			cooldown_seconds = ?, host_ids = ?, notification_target = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, rule.Name, string(rule.Metric), string(rule.Comparator), rule.Threshold, rule.DurationSeconds,
		rule.CooldownSeconds, string(hostIDs), encryptedTarget, boolToInt(rule.Active),
		time.Now().UTC(), rule.ID)
	if err != nil {
		return Wrap("update alert rule", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("alert rule not found: " + rule.ID)
	}
	return nil
}

func (r *SQLiteAlertRuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return Wrap("delete alert rule", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("alert rule not found: " + id)
	}
	return nil
}

func (r *SQLiteAlertRuleRepository) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET last_triggered_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return Wrap("mark alert rule triggered", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("alert rule not found: " + id)
	}
	return nil
}

func scanAlertRule(row rowScanner) (*alert.Rule, error) {
	var (
		rule            alert.Rule
		hostIDsJSON     string
		enabled         int
		lastTriggeredAt sql.NullTime
	)
	if err := row.Scan(&rule.ID, &rule.OwnerID, &rule.Name, &rule.Metric, &rule.Comparator, &rule.Threshold,
		&rule.DurationSeconds, &rule.CooldownSeconds, &hostIDsJSON, &rule.NotificationTarget,
		&enabled, &lastTriggeredAt); err != nil {
		return nil, err
	}
	var hostIDs []string
	if err := json.Unmarshal([]byte(hostIDsJSON), &hostIDs); err == nil && len(hostIDs) > 0 {
		rule.HostID = hostIDs[0]
	}
	rule.Active = enabled != 0
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		rule.LastTriggeredAt = &t
	}
	return &rule, nil
}

func hostIDList(hostID string) []string {
	if hostID == "" {
		return []string{}
	}
	return []string{hostID}
}

func (r *SQLiteAlertRuleRepository) decrypt(rule *alert.Rule) error {
	plaintext, err := r.cipher.Decrypt(rule.NotificationTarget)
	if err != nil {
		return Wrap("decrypt notification target", err)
	}
	rule.NotificationTarget = plaintext
	return nil
}
