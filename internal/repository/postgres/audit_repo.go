package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/spaceai-guardian-prototype/internal/audit"
)

// AuditRepo — durable-хранилище governance-вердиктов. Пишется только пачками
// из audit.Trail; ядро решений про Postgres не знает.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns, minConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 15
	}
	if minConns <= 0 || minConns > maxConns {
		minConns = maxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Ping проверяет соединение при старте (fail fast в main)
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch — пакетная вставка записей одним INSERT
func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице governance_audit
	numFields := 13
	placeholderStr := ""
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13)

		rules, _ := json.Marshal(rec.RulesTriggered)
		flags, _ := json.Marshal(rec.ComplianceFlags)
		tags, _ := json.Marshal(rec.Tags)

		vals = append(vals,
			rec.ID, rec.CorrelationID, rec.AgentID, rec.PlanID,
			rec.Decision, rec.DecidingRule, rules, flags, tags,
			rec.BypassActive, rec.DurationMs, rec.Timestamp, rec.Error,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO governance_audit (id, correlation_id, agent_id, plan_id, decision, deciding_rule, rules_triggered, compliance_flags, tags, bypass_active, duration_ms, timestamp, error) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// Close закрывает пул соединений
func (r *AuditRepo) Close() error {
	return r.db.Close()
}
