// ABOUTME: Audit log entity and store methods for tracking action authorization decisions
// ABOUTME: Records who tried to run or approve which action and what was decided

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable request.
type AuditAction string

const (
	AuditTriggerAction           AuditAction = "trigger_action"
	AuditApproveAction           AuditAction = "approve_action"
	AuditRequestActionParameters AuditAction = "request_action_parameters"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditTriggerAction,
	AuditApproveAction,
	AuditRequestActionParameters,
}

// AuditOutcome is the decision taken for an audited request.
type AuditOutcome string

const (
	AuditOutcomeAllowed          AuditOutcome = "allowed"
	AuditOutcomeDenied           AuditOutcome = "denied"
	AuditOutcomeRequiresApproval AuditOutcome = "requires_approval"
	AuditOutcomeError            AuditOutcome = "error"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string         // UUID v4
	ActorUserID  int            // who made the request
	Action       AuditAction    // what was requested
	Collection   string         // collection holding the custom action
	CustomAction string         // custom action name
	Outcome      AuditOutcome   // what was decided
	Timestamp    time.Time      // when it happened
	Detail       map[string]any // additional context (error name, approver roles, ...)
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since       *time.Time    // entries after this time
	Until       *time.Time    // entries before this time
	ActorUserID *int          // filter by actor
	Action      *AuditAction  // filter by action type
	Collection  *string       // filter by collection
	Outcome     *AuditOutcome // filter by outcome
	Limit       int           // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor_user_id, action, collection, custom_action, outcome, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ActorUserID,
		e.Action,
		e.Collection,
		e.CustomAction,
		e.Outcome,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorUserID,
		"action", e.Action,
		"target", e.Collection+"/"+e.CustomAction,
		"outcome", e.Outcome,
	)
	return nil
}

// prepareAuditEntry fills in a missing ID and timestamp.
func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// auditQueryArgs builds the query arguments from an AuditFilter.
type auditQueryArgs struct {
	sinceStr   *string
	untilStr   *string
	actionStr  *string
	outcomeStr *string
}

// buildAuditQueryArgs converts filter time/enum fields to query args.
func buildAuditQueryArgs(f AuditFilter) auditQueryArgs {
	var args auditQueryArgs
	if f.Since != nil {
		s := formatTime(*f.Since)
		args.sinceStr = &s
	}
	if f.Until != nil {
		s := formatTime(*f.Until)
		args.untilStr = &s
	}
	if f.Action != nil {
		a := string(*f.Action)
		args.actionStr = &a
	}
	if f.Outcome != nil {
		o := string(*f.Outcome)
		args.outcomeStr = &o
	}
	return args
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, outcomeStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.ActorUserID,
		&actionStr,
		&e.Collection,
		&e.CustomAction,
		&outcomeStr,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	e.Outcome = AuditOutcome(outcomeStr)
	var err error
	e.Timestamp, err = parseTime(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, actor_user_id, action, collection, custom_action, outcome, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor_user_id = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR collection = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)
	args := buildAuditQueryArgs(f)

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		args.sinceStr, args.sinceStr,
		args.untilStr, args.untilStr,
		f.ActorUserID, f.ActorUserID,
		args.actionStr, args.actionStr,
		f.Collection, f.Collection,
		args.outcomeStr, args.outcomeStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
