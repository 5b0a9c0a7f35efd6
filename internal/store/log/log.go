package log

import (
	"context"
	"encoding/json"
	"fmt"

	"crm-automation-api/internal/database"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// DefaultLimit is used when a caller asks for zero or fewer entries.
	DefaultLimit = 50
	// MaxLimit caps a single page of log entries.
	MaxLimit = 500
)

// AppendLogParams contains parameters for one dispatch attempt.
type AppendLogParams struct {
	AutomationID   uuid.UUID
	Status         domain.RunStatus
	RequestPayload json.RawMessage
	ResponseBody   json.RawMessage
	ErrorMessage   *string
	HTTPStatusCode *int
	DurationMs     *int64
}

// LogStorer defines the interface for log storage operations.
// Het log is append-only: er bestaan geen update- of delete-operaties.
type LogStorer interface {
	AppendLog(ctx context.Context, arg AppendLogParams) (domain.AutomationLogEntry, error)
	ListLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.AutomationLogEntry, error)
}

// LogStore handles log-related database operations
type LogStore struct {
	db database.Querier
}

// NewLogStore creates a new LogStore
func NewLogStore(db database.Querier) *LogStore {
	return &LogStore{db: db}
}

const logColumns = `id, automation_id, status, request_payload, response_body,
	error_message, http_status_code, duration_ms, created_at`

func scanLog(row pgx.Row) (domain.AutomationLogEntry, error) {
	var (
		entry    domain.AutomationLogEntry
		request  []byte
		response []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.AutomationID,
		&entry.Status,
		&request,
		&response,
		&entry.ErrorMessage,
		&entry.HTTPStatusCode,
		&entry.DurationMs,
		&entry.CreatedAt,
	)
	if err != nil {
		return domain.AutomationLogEntry{}, err
	}
	if len(request) > 0 {
		entry.RequestPayload = json.RawMessage(request)
	}
	if len(response) > 0 {
		entry.ResponseBody = json.RawMessage(response)
	}
	return entry, nil
}

// AppendLog inserts one immutable entry and returns it with its id and timestamp.
func (s *LogStore) AppendLog(ctx context.Context, arg AppendLogParams) (domain.AutomationLogEntry, error) {
	query := `INSERT INTO automation_logs (
        automation_id, status, request_payload, response_body,
        error_message, http_status_code, duration_ms
    ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING ` + logColumns + `;`

	row := s.db.QueryRow(ctx, query,
		arg.AutomationID,
		arg.Status,
		nullableJSON(arg.RequestPayload),
		nullableJSON(arg.ResponseBody),
		arg.ErrorMessage,
		arg.HTTPStatusCode,
		arg.DurationMs,
	)

	entry, err := scanLog(row)
	if err != nil {
		return domain.AutomationLogEntry{}, fmt.Errorf("could not append automation log: %w", err)
	}
	return entry, nil
}

// ListLogs haalt de meest recente logs op voor een automation, nieuwste eerst.
func (s *LogStore) ListLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.AutomationLogEntry, error) {
	query := `SELECT ` + logColumns + `
    FROM automation_logs
    WHERE automation_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	rows, err := s.db.Query(ctx, query, automationID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []domain.AutomationLogEntry{}
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// ClampLimit applies DefaultLimit and MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// nullableJSON maps an empty payload onto SQL NULL.
func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
