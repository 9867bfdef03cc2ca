package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StoredEvent is an audit_events row read back for review or export.
type StoredEvent struct {
	EventID         int64
	OccurredAt      time.Time
	Actor           string
	Action          string
	ResourceType    string
	ResourceID      string
	RequestID       string
	IP              net.IP
	UserAgent       string
	Payload         map[string]any
	IntegritySHA256 string
}

type Filter struct {
	ResourceID string
	Action     string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

const defaultListLimit = 200

// List returns audit events matching the filter, oldest first.
func List(ctx context.Context, q Querier, filter Filter) ([]StoredEvent, error) {
	if q == nil {
		return nil, errors.New("querier is required")
	}

	query, args := buildListQuery(filter)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	out := make([]StoredEvent, 0)
	for rows.Next() {
		var (
			ev         StoredEvent
			requestID  sql.NullString
			ip         sql.NullString
			userAgent  sql.NullString
			payloadRaw []byte
		)
		if err := rows.Scan(
			&ev.EventID,
			&ev.OccurredAt,
			&ev.Actor,
			&ev.Action,
			&ev.ResourceType,
			&ev.ResourceID,
			&requestID,
			&ip,
			&userAgent,
			&payloadRaw,
			&ev.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.RequestID = strings.TrimSpace(requestID.String)
		if ip.Valid {
			ev.IP = net.ParseIP(strings.TrimSpace(ip.String))
		}
		ev.UserAgent = strings.TrimSpace(userAgent.String)
		ev.Payload = decodePayload(payloadRaw)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return out, nil
}

func buildListQuery(filter Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT
		event_id,
		occurred_at,
		actor,
		action,
		resource_type,
		resource_id,
		request_id,
		ip,
		user_agent,
		payload,
		integrity_sha256
	FROM audit_events`)

	conds := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if strings.TrimSpace(filter.ResourceID) != "" {
		add("resource_id = ", strings.TrimSpace(filter.ResourceID))
	}
	if strings.TrimSpace(filter.Action) != "" {
		add("action = ", strings.TrimSpace(filter.Action))
	}
	if filter.Since != nil {
		add("occurred_at >= ", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("occurred_at < ", filter.Until.UTC())
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	sb.WriteString(" ORDER BY event_id ASC LIMIT $" + strconv.Itoa(len(args)))

	return sb.String(), args
}

func decodePayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}
