package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

var (
	_ ports.EventAudit        = (*Store)(nil)
	_ ports.EndpointRegistry  = (*Store)(nil)
	_ ports.NotificationStore = (*Store)(nil)
	_ ports.ChunkStore        = (*Store)(nil)
	_ ports.AnalyticsStore    = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id              TEXT PRIMARY KEY,
	event_type      TEXT NOT NULL,
	event_source    TEXT NOT NULL,
	user_id         TEXT,
	organization_id TEXT,
	data            TEXT NOT NULL,
	status          TEXT NOT NULL,
	error_message   TEXT,
	created_at      INTEGER NOT NULL,
	processed_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_org ON webhook_events(organization_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_status ON webhook_events(status);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id                   TEXT PRIMARY KEY,
	webhook_event_id     TEXT NOT NULL,
	webhook_endpoint_id  TEXT NOT NULL,
	status               TEXT NOT NULL,
	status_code          INTEGER,
	response_body        TEXT,
	response_headers     TEXT,
	error_message        TEXT,
	delivery_duration_ms INTEGER NOT NULL,
	attempt_number       INTEGER NOT NULL,
	delivered_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_event ON webhook_deliveries(webhook_event_id);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	events       TEXT NOT NULL,
	secret       TEXT,
	is_active    INTEGER NOT NULL,
	headers      TEXT NOT NULL,
	retry_policy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	action_url TEXT,
	metadata   TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON system_notifications(user_id, created_at);

CREATE TABLE IF NOT EXISTS document_embeddings (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL,
	organization_id TEXT,
	content         TEXT NOT NULL,
	embedding       BLOB,
	position        INTEGER NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_document ON document_embeddings(document_id, position);

CREATE TABLE IF NOT EXISTS analytics_results (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	range_from      INTEGER NOT NULL,
	range_to        INTEGER NOT NULL,
	metrics         TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
`

// Store is the durable audit store: events, deliveries, endpoints,
// notifications, document chunks and analytics results.
type Store struct {
	pool *Pool
}

func Open(path string, poolSize int) (*Store, error) {
	pool, err := OpenPool(PoolConfig{
		Path:     path,
		PoolSize: poolSize,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) exec(ctx context.Context, query string, opts *sqlitex.ExecOptions) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn, query, opts)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) InsertEvent(ctx context.Context, e domain.EventRecord) error {
	data, err := toJSON(e.Data)
	if err != nil {
		return fmt.Errorf("audit store: marshal event data: %w", err)
	}
	return s.exec(ctx, `INSERT INTO webhook_events
		(id, event_type, event_source, user_id, organization_id, data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{e.ID, string(e.EventType), e.Source, nullable(e.UserID), nullable(e.OrganizationID),
			data, string(e.Status), millis(e.CreatedAt)},
	})
}

func (s *Store) UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, errMsg string, at time.Time) error {
	return s.exec(ctx, `UPDATE webhook_events
		SET status = ?, processed_at = ?, error_message = COALESCE(?, error_message)
		WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{string(status), millis(at), nullable(errMsg), id},
	})
}

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.EventRecord, error) {
	var rec *domain.EventRecord
	var decodeErr error
	err := s.exec(ctx, `SELECT id, event_type, event_source, user_id, organization_id, data,
		status, error_message, created_at, processed_at
		FROM webhook_events WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r := domain.EventRecord{
				ID:             stmt.ColumnText(0),
				EventType:      domain.EventType(stmt.ColumnText(1)),
				Source:         stmt.ColumnText(2),
				UserID:         stmt.ColumnText(3),
				OrganizationID: stmt.ColumnText(4),
				Status:         domain.EventStatus(stmt.ColumnText(6)),
				ErrorMessage:   stmt.ColumnText(7),
				CreatedAt:      fromMillis(stmt.ColumnInt64(8)),
			}
			decodeErr = json.Unmarshal([]byte(stmt.ColumnText(5)), &r.Data)
			if stmt.ColumnType(9) != sqlite.TypeNull {
				t := fromMillis(stmt.ColumnInt64(9))
				r.ProcessedAt = &t
			}
			rec = &r
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("audit store: decode event data: %w", decodeErr)
	}
	return rec, nil
}

func (s *Store) InsertDelivery(ctx context.Context, d domain.Delivery) error {
	var headers any
	if len(d.ResponseHeaders) > 0 {
		h, err := toJSON(d.ResponseHeaders)
		if err != nil {
			return fmt.Errorf("audit store: marshal response headers: %w", err)
		}
		headers = h
	}
	var code any
	if d.StatusCode != 0 {
		code = d.StatusCode
	}
	return s.exec(ctx, `INSERT INTO webhook_deliveries
		(id, webhook_event_id, webhook_endpoint_id, status, status_code, response_body,
		 response_headers, error_message, delivery_duration_ms, attempt_number, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{d.ID, d.EventID, d.EndpointID, string(d.Status), code, nullable(d.ResponseBody),
			headers, nullable(d.ErrorMessage), d.DurationMS, d.AttemptNumber, millis(d.DeliveredAt)},
	})
}

func (s *Store) ListDeliveries(ctx context.Context, eventID string) ([]domain.Delivery, error) {
	var out []domain.Delivery
	err := s.exec(ctx, `SELECT id, webhook_event_id, webhook_endpoint_id, status, status_code,
		response_body, response_headers, error_message, delivery_duration_ms, attempt_number, delivered_at
		FROM webhook_deliveries WHERE webhook_event_id = ? ORDER BY delivered_at, id`, &sqlitex.ExecOptions{
		Args: []any{eventID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			d := domain.Delivery{
				ID:            stmt.ColumnText(0),
				EventID:       stmt.ColumnText(1),
				EndpointID:    stmt.ColumnText(2),
				Status:        domain.DeliveryStatus(stmt.ColumnText(3)),
				StatusCode:    stmt.ColumnInt(4),
				ResponseBody:  stmt.ColumnText(5),
				ErrorMessage:  stmt.ColumnText(7),
				DurationMS:    stmt.ColumnInt64(8),
				AttemptNumber: stmt.ColumnInt(9),
				DeliveredAt:   fromMillis(stmt.ColumnInt64(10)),
			}
			if h := stmt.ColumnText(6); h != "" {
				if err := json.Unmarshal([]byte(h), &d.ResponseHeaders); err != nil {
					return err
				}
			}
			out = append(out, d)
			return nil
		},
	})
	return out, err
}

func (s *Store) UpsertEndpoint(ctx context.Context, e domain.Endpoint) error {
	events, err := toJSON(e.Events)
	if err != nil {
		return err
	}
	headers, err := toJSON(e.Headers)
	if err != nil {
		return err
	}
	policy, err := toJSON(e.RetryPolicy)
	if err != nil {
		return err
	}
	return s.exec(ctx, `INSERT INTO webhook_endpoints
		(id, url, events, secret, is_active, headers, retry_policy)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url, events = excluded.events, secret = excluded.secret,
			is_active = excluded.is_active, headers = excluded.headers,
			retry_policy = excluded.retry_policy`, &sqlitex.ExecOptions{
		Args: []any{e.ID, e.URL, events, nullable(e.Secret), e.Active, headers, policy},
	})
}

// ActiveEndpoints returns active endpoints subscribed to t.
func (s *Store) ActiveEndpoints(ctx context.Context, t domain.EventType) ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	err := s.exec(ctx, `SELECT id, url, events, secret, headers, retry_policy
		FROM webhook_endpoints WHERE is_active = 1 ORDER BY id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e := domain.Endpoint{
				ID:     stmt.ColumnText(0),
				URL:    stmt.ColumnText(1),
				Secret: stmt.ColumnText(3),
				Active: true,
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &e.Events); err != nil {
				return fmt.Errorf("endpoint %s events: %w", e.ID, err)
			}
			if !e.Subscribed(t) {
				return nil
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &e.Headers); err != nil {
				return fmt.Errorf("endpoint %s headers: %w", e.ID, err)
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(5)), &e.RetryPolicy); err != nil {
				return fmt.Errorf("endpoint %s retry policy: %w", e.ID, err)
			}
			out = append(out, e)
			return nil
		},
	})
	return out, err
}

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	var meta any
	if len(n.Metadata) > 0 {
		m, err := toJSON(n.Metadata)
		if err != nil {
			return err
		}
		meta = m
	}
	return s.exec(ctx, `INSERT INTO system_notifications
		(id, user_id, type, title, message, action_url, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{n.ID, n.UserID, n.Type, n.Title, n.Message, nullable(n.ActionURL), meta, millis(n.CreatedAt)},
	})
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := s.exec(ctx, `SELECT id, user_id, type, title, message, action_url, metadata, created_at
		FROM system_notifications WHERE user_id = ? ORDER BY created_at, id`, &sqlitex.ExecOptions{
		Args: []any{userID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n := domain.Notification{
				ID:        stmt.ColumnText(0),
				UserID:    stmt.ColumnText(1),
				Type:      stmt.ColumnText(2),
				Title:     stmt.ColumnText(3),
				Message:   stmt.ColumnText(4),
				ActionURL: stmt.ColumnText(5),
				CreatedAt: fromMillis(stmt.ColumnInt64(7)),
			}
			if m := stmt.ColumnText(6); m != "" {
				if err := json.Unmarshal([]byte(m), &n.Metadata); err != nil {
					return err
				}
			}
			out = append(out, n)
			return nil
		},
	})
	return out, err
}

// SaveChunks writes all chunks of a document in one transaction.
func (s *Store) SaveChunks(ctx context.Context, chunks []domain.Chunk) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("audit store: begin: %w", err)
	}
	defer endTransaction(&err)

	for _, c := range chunks {
		blob, err := encodeVector(c.Embedding)
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO document_embeddings
			(id, document_id, organization_id, content, embedding, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{c.ID, c.DocumentID, nullable(c.OrganizationID), c.Content, blob, c.Position, millis(c.CreatedAt)},
		})
		if err != nil {
			return fmt.Errorf("audit store: insert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var out []domain.Chunk
	err := s.exec(ctx, `SELECT id, document_id, organization_id, content, embedding, position, created_at
		FROM document_embeddings WHERE document_id = ? ORDER BY position`, &sqlitex.ExecOptions{
		Args: []any{documentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(4))
			stmt.ColumnBytes(4, blob)
			vec, err := decodeVector(blob)
			if err != nil {
				return err
			}
			out = append(out, domain.Chunk{
				ID:             stmt.ColumnText(0),
				DocumentID:     stmt.ColumnText(1),
				OrganizationID: stmt.ColumnText(2),
				Content:        stmt.ColumnText(3),
				Embedding:      vec,
				Position:       stmt.ColumnInt(5),
				CreatedAt:      fromMillis(stmt.ColumnInt64(6)),
			})
			return nil
		},
	})
	return out, err
}

// AggregateActivity counts an organization's events, deliveries and
// notifications within [from, to].
func (s *Store) AggregateActivity(ctx context.Context, orgID string, from, to time.Time) (domain.Activity, error) {
	a := domain.Activity{OrganizationID: orgID, From: from, To: to}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return a, err
	}
	defer s.pool.Put(conn)

	lo, hi := millis(from), millis(to)
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM webhook_events
		WHERE organization_id = ? AND created_at BETWEEN ? AND ?`, &sqlitex.ExecOptions{
		Args: []any{orgID, lo, hi},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			a.Events = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return a, fmt.Errorf("audit store: count events: %w", err)
	}

	err = sqlitex.Execute(conn, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN d.status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(d.delivery_duration_ms), 0)
		FROM webhook_deliveries d JOIN webhook_events e ON e.id = d.webhook_event_id
		WHERE e.organization_id = ? AND d.delivered_at BETWEEN ? AND ?`, &sqlitex.ExecOptions{
		Args: []any{orgID, lo, hi},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			a.Deliveries = stmt.ColumnInt(0)
			a.SuccessfulDeliveries = stmt.ColumnInt(1)
			a.TotalDurationMS = stmt.ColumnInt64(2)
			return nil
		},
	})
	if err != nil {
		return a, fmt.Errorf("audit store: count deliveries: %w", err)
	}

	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM system_notifications
		WHERE created_at BETWEEN ? AND ?
		AND user_id IN (SELECT user_id FROM webhook_events WHERE organization_id = ? AND user_id IS NOT NULL)`,
		&sqlitex.ExecOptions{
			Args: []any{lo, hi, orgID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				a.Notifications = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return a, fmt.Errorf("audit store: count notifications: %w", err)
	}
	return a, nil
}

func (s *Store) SaveAnalytics(ctx context.Context, r domain.AnalyticsResult) error {
	metrics, err := toJSON(r.Metrics)
	if err != nil {
		return err
	}
	return s.exec(ctx, `INSERT INTO analytics_results
		(id, organization_id, range_from, range_to, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{r.ID, r.OrganizationID, millis(r.From), millis(r.To), metrics, millis(r.CreatedAt)},
	})
}

func (s *Store) LatestAnalytics(ctx context.Context, orgID string) (*domain.AnalyticsResult, error) {
	var out *domain.AnalyticsResult
	err := s.exec(ctx, `SELECT id, organization_id, range_from, range_to, metrics, created_at
		FROM analytics_results WHERE organization_id = ? ORDER BY created_at DESC LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{orgID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r := domain.AnalyticsResult{
				ID:             stmt.ColumnText(0),
				OrganizationID: stmt.ColumnText(1),
				From:           fromMillis(stmt.ColumnInt64(2)),
				To:             fromMillis(stmt.ColumnInt64(3)),
				CreatedAt:      fromMillis(stmt.ColumnInt64(5)),
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &r.Metrics); err != nil {
				return err
			}
			out = &r
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, domain.ErrNotFound
	}
	return out, nil
}
