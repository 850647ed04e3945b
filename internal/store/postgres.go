package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/db"
	"github.com/sells-group/dealradar/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgUpsertPost = `INSERT INTO posts (ad_id, title, price, description, seller, location, category, company_ad, type, region, images, source_request_id, discovered_at, raw_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (ad_id) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	description = EXCLUDED.description,
	raw_data = EXCLUDED.raw_data,
	source_request_id = COALESCE(posts.source_request_id, EXCLUDED.source_request_id)
RETURNING discovered_at, (xmax = 0) AS inserted`

	pgUpsertEvaluation = `INSERT INTO evaluations (ad_id, status, value_score, evaluation_notes, notification_message, estimated_market_value, specs, evaluated_at, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (ad_id) DO UPDATE SET
	status = EXCLUDED.status,
	value_score = EXCLUDED.value_score,
	evaluation_notes = EXCLUDED.evaluation_notes,
	notification_message = EXCLUDED.notification_message,
	estimated_market_value = EXCLUDED.estimated_market_value,
	specs = EXCLUDED.specs,
	evaluated_at = EXCLUDED.evaluated_at,
	error_message = EXCLUDED.error_message`

	pgMatchExists = `SELECT EXISTS (SELECT 1 FROM request_matches WHERE request_id = $1 AND ad_id = $2)`

	pgInsertMatch = `INSERT INTO request_matches (request_id, ad_id, matched_at) VALUES ($1, $2, $3)`
)

// preparedStatements lists queries to prepare on each new connection for
// the statements every matching and ingestion cycle runs per listing.
var preparedStatements = map[string]string{
	"upsert_post":       pgUpsertPost,
	"upsert_evaluation": pgUpsertEvaluation,
	"match_exists":      pgMatchExists,
	"insert_match":      pgInsertMatch,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deal_requests (
	id                BIGSERIAL PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	max_budget        INTEGER CHECK (max_budget IS NULL OR max_budget >= 0),
	requirements      TEXT NOT NULL DEFAULT '',
	structured_prompt TEXT,
	search_keyword    TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'active', 'fulfilled', 'expired')),
	approved          BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at        TIMESTAMPTZ NOT NULL DEFAULT now() + INTERVAL '7 days',
	fulfilled_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS posts (
	ad_id             TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	price             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	seller            TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	company_ad        BOOLEAN NOT NULL DEFAULT false,
	type              TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	images            JSONB NOT NULL DEFAULT '[]',
	source_request_id BIGINT REFERENCES deal_requests(id) ON DELETE SET NULL,
	discovered_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data          JSONB
);

CREATE TABLE IF NOT EXISTS evaluations (
	id                     BIGSERIAL PRIMARY KEY,
	ad_id                  TEXT NOT NULL UNIQUE REFERENCES posts(ad_id) ON DELETE CASCADE,
	status                 TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'completed', 'error', 'skipped')),
	value_score            DOUBLE PRECISION CHECK (value_score IS NULL OR value_score BETWEEN 1 AND 10),
	evaluation_notes       TEXT NOT NULL DEFAULT '',
	notification_message   TEXT NOT NULL DEFAULT '',
	estimated_market_value TEXT NOT NULL DEFAULT '',
	specs                  JSONB,
	evaluated_at           TIMESTAMPTZ,
	error_message          TEXT,
	CHECK (status <> 'completed' OR value_score IS NOT NULL),
	CHECK (status <> 'error' OR error_message IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS notifications (
	id      BIGSERIAL PRIMARY KEY,
	ad_id   TEXT NOT NULL REFERENCES posts(ad_id) ON DELETE CASCADE,
	channel TEXT NOT NULL CHECK (channel IN ('email', 'slack', 'telegram')),
	message TEXT NOT NULL,
	sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	read    BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (ad_id, channel)
);

CREATE TABLE IF NOT EXISTS request_subscriptions (
	id         BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES deal_requests(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (request_id, email)
);

CREATE TABLE IF NOT EXISTS request_matches (
	id         BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES deal_requests(id) ON DELETE CASCADE,
	ad_id      TEXT NOT NULL REFERENCES posts(ad_id) ON DELETE CASCADE,
	matched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (request_id, ad_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_category ON posts(category);
CREATE INDEX IF NOT EXISTS idx_posts_discovered_at ON posts(discovered_at DESC);
CREATE INDEX IF NOT EXISTS idx_evaluations_status_score ON evaluations(status, value_score);
CREATE INDEX IF NOT EXISTS idx_deal_requests_status_expires ON deal_requests(status, expires_at);

CREATE OR REPLACE VIEW unevaluated_posts AS
	SELECT p.* FROM posts p
	LEFT JOIN evaluations e ON e.ad_id = p.ad_id
	WHERE e.ad_id IS NULL OR e.status = 'pending';

CREATE OR REPLACE VIEW high_value_deals AS
	SELECT p.ad_id, p.title, p.price, p.location, p.category, e.value_score, e.notification_message, e.evaluated_at
	FROM posts p
	JOIN evaluations e ON e.ad_id = p.ad_id
	WHERE e.status = 'completed' AND e.value_score >= 8;

CREATE OR REPLACE VIEW pending_notifications AS
	SELECT h.* FROM high_value_deals h
	WHERE NOT EXISTS (SELECT 1 FROM notifications n WHERE n.ad_id = h.ad_id);

CREATE OR REPLACE VIEW active_requests AS
	SELECT r.*,
		(SELECT count(*) FROM request_subscriptions s WHERE s.request_id = r.id) AS subscriber_count,
		(SELECT count(*) FROM request_matches m WHERE m.request_id = r.id) AS match_count
	FROM deal_requests r
	WHERE r.approved AND r.status = 'active' AND r.expires_at > now();
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Posts ---

const postColumns = `p.ad_id, p.title, p.price, p.description, p.seller, p.location, p.category, p.company_ad, p.type, p.region, p.images, p.source_request_id, p.discovered_at, p.raw_data`

const evaluationColumns = `e.ad_id, e.status, e.value_score, e.evaluation_notes, e.notification_message, e.estimated_market_value, e.specs, e.evaluated_at, e.error_message`

func (s *PostgresStore) UpsertPost(ctx context.Context, post *model.Post) (bool, error) {
	if post.AdID == "" {
		return false, eris.New("postgres: upsert post: ad_id is required")
	}
	images, err := marshalImages(post.Images)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal images")
	}
	if post.DiscoveredAt.IsZero() {
		post.DiscoveredAt = time.Now().UTC()
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, pgUpsertPost,
		post.AdID, post.Title, post.Price, post.Description, post.Seller,
		post.Location, post.Category, post.CompanyAd, post.Type, post.Region,
		images, post.SourceRequestID, post.DiscoveredAt, nullJSON(post.RawData),
	).Scan(&post.DiscoveredAt, &inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert post %s", post.AdID)
	}
	return inserted, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, adID string) (*model.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.ad_id = $1`, adID)
	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get post %s", adID)
	}
	return p, nil
}

func (s *PostgresStore) PostsForEvaluation(ctx context.Context, limit int) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts p
		LEFT JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.ad_id IS NULL OR e.status = 'pending'
		ORDER BY p.discovered_at DESC LIMIT $1`,
		limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: posts for evaluation")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan post")
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "postgres: iterate posts")
}

// --- Evaluations ---

func (s *PostgresStore) UpsertEvaluation(ctx context.Context, ev *model.Evaluation) error {
	if err := ev.Validate(); err != nil {
		return eris.Wrap(err, "postgres: upsert evaluation")
	}
	specs, err := marshalSpecs(ev.Specs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal specs")
	}
	_, err = s.pool.Exec(ctx, pgUpsertEvaluation,
		ev.AdID, string(ev.Status), ev.ValueScore, ev.EvaluationNotes,
		ev.NotificationMessage, ev.EstimatedMarketValue, specs, ev.EvaluatedAt,
		nullString(ev.ErrorMessage),
	)
	return eris.Wrapf(err, "postgres: upsert evaluation %s", ev.AdID)
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, adID string) (*model.Evaluation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations e WHERE e.ad_id = $1`, adID)
	ev, err := scanEvaluation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get evaluation %s", adID)
	}
	return ev, nil
}

func (s *PostgresStore) HighValueDeals(ctx context.Context, minScore float64, limit int) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+`, `+evaluationColumns+` FROM posts p
		JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.status = 'completed' AND e.value_score >= $1
		ORDER BY e.value_score DESC, p.discovered_at DESC LIMIT $2`,
		minScore, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: high value deals")
	}
	return collectDeals(rows)
}

// --- Notifications ---

func (s *PostgresStore) PendingNotifications(ctx context.Context, channel model.Channel, minScore float64, limit int) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+`, `+evaluationColumns+` FROM posts p
		JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.status = 'completed' AND e.value_score >= $1
		AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.ad_id = p.ad_id AND n.channel = $2)
		ORDER BY e.value_score DESC, e.evaluated_at ASC LIMIT $3`,
		minScore, string(channel), limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending notifications")
	}
	return collectDeals(rows)
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (ad_id, channel, message, sent_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (ad_id, channel) DO NOTHING RETURNING id`,
		n.AdID, string(n.Channel), n.Message, n.SentAt,
	).Scan(&n.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert notification %s/%s", n.AdID, n.Channel)
	}
	return true, nil
}

// --- Deal requests ---

const requestColumns = `r.id, r.title, r.description, r.category, r.max_budget, r.requirements, r.structured_prompt, r.search_keyword, r.status, r.approved, r.created_at, r.expires_at, r.fulfilled_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.DealRequest) error {
	prepareNewRequest(req, time.Now().UTC())
	err := s.pool.QueryRow(ctx,
		`INSERT INTO deal_requests (title, description, category, max_budget, requirements, structured_prompt, search_keyword, status, approved, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		req.Title, req.Description, req.Category, req.MaxBudget, req.Requirements,
		nullString(req.StructuredPrompt), req.SearchKeyword, string(req.Status),
		req.Approved, req.CreatedAt, req.ExpiresAt,
	).Scan(&req.ID)
	return eris.Wrapf(err, "postgres: create request %q", req.Title)
}

func (s *PostgresStore) GetRequest(ctx context.Context, id int64) (*model.DealRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM deal_requests r WHERE r.id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.DealRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM deal_requests r
		WHERE ($1 = '' OR r.status = $1)
		ORDER BY r.created_at DESC, r.id DESC LIMIT $2`,
		string(filter.Status), limitOrDefault(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	return collectRequests(rows)
}

func (s *PostgresStore) ApproveRequest(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deal_requests SET approved = true, status = 'active'
		WHERE id = $1 AND status IN ('pending', 'active')`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: approve request %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: request %d not found or closed", id)
	}
	return nil
}

func (s *PostgresStore) ListEligibleRequests(ctx context.Context, now time.Time) ([]model.DealRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM deal_requests r
		WHERE r.approved AND r.status = 'active' AND r.expires_at > $1
		ORDER BY r.created_at ASC, r.id ASC`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list eligible requests")
	}
	return collectRequests(rows)
}

const requestCountColumns = `(SELECT count(*) FROM request_subscriptions s WHERE s.request_id = r.id),
	(SELECT count(*) FROM request_matches m WHERE m.request_id = r.id)`

func (s *PostgresStore) ListActiveRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+`, `+requestCountColumns+` FROM deal_requests r
		WHERE r.approved AND r.status = 'active' AND r.expires_at > $1
		ORDER BY r.created_at ASC, r.id ASC`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active requests")
	}
	return collectActiveRequests(rows)
}

func (s *PostgresStore) ListLapsedRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+`, `+requestCountColumns+` FROM deal_requests r
		WHERE r.status = 'active' AND r.expires_at <= $1
		ORDER BY r.expires_at ASC, r.id ASC`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lapsed requests")
	}
	return collectActiveRequests(rows)
}

func (s *PostgresStore) FulfillRequest(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deal_requests SET status = 'fulfilled', fulfilled_at = $2
		WHERE id = $1 AND status = 'active'`,
		id, at,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fulfill request %d", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ExpireRequest(ctx context.Context, id int64, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deal_requests SET status = 'expired'
		WHERE id = $1 AND status = 'active' AND expires_at <= $2
		AND NOT EXISTS (SELECT 1 FROM request_matches m WHERE m.request_id = deal_requests.id)`,
		id, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: expire request %d", id)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Subscriptions and matches ---

func (s *PostgresStore) Subscribe(ctx context.Context, requestID int64, email string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO request_subscriptions (request_id, email, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (request_id, email) DO NOTHING`,
		requestID, email, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: subscribe %s to request %d", email, requestID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, requestID int64) ([]model.RequestSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, email, created_at FROM request_subscriptions
		WHERE request_id = $1 ORDER BY id`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list subscriptions %d", requestID)
	}
	defer rows.Close()

	var subs []model.RequestSubscription
	for rows.Next() {
		var sub model.RequestSubscription
		if err := rows.Scan(&sub.ID, &sub.RequestID, &sub.Email, &sub.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: iterate subscriptions")
}

func (s *PostgresStore) MatchExists(ctx context.Context, requestID int64, adID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, pgMatchExists, requestID, adID).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: match exists %d/%s", requestID, adID)
	}
	return exists, nil
}

func (s *PostgresStore) InsertMatch(ctx context.Context, requestID int64, adID string, at time.Time) (bool, error) {
	_, err := s.pool.Exec(ctx, pgInsertMatch, requestID, adID, at)
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert match %d/%s", requestID, adID)
	}
	return true, nil
}

func (s *PostgresStore) CountMatches(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM request_matches WHERE request_id = $1`, requestID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count matches %d", requestID)
	}
	return n, nil
}

// --- Reporting ---

func (s *PostgresStore) Stats(ctx context.Context, highValueThreshold float64) (*model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM posts),
			(SELECT count(*) FROM evaluations WHERE status = 'completed'),
			(SELECT count(*) FROM posts p LEFT JOIN evaluations e ON e.ad_id = p.ad_id
				WHERE e.ad_id IS NULL OR e.status = 'pending'),
			(SELECT count(*) FROM evaluations WHERE status = 'error'),
			(SELECT count(*) FROM evaluations WHERE status = 'completed' AND value_score >= $1),
			(SELECT avg(value_score) FROM evaluations WHERE status = 'completed')`,
		highValueThreshold,
	).Scan(&st.TotalPosts, &st.EvaluatedPosts, &st.PendingEvaluations,
		&st.FailedEvaluations, &st.HighValueDeals, &st.AvgScore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

// --- Scanning ---

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.Post, error) {
	var (
		p       model.Post
		images  []byte
		rawData []byte
	)
	err := row.Scan(&p.AdID, &p.Title, &p.Price, &p.Description, &p.Seller,
		&p.Location, &p.Category, &p.CompanyAd, &p.Type, &p.Region,
		&images, &p.SourceRequestID, &p.DiscoveredAt, &rawData)
	if err != nil {
		return nil, err
	}
	if err := unmarshalImages(images, &p); err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		p.RawData = json.RawMessage(rawData)
	}
	return &p, nil
}

func scanEvaluation(row scannable) (*model.Evaluation, error) {
	var (
		ev     model.Evaluation
		status string
		specs  []byte
		errMsg *string
	)
	err := row.Scan(&ev.AdID, &status, &ev.ValueScore, &ev.EvaluationNotes,
		&ev.NotificationMessage, &ev.EstimatedMarketValue, &specs,
		&ev.EvaluatedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	ev.Status = model.EvaluationStatus(status)
	if errMsg != nil {
		ev.ErrorMessage = *errMsg
	}
	if err := unmarshalSpecs(specs, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanDeal(row scannable) (*model.Deal, error) {
	var (
		d       model.Deal
		images  []byte
		rawData []byte
		status  string
		specs   []byte
		errMsg  *string
	)
	p, ev := &d.Post, &d.Evaluation
	err := row.Scan(&p.AdID, &p.Title, &p.Price, &p.Description, &p.Seller,
		&p.Location, &p.Category, &p.CompanyAd, &p.Type, &p.Region,
		&images, &p.SourceRequestID, &p.DiscoveredAt, &rawData,
		&ev.AdID, &status, &ev.ValueScore, &ev.EvaluationNotes,
		&ev.NotificationMessage, &ev.EstimatedMarketValue, &specs,
		&ev.EvaluatedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	if err := unmarshalImages(images, p); err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		p.RawData = json.RawMessage(rawData)
	}
	ev.Status = model.EvaluationStatus(status)
	if errMsg != nil {
		ev.ErrorMessage = *errMsg
	}
	if err := unmarshalSpecs(specs, ev); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeals(rows pgx.Rows) ([]model.Deal, error) {
	defer rows.Close()
	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: iterate deals")
}

func scanRequest(row scannable, extra ...any) (*model.DealRequest, error) {
	var (
		r      model.DealRequest
		prompt *string
		status string
	)
	dest := []any{&r.ID, &r.Title, &r.Description, &r.Category, &r.MaxBudget,
		&r.Requirements, &prompt, &r.SearchKeyword, &status, &r.Approved,
		&r.CreatedAt, &r.ExpiresAt, &r.FulfilledAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if prompt != nil {
		r.StructuredPrompt = *prompt
	}
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]model.DealRequest, error) {
	defer rows.Close()
	var reqs []model.DealRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: iterate requests")
}

func collectActiveRequests(rows pgx.Rows) ([]model.ActiveRequest, error) {
	defer rows.Close()
	var reqs []model.ActiveRequest
	for rows.Next() {
		var subs, matches int
		r, err := scanRequest(rows, &subs, &matches)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan active request")
		}
		reqs = append(reqs, model.ActiveRequest{DealRequest: *r, SubscriberCount: subs, MatchCount: matches})
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: iterate active requests")
}
