package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealradar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// orders them chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "parse time %q", s)
}

func parseSQLiteNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deal_requests (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	max_budget        INTEGER,
	requirements      TEXT NOT NULL DEFAULT '',
	structured_prompt TEXT,
	search_keyword    TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'active', 'fulfilled', 'expired')),
	approved          INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	expires_at        TEXT NOT NULL,
	fulfilled_at      TEXT
);

CREATE TABLE IF NOT EXISTS posts (
	ad_id             TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	price             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	seller            TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	company_ad        INTEGER NOT NULL DEFAULT 0,
	type              TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	images            TEXT NOT NULL DEFAULT '[]',
	source_request_id INTEGER REFERENCES deal_requests(id) ON DELETE SET NULL,
	discovered_at     TEXT NOT NULL,
	raw_data          TEXT
);

CREATE TABLE IF NOT EXISTS evaluations (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	ad_id                  TEXT NOT NULL UNIQUE REFERENCES posts(ad_id) ON DELETE CASCADE,
	status                 TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'completed', 'error', 'skipped')),
	value_score            REAL CHECK (value_score IS NULL OR value_score BETWEEN 1 AND 10),
	evaluation_notes       TEXT NOT NULL DEFAULT '',
	notification_message   TEXT NOT NULL DEFAULT '',
	estimated_market_value TEXT NOT NULL DEFAULT '',
	specs                  TEXT,
	evaluated_at           TEXT,
	error_message          TEXT,
	CHECK (status <> 'completed' OR value_score IS NOT NULL),
	CHECK (status <> 'error' OR error_message IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS notifications (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ad_id   TEXT NOT NULL REFERENCES posts(ad_id) ON DELETE CASCADE,
	channel TEXT NOT NULL,
	message TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	read    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (ad_id, channel)
);

CREATE TABLE IF NOT EXISTS request_subscriptions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL REFERENCES deal_requests(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (request_id, email)
);

CREATE TABLE IF NOT EXISTS request_matches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL REFERENCES deal_requests(id) ON DELETE CASCADE,
	ad_id      TEXT NOT NULL REFERENCES posts(ad_id) ON DELETE CASCADE,
	matched_at TEXT NOT NULL,
	UNIQUE (request_id, ad_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_category ON posts(category);
CREATE INDEX IF NOT EXISTS idx_posts_discovered_at ON posts(discovered_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_status_score ON evaluations(status, value_score);
CREATE INDEX IF NOT EXISTS idx_deal_requests_status_expires ON deal_requests(status, expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Posts ---

func (s *SQLiteStore) UpsertPost(ctx context.Context, post *model.Post) (bool, error) {
	if post.AdID == "" {
		return false, eris.New("sqlite: upsert post: ad_id is required")
	}
	images, err := marshalImages(post.Images)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal images")
	}
	if post.DiscoveredAt.IsZero() {
		post.DiscoveredAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (ad_id, title, price, description, seller, location, category, company_ad, type, region, images, source_request_id, discovered_at, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ad_id) DO NOTHING`,
		post.AdID, post.Title, post.Price, post.Description, post.Seller,
		post.Location, post.Category, post.CompanyAd, post.Type, post.Region,
		string(images), post.SourceRequestID, sqliteTime(post.DiscoveredAt),
		nullJSONText(post.RawData),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert post %s", post.AdID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var discovered string
	err = s.db.QueryRowContext(ctx,
		`UPDATE posts SET
			title = ?,
			price = ?,
			description = ?,
			raw_data = ?,
			source_request_id = COALESCE(source_request_id, ?)
		WHERE ad_id = ?
		RETURNING discovered_at`,
		post.Title, post.Price, post.Description, nullJSONText(post.RawData),
		post.SourceRequestID, post.AdID,
	).Scan(&discovered)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update post %s", post.AdID)
	}
	if post.DiscoveredAt, err = parseSQLiteTime(discovered); err != nil {
		return false, eris.Wrap(err, "sqlite: update post")
	}
	return false, nil
}

const sqlitePostColumns = `p.ad_id, p.title, p.price, p.description, p.seller, p.location, p.category, p.company_ad, p.type, p.region, p.images, p.source_request_id, p.discovered_at, p.raw_data`

const sqliteEvaluationColumns = `e.ad_id, e.status, e.value_score, e.evaluation_notes, e.notification_message, e.estimated_market_value, e.specs, e.evaluated_at, e.error_message`

func (s *SQLiteStore) GetPost(ctx context.Context, adID string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlitePostColumns+` FROM posts p WHERE p.ad_id = ?`, adID)
	p, err := scanSQLitePost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get post %s", adID)
	}
	return p, nil
}

func (s *SQLiteStore) PostsForEvaluation(ctx context.Context, limit int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts p
		LEFT JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.ad_id IS NULL OR e.status = 'pending'
		ORDER BY p.discovered_at DESC LIMIT ?`,
		limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: posts for evaluation")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanSQLitePost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan post")
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "sqlite: iterate posts")
}

// --- Evaluations ---

func (s *SQLiteStore) UpsertEvaluation(ctx context.Context, ev *model.Evaluation) error {
	if err := ev.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: upsert evaluation")
	}
	specs, err := marshalSpecs(ev.Specs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal specs")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (ad_id, status, value_score, evaluation_notes, notification_message, estimated_market_value, specs, evaluated_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ad_id) DO UPDATE SET
			status = excluded.status,
			value_score = excluded.value_score,
			evaluation_notes = excluded.evaluation_notes,
			notification_message = excluded.notification_message,
			estimated_market_value = excluded.estimated_market_value,
			specs = excluded.specs,
			evaluated_at = excluded.evaluated_at,
			error_message = excluded.error_message`,
		ev.AdID, string(ev.Status), ev.ValueScore, ev.EvaluationNotes,
		ev.NotificationMessage, ev.EstimatedMarketValue, nullJSONText(specs),
		sqliteNullTime(ev.EvaluatedAt), nullString(ev.ErrorMessage),
	)
	return eris.Wrapf(err, "sqlite: upsert evaluation %s", ev.AdID)
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, adID string) (*model.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteEvaluationColumns+` FROM evaluations e WHERE e.ad_id = ?`, adID)
	ev, err := scanSQLiteEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get evaluation %s", adID)
	}
	return ev, nil
}

func (s *SQLiteStore) HighValueDeals(ctx context.Context, minScore float64, limit int) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+`, `+sqliteEvaluationColumns+` FROM posts p
		JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.status = 'completed' AND e.value_score >= ?
		ORDER BY e.value_score DESC, p.discovered_at DESC LIMIT ?`,
		minScore, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: high value deals")
	}
	return collectSQLiteDeals(rows)
}

// --- Notifications ---

func (s *SQLiteStore) PendingNotifications(ctx context.Context, channel model.Channel, minScore float64, limit int) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+`, `+sqliteEvaluationColumns+` FROM posts p
		JOIN evaluations e ON e.ad_id = p.ad_id
		WHERE e.status = 'completed' AND e.value_score >= ?
		AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.ad_id = p.ad_id AND n.channel = ?)
		ORDER BY e.value_score DESC, e.evaluated_at ASC LIMIT ?`,
		minScore, string(channel), limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending notifications")
	}
	return collectSQLiteDeals(rows)
}

func (s *SQLiteStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (ad_id, channel, message, sent_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (ad_id, channel) DO NOTHING`,
		n.AdID, string(n.Channel), n.Message, sqliteTime(n.SentAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert notification %s/%s", n.AdID, n.Channel)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return false, nil
	}
	n.ID, _ = res.LastInsertId()
	return true, nil
}

// --- Deal requests ---

const sqliteRequestColumns = `r.id, r.title, r.description, r.category, r.max_budget, r.requirements, r.structured_prompt, r.search_keyword, r.status, r.approved, r.created_at, r.expires_at, r.fulfilled_at`

const sqliteRequestCountColumns = `(SELECT count(*) FROM request_subscriptions s WHERE s.request_id = r.id),
	(SELECT count(*) FROM request_matches m WHERE m.request_id = r.id)`

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.DealRequest) error {
	prepareNewRequest(req, time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_requests (title, description, category, max_budget, requirements, structured_prompt, search_keyword, status, approved, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Title, req.Description, req.Category, req.MaxBudget, req.Requirements,
		nullString(req.StructuredPrompt), req.SearchKeyword, string(req.Status),
		req.Approved, sqliteTime(req.CreatedAt), sqliteTime(req.ExpiresAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create request %q", req.Title)
	}
	req.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id int64) (*model.DealRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRequestColumns+` FROM deal_requests r WHERE r.id = ?`, id)
	r, err := scanSQLiteRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.DealRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRequestColumns+` FROM deal_requests r
		WHERE (? = '' OR r.status = ?)
		ORDER BY r.created_at DESC, r.id DESC LIMIT ?`,
		string(filter.Status), string(filter.Status), limitOrDefault(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	return collectSQLiteRequests(rows)
}

func (s *SQLiteStore) ApproveRequest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deal_requests SET approved = 1, status = 'active'
		WHERE id = ? AND status IN ('pending', 'active')`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: approve request %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: request %d not found or closed", id)
	}
	return nil
}

func (s *SQLiteStore) ListEligibleRequests(ctx context.Context, now time.Time) ([]model.DealRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRequestColumns+` FROM deal_requests r
		WHERE r.approved = 1 AND r.status = 'active' AND r.expires_at > ?
		ORDER BY r.created_at ASC, r.id ASC`,
		sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list eligible requests")
	}
	return collectSQLiteRequests(rows)
}

func (s *SQLiteStore) ListActiveRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRequestColumns+`, `+sqliteRequestCountColumns+` FROM deal_requests r
		WHERE r.approved = 1 AND r.status = 'active' AND r.expires_at > ?
		ORDER BY r.created_at ASC, r.id ASC`,
		sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active requests")
	}
	return collectSQLiteActiveRequests(rows)
}

func (s *SQLiteStore) ListLapsedRequests(ctx context.Context, now time.Time) ([]model.ActiveRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRequestColumns+`, `+sqliteRequestCountColumns+` FROM deal_requests r
		WHERE r.status = 'active' AND r.expires_at <= ?
		ORDER BY r.expires_at ASC, r.id ASC`,
		sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lapsed requests")
	}
	return collectSQLiteActiveRequests(rows)
}

func (s *SQLiteStore) FulfillRequest(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deal_requests SET status = 'fulfilled', fulfilled_at = ?
		WHERE id = ? AND status = 'active'`,
		sqliteTime(at), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: fulfill request %d", id)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ExpireRequest(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deal_requests SET status = 'expired'
		WHERE id = ? AND status = 'active' AND expires_at <= ?
		AND NOT EXISTS (SELECT 1 FROM request_matches m WHERE m.request_id = deal_requests.id)`,
		id, sqliteTime(now),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: expire request %d", id)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// --- Subscriptions and matches ---

func (s *SQLiteStore) Subscribe(ctx context.Context, requestID int64, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_subscriptions (request_id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT (request_id, email) DO NOTHING`,
		requestID, email, sqliteTime(time.Now()),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: subscribe %s to request %d", email, requestID)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, requestID int64) ([]model.RequestSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, email, created_at FROM request_subscriptions
		WHERE request_id = ? ORDER BY id`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list subscriptions %d", requestID)
	}
	defer rows.Close()

	var subs []model.RequestSubscription
	for rows.Next() {
		var (
			sub     model.RequestSubscription
			created string
		)
		if err := rows.Scan(&sub.ID, &sub.RequestID, &sub.Email, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		if sub.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: iterate subscriptions")
}

func (s *SQLiteStore) MatchExists(ctx context.Context, requestID int64, adID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM request_matches WHERE request_id = ? AND ad_id = ?)`,
		requestID, adID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: match exists %d/%s", requestID, adID)
	}
	return exists, nil
}

func (s *SQLiteStore) InsertMatch(ctx context.Context, requestID int64, adID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_matches (request_id, ad_id, matched_at) VALUES (?, ?, ?)
		ON CONFLICT (request_id, ad_id) DO NOTHING`,
		requestID, adID, sqliteTime(at),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert match %d/%s", requestID, adID)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) CountMatches(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM request_matches WHERE request_id = ?`, requestID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count matches %d", requestID)
	}
	return n, nil
}

// --- Reporting ---

func (s *SQLiteStore) Stats(ctx context.Context, highValueThreshold float64) (*model.Stats, error) {
	var (
		st  model.Stats
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT count(*) FROM posts),
			(SELECT count(*) FROM evaluations WHERE status = 'completed'),
			(SELECT count(*) FROM posts p LEFT JOIN evaluations e ON e.ad_id = p.ad_id
				WHERE e.ad_id IS NULL OR e.status = 'pending'),
			(SELECT count(*) FROM evaluations WHERE status = 'error'),
			(SELECT count(*) FROM evaluations WHERE status = 'completed' AND value_score >= ?),
			(SELECT avg(value_score) FROM evaluations WHERE status = 'completed')`,
		highValueThreshold,
	).Scan(&st.TotalPosts, &st.EvaluatedPosts, &st.PendingEvaluations,
		&st.FailedEvaluations, &st.HighValueDeals, &avg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	if avg.Valid {
		st.AvgScore = &avg.Float64
	}
	return &st, nil
}

// --- Scanning ---

type sqlitePostRow struct {
	images     string
	sourceReq  sql.NullInt64
	discovered string
	rawData    sql.NullString
}

func (r *sqlitePostRow) dest(p *model.Post) []any {
	return []any{&p.AdID, &p.Title, &p.Price, &p.Description, &p.Seller,
		&p.Location, &p.Category, &p.CompanyAd, &p.Type, &p.Region,
		&r.images, &r.sourceReq, &r.discovered, &r.rawData}
}

func (r *sqlitePostRow) finish(p *model.Post) error {
	if err := unmarshalImages([]byte(r.images), p); err != nil {
		return err
	}
	if r.sourceReq.Valid {
		id := r.sourceReq.Int64
		p.SourceRequestID = &id
	}
	t, err := parseSQLiteTime(r.discovered)
	if err != nil {
		return err
	}
	p.DiscoveredAt = t
	if r.rawData.Valid && r.rawData.String != "" {
		p.RawData = json.RawMessage(r.rawData.String)
	}
	return nil
}

type sqliteEvaluationRow struct {
	status    string
	score     sql.NullFloat64
	specs     sql.NullString
	evaluated sql.NullString
	errMsg    sql.NullString
}

func (r *sqliteEvaluationRow) dest(ev *model.Evaluation) []any {
	return []any{&ev.AdID, &r.status, &r.score, &ev.EvaluationNotes,
		&ev.NotificationMessage, &ev.EstimatedMarketValue, &r.specs,
		&r.evaluated, &r.errMsg}
}

func (r *sqliteEvaluationRow) finish(ev *model.Evaluation) error {
	ev.Status = model.EvaluationStatus(r.status)
	if r.score.Valid {
		score := r.score.Float64
		ev.ValueScore = &score
	}
	if r.errMsg.Valid {
		ev.ErrorMessage = r.errMsg.String
	}
	at, err := parseSQLiteNullTime(r.evaluated)
	if err != nil {
		return err
	}
	ev.EvaluatedAt = at
	return unmarshalSpecs([]byte(r.specs.String), ev)
}

func scanSQLitePost(row scannable) (*model.Post, error) {
	var (
		p   model.Post
		raw sqlitePostRow
	)
	if err := row.Scan(raw.dest(&p)...); err != nil {
		return nil, err
	}
	if err := raw.finish(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteEvaluation(row scannable) (*model.Evaluation, error) {
	var (
		ev  model.Evaluation
		raw sqliteEvaluationRow
	)
	if err := row.Scan(raw.dest(&ev)...); err != nil {
		return nil, err
	}
	if err := raw.finish(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func collectSQLiteDeals(rows *sql.Rows) ([]model.Deal, error) {
	defer rows.Close()
	var deals []model.Deal
	for rows.Next() {
		var (
			d      model.Deal
			rawP   sqlitePostRow
			rawE   sqliteEvaluationRow
			fields = append(rawP.dest(&d.Post), rawE.dest(&d.Evaluation)...)
		)
		if err := rows.Scan(fields...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		if err := rawP.finish(&d.Post); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		if err := rawE.finish(&d.Evaluation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: iterate deals")
}

func scanSQLiteRequest(row scannable, extra ...any) (*model.DealRequest, error) {
	var (
		r                model.DealRequest
		budget           sql.NullInt64
		prompt           sql.NullString
		status           string
		created, expires string
		fulfilled        sql.NullString
	)
	dest := []any{&r.ID, &r.Title, &r.Description, &r.Category, &budget,
		&r.Requirements, &prompt, &r.SearchKeyword, &status, &r.Approved,
		&created, &expires, &fulfilled}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if budget.Valid {
		b := int(budget.Int64)
		r.MaxBudget = &b
	}
	r.StructuredPrompt = prompt.String
	r.Status = model.RequestStatus(status)

	var err error
	if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = parseSQLiteTime(expires); err != nil {
		return nil, err
	}
	if r.FulfilledAt, err = parseSQLiteNullTime(fulfilled); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectSQLiteRequests(rows *sql.Rows) ([]model.DealRequest, error) {
	defer rows.Close()
	var reqs []model.DealRequest
	for rows.Next() {
		r, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: iterate requests")
}

func collectSQLiteActiveRequests(rows *sql.Rows) ([]model.ActiveRequest, error) {
	defer rows.Close()
	var reqs []model.ActiveRequest
	for rows.Next() {
		var subs, matches int
		r, err := scanSQLiteRequest(rows, &subs, &matches)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan active request")
		}
		reqs = append(reqs, model.ActiveRequest{DealRequest: *r, SubscriberCount: subs, MatchCount: matches})
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: iterate active requests")
}

func nullJSONText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
