package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// sqlStore implements Store over a database/sql connection, with the
// two dialects (postgres via pgx/v5/stdlib, sqlite via modernc.org/
// sqlite) differing only in placeholder syntax (handled by rebind)
// and connection setup (sqlite.go, postgres.go).
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func (s *sqlStore) q(query string) string { return rebind(s.dialect, query) }

func (s *sqlStore) Close() error { return s.db.Close() }

// --- Inboxes ---

func (s *sqlStore) GetInbox(ctx context.Context, needle string) (*Inbox, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT domain, actor, inbox, followid, software, failed, failed_at, fail404_count, created
		FROM inboxes WHERE domain = ? OR actor = ? OR inbox = ?`),
		needle, needle, needle)
	return scanInbox(row)
}

func scanInbox(row *sql.Row) (*Inbox, error) {
	var i Inbox
	var actor, followID, software sql.NullString
	var failedAt sql.NullTime
	var failed int
	if err := row.Scan(&i.Domain, &actor, &i.Inbox, &followID, &software, &failed, &failedAt, &i.Fail404Count, &i.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get inbox: %w", err)
	}
	i.Actor = actor.String
	i.FollowID = followID.String
	i.Software = software.String
	i.Failed = failed != 0
	if failedAt.Valid {
		t := failedAt.Time
		i.FailedAt = &t
	}
	return &i, nil
}

func (s *sqlStore) PutInbox(ctx context.Context, row Inbox) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO inboxes (domain, actor, inbox, followid, software, failed, failed_at, fail404_count, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			actor = excluded.actor,
			inbox = excluded.inbox,
			followid = excluded.followid,
			software = excluded.software,
			failed = excluded.failed,
			failed_at = excluded.failed_at`),
		row.Domain, nullable(row.Actor), row.Inbox, nullable(row.FollowID), nullable(row.Software),
		boolToInt(row.Failed), nullableTime(row.FailedAt), row.Fail404Count, row.Created)
	if err != nil {
		return fmt.Errorf("store: put inbox %q: %w", row.Domain, err)
	}
	return nil
}

func (s *sqlStore) DeleteInbox(ctx context.Context, needle string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM inboxes WHERE domain = ? OR actor = ? OR inbox = ?`),
		needle, needle, needle)
	if err != nil {
		return fmt.Errorf("store: delete inbox %q: %w", needle, err)
	}
	return requireAffected(res, needle)
}

func (s *sqlStore) ListInboxes(ctx context.Context) ([]Inbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, actor, inbox, followid, software, failed, failed_at, fail404_count, created
		 FROM inboxes ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list inboxes: %w", err)
	}
	defer rows.Close()
	return scanInboxes(rows)
}

func (s *sqlStore) ListActiveInboxes(ctx context.Context) ([]Inbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, actor, inbox, followid, software, failed, failed_at, fail404_count, created
		 FROM inboxes WHERE failed = 0 ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list active inboxes: %w", err)
	}
	defer rows.Close()
	return scanInboxes(rows)
}

func scanInboxes(rows *sql.Rows) ([]Inbox, error) {
	out := []Inbox{}
	for rows.Next() {
		var i Inbox
		var actor, followID, software sql.NullString
		var failedAt sql.NullTime
		var failed int
		if err := rows.Scan(&i.Domain, &actor, &i.Inbox, &followID, &software, &failed, &failedAt, &i.Fail404Count, &i.Created); err != nil {
			return nil, fmt.Errorf("store: scan inbox: %w", err)
		}
		i.Actor = actor.String
		i.FollowID = followID.String
		i.Software = software.String
		i.Failed = failed != 0
		if failedAt.Valid {
			t := failedAt.Time
			i.FailedAt = &t
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// MarkInboxFailed sets the inbox's failed flag. Clearing it (failed
// == false) also resets the consecutive-404 counter, since a
// successful delivery breaks any 404 streak (§4.G).
func (s *sqlStore) MarkInboxFailed(ctx context.Context, domain string, failed bool) error {
	var failedAt any
	if failed {
		failedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE inboxes SET failed = ?, failed_at = ?, fail404_count = CASE WHEN ? = 1 THEN fail404_count ELSE 0 END
		WHERE domain = ?`), boolToInt(failed), failedAt, boolToInt(failed), domain)
	if err != nil {
		return fmt.Errorf("store: mark inbox failed %q: %w", domain, err)
	}
	return requireAffected(res, domain)
}

// BumpInbox404 increments the consecutive-404 counter and returns the
// new value, used by the fan-out engine to mark an inbox failed after
// three consecutive 404s (§4.G) without needing its own state.
func (s *sqlStore) BumpInbox404(ctx context.Context, domain string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE inboxes SET fail404_count = fail404_count + 1 WHERE domain = ?`), domain)
	if err != nil {
		return 0, fmt.Errorf("store: bump inbox 404 count %q: %w", domain, err)
	}
	if err := requireAffected(res, domain); err != nil {
		return 0, err
	}

	row := s.db.QueryRowContext(ctx, s.q(`SELECT fail404_count FROM inboxes WHERE domain = ?`), domain)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: read inbox 404 count %q: %w", domain, err)
	}
	return count, nil
}

func (s *sqlStore) RemoveStaleFailedInboxes(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM inboxes WHERE failed = 1 AND failed_at IS NOT NULL AND failed_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: remove stale failed inboxes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Domain bans ---

func (s *sqlStore) BanDomain(ctx context.Context, ban DomainBan) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: ban domain begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO domain_bans (domain, reason, note, created) VALUES (?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET reason = excluded.reason, note = excluded.note`),
		ban.Domain, nullable(ban.Reason), nullable(ban.Note), ban.Created)
	if err != nil {
		return 0, fmt.Errorf("store: ban domain %q: %w", ban.Domain, err)
	}

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM inboxes WHERE domain = ?`), ban.Domain)
	if err != nil {
		return 0, fmt.Errorf("store: ban domain %q remove inboxes: %w", ban.Domain, err)
	}
	n, _ := res.RowsAffected()

	// Invariant 2: a domain can't sit in both whitelist and
	// domain_bans; banning wins, so drop any whitelist row here.
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM whitelist WHERE domain = ?`), ban.Domain); err != nil {
		return 0, fmt.Errorf("store: ban domain %q remove whitelist entry: %w", ban.Domain, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: ban domain %q commit: %w", ban.Domain, err)
	}
	return int(n), nil
}

func (s *sqlStore) UnbanDomain(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM domain_bans WHERE domain = ?`), domain)
	if err != nil {
		return fmt.Errorf("store: unban domain %q: %w", domain, err)
	}
	return requireAffected(res, domain)
}

func (s *sqlStore) GetDomainBan(ctx context.Context, domain string) (*DomainBan, error) {
	var b DomainBan
	var reason, note sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT domain, reason, note, created FROM domain_bans WHERE domain = ?`), domain,
	).Scan(&b.Domain, &reason, &note, &b.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get domain ban %q: %w", domain, err)
	}
	b.Reason, b.Note = reason.String, note.String
	return &b, nil
}

func (s *sqlStore) ListDomainBans(ctx context.Context) ([]DomainBan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, reason, note, created FROM domain_bans ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list domain bans: %w", err)
	}
	defer rows.Close()

	out := []DomainBan{}
	for rows.Next() {
		var b DomainBan
		var reason, note sql.NullString
		if err := rows.Scan(&b.Domain, &reason, &note, &b.Created); err != nil {
			return nil, fmt.Errorf("store: scan domain ban: %w", err)
		}
		b.Reason, b.Note = reason.String, note.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- Software bans ---

func (s *sqlStore) BanSoftware(ctx context.Context, ban SoftwareBan) error {
	name := strings.ToLower(ban.Name)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO software_bans (name, reason, note, created) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET reason = excluded.reason, note = excluded.note`),
		name, nullable(ban.Reason), nullable(ban.Note), ban.Created)
	if err != nil {
		return fmt.Errorf("store: ban software %q: %w", name, err)
	}
	return nil
}

func (s *sqlStore) UnbanSoftware(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM software_bans WHERE name = ?`), strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("store: unban software %q: %w", name, err)
	}
	return requireAffected(res, name)
}

func (s *sqlStore) GetSoftwareBan(ctx context.Context, name string) (*SoftwareBan, error) {
	var b SoftwareBan
	var reason, note sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT name, reason, note, created FROM software_bans WHERE name = ?`), strings.ToLower(name),
	).Scan(&b.Name, &reason, &note, &b.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get software ban %q: %w", name, err)
	}
	b.Reason, b.Note = reason.String, note.String
	return &b, nil
}

func (s *sqlStore) ListSoftwareBans(ctx context.Context) ([]SoftwareBan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, reason, note, created FROM software_bans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list software bans: %w", err)
	}
	defer rows.Close()

	out := []SoftwareBan{}
	for rows.Next() {
		var b SoftwareBan
		var reason, note sql.NullString
		if err := rows.Scan(&b.Name, &reason, &note, &b.Created); err != nil {
			return nil, fmt.Errorf("store: scan software ban: %w", err)
		}
		b.Reason, b.Note = reason.String, note.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- Whitelist ---

func (s *sqlStore) Whitelist(ctx context.Context, entry WhitelistEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO whitelist (domain, created) VALUES (?, ?)
		ON CONFLICT (domain) DO NOTHING`), entry.Domain, entry.Created)
	if err != nil {
		return fmt.Errorf("store: whitelist %q: %w", entry.Domain, err)
	}
	return nil
}

func (s *sqlStore) Unwhitelist(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM whitelist WHERE domain = ?`), domain)
	if err != nil {
		return fmt.Errorf("store: unwhitelist %q: %w", domain, err)
	}
	return requireAffected(res, domain)
}

func (s *sqlStore) IsWhitelisted(ctx context.Context, domain string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT domain FROM whitelist WHERE domain = ?`), domain).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is whitelisted %q: %w", domain, err)
	}
	return true, nil
}

func (s *sqlStore) ListWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, created FROM whitelist ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list whitelist: %w", err)
	}
	defer rows.Close()

	out := []WhitelistEntry{}
	for rows.Next() {
		var w WhitelistEntry
		if err := rows.Scan(&w.Domain, &w.Created); err != nil {
			return nil, fmt.Errorf("store: scan whitelist: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- Users & tokens ---

func (s *sqlStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users (username, hash, handle, created) VALUES (?, ?, ?, ?)`),
		user.Username, user.Hash, nullable(user.Handle), user.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: create user %q: %w", user.Username, ErrConflict)
		}
		return fmt.Errorf("store: create user %q: %w", user.Username, err)
	}
	return nil
}

func (s *sqlStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var handle sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT username, hash, handle, created FROM users WHERE username = ?`), username,
	).Scan(&u.Username, &u.Hash, &handle, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %q: %w", username, err)
	}
	u.Handle = handle.String
	return &u, nil
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, hash, handle, created FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		var u User
		var handle sql.NullString
		if err := rows.Scan(&u.Username, &u.Hash, &handle, &u.Created); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.Handle = handle.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteUser(ctx context.Context, username string) error {
	// Tokens cascade via the FK constraint (Invariant 4); sqlite only
	// enforces this when foreign_keys is turned on, which sqlite.go does.
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM users WHERE username = ?`), username)
	if err != nil {
		return fmt.Errorf("store: delete user %q: %w", username, err)
	}
	return requireAffected(res, username)
}

func (s *sqlStore) CreateToken(ctx context.Context, token Token) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO tokens (code, "user", created) VALUES (?, ?, ?)`),
		token.Code, token.User, token.Created)
	if err != nil {
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

func (s *sqlStore) GetToken(ctx context.Context, code string) (*Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT code, "user", created FROM tokens WHERE code = ?`), code,
	).Scan(&t.Code, &t.User, &t.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get token: %w", err)
	}
	return &t, nil
}

func (s *sqlStore) ListTokensForUser(ctx context.Context, username string) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT code, "user", created FROM tokens WHERE "user" = ? ORDER BY created`), username)
	if err != nil {
		return nil, fmt.Errorf("store: list tokens for %q: %w", username, err)
	}
	defer rows.Close()

	out := []Token{}
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.Code, &t.User, &t.Created); err != nil {
			return nil, fmt.Errorf("store: scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteToken(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM tokens WHERE code = ?`), code)
	if err != nil {
		return fmt.Errorf("store: delete token: %w", err)
	}
	return requireAffected(res, code)
}

// --- Pending requests ---

func (s *sqlStore) PutPendingRequest(ctx context.Context, req PendingRequest) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO pending_requests (domain, actor, inbox, followid, software, created)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			actor = excluded.actor, inbox = excluded.inbox,
			followid = excluded.followid, software = excluded.software`),
		req.Domain, req.Actor, req.Inbox, req.FollowID, nullable(req.Software), req.Created)
	if err != nil {
		return fmt.Errorf("store: put pending request %q: %w", req.Domain, err)
	}
	return nil
}

func (s *sqlStore) GetPendingRequest(ctx context.Context, domain string) (*PendingRequest, error) {
	var r PendingRequest
	var software sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT domain, actor, inbox, followid, software, created FROM pending_requests WHERE domain = ?`), domain,
	).Scan(&r.Domain, &r.Actor, &r.Inbox, &r.FollowID, &software, &r.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pending request %q: %w", domain, err)
	}
	r.Software = software.String
	return &r, nil
}

func (s *sqlStore) ListPendingRequests(ctx context.Context) ([]PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, actor, inbox, followid, software, created FROM pending_requests ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending requests: %w", err)
	}
	defer rows.Close()

	out := []PendingRequest{}
	for rows.Next() {
		var r PendingRequest
		var software sql.NullString
		if err := rows.Scan(&r.Domain, &r.Actor, &r.Inbox, &r.FollowID, &software, &r.Created); err != nil {
			return nil, fmt.Errorf("store: scan pending request: %w", err)
		}
		r.Software = software.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeletePendingRequest(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pending_requests WHERE domain = ?`), domain)
	if err != nil {
		return fmt.Errorf("store: delete pending request %q: %w", domain, err)
	}
	return requireAffected(res, domain)
}

// --- Admin config ---

func (s *sqlStore) GetConfig(ctx context.Context, key string) (*ConfigEntry, error) {
	var e ConfigEntry
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT key, value, type FROM config WHERE key = ?`), key,
	).Scan(&e.Key, &value, &e.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get config %q: %w", key, err)
	}
	e.Value = value.String
	return &e, nil
}

func (s *sqlStore) PutConfig(ctx context.Context, entry ConfigEntry) error {
	if entry.Type == "" {
		entry.Type = "str"
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO config (key, value, type) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, type = excluded.type`),
		entry.Key, entry.Value, entry.Type)
	if err != nil {
		return fmt.Errorf("store: put config %q: %w", entry.Key, err)
	}
	return nil
}

func (s *sqlStore) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, type FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("store: list config: %w", err)
	}
	defer rows.Close()

	out := []ConfigEntry{}
	for rows.Next() {
		var e ConfigEntry
		var value sql.NullString
		if err := rows.Scan(&e.Key, &value, &e.Type); err != nil {
			return nil, fmt.Errorf("store: scan config: %w", err)
		}
		e.Value = value.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Cache rows ---

func (s *sqlStore) GetCacheRow(ctx context.Context, namespace, key string) (*CacheRow, error) {
	var c CacheRow
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT namespace, key, value, type, updated FROM cache WHERE namespace = ? AND key = ?`),
		namespace, key,
	).Scan(&c.Namespace, &c.Key, &value, &c.Type, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cache row %s/%s: %w", namespace, key, err)
	}
	c.Value = value.String
	return &c, nil
}

func (s *sqlStore) PutCacheRow(ctx context.Context, row CacheRow) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO cache (namespace, key, value, type, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value, type = excluded.type, updated = excluded.updated`),
		row.Namespace, row.Key, row.Value, row.Type, row.Updated)
	if err != nil {
		return fmt.Errorf("store: put cache row %s/%s: %w", row.Namespace, row.Key, err)
	}
	return nil
}

func (s *sqlStore) DeleteCacheRow(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM cache WHERE namespace = ? AND key = ?`), namespace, key)
	if err != nil {
		return fmt.Errorf("store: delete cache row %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *sqlStore) DeleteCacheNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cache WHERE namespace = ?`), namespace)
	if err != nil {
		return fmt.Errorf("store: delete cache namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *sqlStore) ClearCache(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache`)
	if err != nil {
		return fmt.Errorf("store: clear cache: %w", err)
	}
	return nil
}

func (s *sqlStore) SweepExpiredCache(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cache WHERE updated < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: sweep expired cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- helpers ---

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, needle string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, needle)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "23505") || // postgres code
		strings.Contains(msg, "duplicate key")
}
