// Package store implements the relay's durable state: subscribers
// (inboxes), domain/software bans, the whitelist, users, opaque API
// tokens, admin-mutable config, and the advisory KV cache rows. Two
// dialects are supported — sqlite (modernc.org/sqlite) and PostgreSQL
// (jackc/pgx/v5's database/sql adapter) — behind a single Store
// interface so every other component depends on the interface, never
// on a concrete dialect.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned on a uniqueness violation the caller must
// handle explicitly (rather than upserting).
var ErrConflict = errors.New("store: conflict")

// Inbox is a subscribed instance (§3 Instance/Inbox).
type Inbox struct {
	Domain       string
	Actor        string
	Inbox        string
	FollowID     string
	Software     string // empty when unknown
	Failed       bool
	FailedAt     *time.Time
	Fail404Count int // 404s seen since the last successful delivery
	Created      time.Time
}

// DomainBan is an admin-maintained domain-level deny rule (§3).
type DomainBan struct {
	Domain  string
	Reason  string
	Note    string
	Created time.Time
}

// SoftwareBan is an admin-maintained nodeinfo-software deny rule (§3).
// Name is always stored lowercased.
type SoftwareBan struct {
	Name    string
	Reason  string
	Note    string
	Created time.Time
}

// WhitelistEntry allow-lists a domain when whitelist-enabled is set (§3).
type WhitelistEntry struct {
	Domain  string
	Created time.Time
}

// User is an admin/API account (§3).
type User struct {
	Username string
	Hash     string // bcrypt-encoded, includes cost factor
	Handle   string
	Created  time.Time
}

// Token is an opaque bearer credential tied to a User (§3).
type Token struct {
	Code    string
	User    string
	Created time.Time
}

// ConfigEntry is one row of the admin-mutable runtime config (§3/§6).
type ConfigEntry struct {
	Key   string
	Value string
	Type  string // str|int|bool|json
}

// CacheRow is one row of the DB-backed KV cache (§3/§4.B).
type CacheRow struct {
	Namespace string
	Key       string
	Value     string
	Type      string
	Updated   time.Time
}

// PendingRequest is a Follow awaiting admin approval when
// approval-required is set (§4.F's state machine).
type PendingRequest struct {
	Domain   string
	Actor    string
	Inbox    string
	FollowID string
	Software string
	Created  time.Time
}

// Recognized admin-mutable config keys (§6). Used to validate
// PATCH /api/v1/config payloads in internal/api.
const (
	ConfigKeyName             = "name"
	ConfigKeyNote             = "note"
	ConfigKeyTheme            = "theme"
	ConfigKeyLogLevel         = "log-level"
	ConfigKeyWhitelistEnabled = "whitelist-enabled"
	ConfigKeyApprovalRequired = "approval-required"
	ConfigKeySchemaVersion    = "schema-version"
	ConfigKeyPrivateKey       = "private-key"
	ConfigKeyPrivateKeyID     = "private-key-id"
)

// CurrentSchemaVersion is the highest migration version this binary
// understands. The supervisor refuses to start against a stored
// schema-version greater than this (§4.A, §6, §7 Fatal) — it has no
// way to know what a newer schema expects.
const CurrentSchemaVersion = 2

// Store is the typed row-CRUD surface every other component depends
// on. Implementation: sqlStore (sql_common.go), opened by NewSqlite or
// NewPostgres.
type Store interface {
	// Inboxes.
	GetInbox(ctx context.Context, needle string) (*Inbox, error)
	PutInbox(ctx context.Context, row Inbox) error
	DeleteInbox(ctx context.Context, needle string) error
	ListInboxes(ctx context.Context) ([]Inbox, error)
	ListActiveInboxes(ctx context.Context) ([]Inbox, error)
	MarkInboxFailed(ctx context.Context, domain string, failed bool) error
	// BumpInbox404 records one more 404 response for domain's inbox
	// and returns the new count. A successful delivery resets it via
	// MarkInboxFailed(ctx, domain, false); other failures leave it as is.
	BumpInbox404(ctx context.Context, domain string) (count int, err error)
	RemoveStaleFailedInboxes(ctx context.Context, olderThan time.Duration) (int, error)

	// Domain bans. BanDomain removes every inbox row sharing the
	// banned domain in the same transaction (Invariant 4).
	BanDomain(ctx context.Context, ban DomainBan) (removedInboxes int, err error)
	UnbanDomain(ctx context.Context, domain string) error
	GetDomainBan(ctx context.Context, domain string) (*DomainBan, error)
	ListDomainBans(ctx context.Context) ([]DomainBan, error)

	// Software bans.
	BanSoftware(ctx context.Context, ban SoftwareBan) error
	UnbanSoftware(ctx context.Context, name string) error
	GetSoftwareBan(ctx context.Context, name string) (*SoftwareBan, error)
	ListSoftwareBans(ctx context.Context) ([]SoftwareBan, error)

	// Whitelist. Whitelisting a domain does not automatically remove
	// an existing ban (§3 Invariant 2 / §9: "ban wins" is enforced by
	// the policy engine, not by mutating the ban table here).
	Whitelist(ctx context.Context, entry WhitelistEntry) error
	Unwhitelist(ctx context.Context, domain string) error
	IsWhitelisted(ctx context.Context, domain string) (bool, error)
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)

	// Users and tokens. DeleteUser cascades to tokens (Invariant 4).
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, username string) error

	CreateToken(ctx context.Context, token Token) error
	GetToken(ctx context.Context, code string) (*Token, error)
	ListTokensForUser(ctx context.Context, username string) ([]Token, error)
	DeleteToken(ctx context.Context, code string) error

	// Pending Follow requests (approval-required workflow).
	PutPendingRequest(ctx context.Context, req PendingRequest) error
	GetPendingRequest(ctx context.Context, domain string) (*PendingRequest, error)
	ListPendingRequests(ctx context.Context) ([]PendingRequest, error)
	DeletePendingRequest(ctx context.Context, domain string) error

	// Admin-mutable config.
	GetConfig(ctx context.Context, key string) (*ConfigEntry, error)
	PutConfig(ctx context.Context, entry ConfigEntry) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)

	// DB-backed cache rows (used by internal/cache's dbCache backend).
	GetCacheRow(ctx context.Context, namespace, key string) (*CacheRow, error)
	PutCacheRow(ctx context.Context, row CacheRow) error
	DeleteCacheRow(ctx context.Context, namespace, key string) error
	DeleteCacheNamespace(ctx context.Context, namespace string) error
	ClearCache(ctx context.Context) error
	SweepExpiredCache(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases underlying connections.
	Close() error
}

// RelayNames is the magic RELAYS software-ban token expansion (§3),
// resolved when an admin bans the token "RELAYS" so Evaluate (internal/
// policy) never has to special-case it at read time.
var RelayNames = []string{
	"activityrelay",
	"aoderelay",
	"selective-relay",
	"social.distribute",
}
