package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rbaliyan/mailboxer"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is the key prefix used for participant hashes.
const DefaultKeyPrefix = "mailboxer:participant"

// Hash fields read from each participant key.
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldWantsEmail = "wants_email"
)

// Redis resolves participants from Redis hashes stored at "<prefix>:<id>".
// A missing key resolves to a bare Profile. The wants_email field accepts
// anything strconv.ParseBool does; "messages" opts into messages only.
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ mailboxer.Directory = (*Redis)(nil)

// RedisOption configures a Redis directory.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for malformed entries.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRedis creates a Redis-backed directory.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the hash key for a participant ID.
func (r *Redis) Key(id string) string {
	return r.prefix + ":" + id
}

// Save writes a profile hash. Policies other than nil, NeverEmail and
// OnlyMessages cannot be represented and are stored as "true".
func (r *Redis) Save(ctx context.Context, p *mailboxer.Profile) error {
	wants := "true"
	if p.EmailPolicy != nil {
		msg := p.EmailPolicy(&store.Message{})
		note := p.EmailPolicy(&store.Notification{})
		switch {
		case !msg && !note:
			wants = "false"
		case msg && !note:
			wants = "messages"
		}
	}
	err := r.client.HSet(ctx, r.Key(p.UserID),
		FieldName, p.Name,
		FieldEmail, p.Email,
		FieldWantsEmail, wants,
	).Err()
	if err != nil {
		return fmt.Errorf("resolver: save %s: %w", p.UserID, err)
	}
	return nil
}

// Lookup fetches all IDs in one pipeline.
func (r *Redis) Lookup(ctx context.Context, ids []string) ([]mailboxer.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.Key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup: %w", err)
	}

	out := make([]mailboxer.Participant, len(ids))
	for i, id := range ids {
		out[i] = r.profile(id, cmds[i].Val())
	}
	return out, nil
}

func (r *Redis) profile(id string, fields map[string]string) *mailboxer.Profile {
	p := &mailboxer.Profile{
		UserID: id,
		Name:   fields[FieldName],
		Email:  fields[FieldEmail],
	}
	raw, ok := fields[FieldWantsEmail]
	if !ok || raw == "" {
		return p
	}
	if raw == "messages" {
		p.EmailPolicy = mailboxer.OnlyMessages
		return p
	}
	wants, err := strconv.ParseBool(raw)
	if err != nil {
		r.logger.Warn("invalid wants_email value", "participant", id, "value", raw)
		return p
	}
	if !wants {
		p.EmailPolicy = mailboxer.NeverEmail
	}
	return p
}
