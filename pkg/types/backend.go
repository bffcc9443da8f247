package types

import "context"

// Backend defines durable, atomic CRUD over rules grouped by channel.
// Callers attach to a backend, use it, and detach when done.
type Backend interface {
	// Attach connects the backend to the storage described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached
	// if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources after in-flight writes complete.
	// Idempotent. After Detach, operations return ErrDetached.
	Detach() error

	// GetByChannel returns the channel's rules ordered by Order ascending.
	// An unknown channel yields an empty slice and no error.
	GetByChannel(ctx context.Context, channelID string) ([]Rule, error)

	// Get returns the rule with the given ID or a NotFoundError.
	Get(ctx context.Context, id string) (Rule, error)

	// Upsert creates a NewRule or updates an ExistingRule and returns the
	// stored row. A row already holding the same (ChannelID, Order) is
	// replaced. An ExistingRule with an unknown ID yields a NotFoundError.
	Upsert(ctx context.Context, u Upsert) (Rule, error)

	// ReplaceForChannel deletes every row of channelID and inserts rules as
	// one indivisible operation. Readers observe the full old set or the
	// full new set. On failure the prior rows are left untouched.
	ReplaceForChannel(ctx context.Context, channelID string, rules []Rule) error

	// DeleteByChannel removes every row of channelID.
	DeleteByChannel(ctx context.Context, channelID string) error

	// Delete removes the rule with the given ID or returns a NotFoundError.
	Delete(ctx context.Context, id string) error

	// Channels lists the channel IDs that hold at least one row.
	Channels(ctx context.Context) ([]string, error)
}
