// This file implements the rule operations of the SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// timeLayout is used for created_at/updated_at columns.
const timeLayout = time.RFC3339Nano

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetByChannel returns the channel's rules ordered by position.
func (b *Backend) GetByChannel(ctx context.Context, channelID string) ([]types.Rule, error) {
	db, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release()

	rows, err := db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE channel_id = ? ORDER BY position ASC",
		channelID,
	)
	if err != nil {
		return nil, types.WrapStorage("query channel", err)
	}
	defer rows.Close()

	rules := []types.Rule{}
	for rows.Next() {
		r, err := hydrateRule(rows)
		if err != nil {
			return nil, types.WrapStorage("scan rule", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapStorage("iterate rules", err)
	}
	return rules, nil
}

// Get returns a single rule by ID.
func (b *Backend) Get(ctx context.Context, id string) (types.Rule, error) {
	db, err := b.acquire()
	if err != nil {
		return types.Rule{}, err
	}
	defer b.release()

	r, err := hydrateRule(db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE rule_id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Rule{}, &types.NotFoundError{ID: id}
	}
	if err != nil {
		return types.Rule{}, types.WrapStorage("get rule", err)
	}
	return r, nil
}

// Upsert inserts a NewRule or updates an ExistingRule in one transaction.
// Any other row at the same (channel_id, position) is removed first.
func (b *Backend) Upsert(ctx context.Context, u types.Upsert) (types.Rule, error) {
	rec := types.Record(u)
	if _, ok := u.(types.ExistingRule); ok && rec.ID == "" {
		return types.Rule{}, &types.ValidationError{Field: "id", Reason: "existing rule requires an id"}
	}
	if err := rec.Validate(); err != nil {
		return types.Rule{}, err
	}

	db, err := b.acquire()
	if err != nil {
		return types.Rule{}, err
	}
	defer b.release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.Rule{}, types.WrapStorage("begin upsert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	isCreate := rec.ID == ""
	if isCreate {
		rec.ID = types.NewRuleID()
		rec.CreatedAt = now
	} else {
		var createdAt string
		err := tx.QueryRowContext(ctx, "SELECT created_at FROM rules WHERE rule_id = ?", rec.ID).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return types.Rule{}, &types.NotFoundError{ID: rec.ID}
		}
		if err != nil {
			return types.Rule{}, types.WrapStorage("check rule", err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return types.Rule{}, types.WrapStorage("parse created_at", err)
		}
	}
	rec.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM rules WHERE channel_id = ? AND position = ? AND rule_id != ?",
		rec.ChannelID, rec.Order, rec.ID,
	); err != nil {
		return types.Rule{}, types.WrapStorage("clear position", err)
	}

	if isCreate {
		err = insertRule(ctx, tx, rec)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE rules SET channel_id = ?, position = ?, search_text = ?, sound = ?,
			 enabled = ?, priority = ?, updated_at = ? WHERE rule_id = ?`,
			rec.ChannelID, rec.Order, rec.SearchText, rec.Sound,
			rec.Enabled, rec.Priority, rec.UpdatedAt.Format(timeLayout), rec.ID,
		)
	}
	if err != nil {
		return types.Rule{}, types.WrapStorage("write rule", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Rule{}, types.WrapStorage("commit upsert", err)
	}
	return rec, nil
}

// ReplaceForChannel deletes every row of the channel and inserts rules in a
// single transaction. An ID owned by another channel is a validation error.
// Any failure rolls back to the prior rows.
func (b *Backend) ReplaceForChannel(ctx context.Context, channelID string, rules []types.Rule) error {
	prepared, err := types.PrepareReplace(channelID, rules, time.Now().UTC())
	if err != nil {
		return err
	}

	db, err := b.acquire()
	if err != nil {
		return err
	}
	defer b.release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapStorage("begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE channel_id = ?", channelID); err != nil {
		return types.WrapStorage("delete channel", err)
	}
	for _, r := range prepared {
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT channel_id FROM rules WHERE rule_id = ?", r.ID).Scan(&owner)
		if err == nil {
			return types.HeldByChannel(r.ID, owner)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return types.WrapStorage("check rule owner", err)
		}
		if err := insertRule(ctx, tx, r); err != nil {
			return types.WrapStorage(fmt.Sprintf("insert rule at %d", r.Order), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapStorage("commit replace", err)
	}

	b.log.Debug("replaced channel",
		zap.String("channel", channelID),
		zap.Int("rules", len(prepared)))
	return nil
}

// DeleteByChannel removes every row of the channel.
func (b *Backend) DeleteByChannel(ctx context.Context, channelID string) error {
	db, err := b.acquire()
	if err != nil {
		return err
	}
	defer b.release()

	if _, err := db.ExecContext(ctx, "DELETE FROM rules WHERE channel_id = ?", channelID); err != nil {
		return types.WrapStorage("delete channel", err)
	}
	return nil
}

// Delete removes one rule by ID.
func (b *Backend) Delete(ctx context.Context, id string) error {
	db, err := b.acquire()
	if err != nil {
		return err
	}
	defer b.release()

	res, err := db.ExecContext(ctx, "DELETE FROM rules WHERE rule_id = ?", id)
	if err != nil {
		return types.WrapStorage("delete rule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.WrapStorage("delete rule", err)
	}
	if n == 0 {
		return &types.NotFoundError{ID: id}
	}
	return nil
}

// Channels lists channels holding at least one rule.
func (b *Backend) Channels(ctx context.Context) ([]string, error) {
	db, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release()

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT channel_id FROM rules ORDER BY channel_id ASC")
	if err != nil {
		return nil, types.WrapStorage("list channels", err)
	}
	defer rows.Close()

	channels := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, types.WrapStorage("scan channel", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapStorage("iterate channels", err)
	}
	return channels, nil
}

func insertRule(ctx context.Context, tx *sql.Tx, r types.Rule) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO rules ("+ruleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.ChannelID, r.Order, r.SearchText, r.Sound, r.Enabled, r.Priority,
		r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout),
	)
	return err
}

// hydrateRule converts a row into a types.Rule.
func hydrateRule(row rowScanner) (types.Rule, error) {
	var r types.Rule
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.ChannelID, &r.Order, &r.SearchText, &r.Sound,
		&r.Enabled, &r.Priority, &createdAt, &updatedAt); err != nil {
		return types.Rule{}, err
	}
	var err error
	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return types.Rule{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return types.Rule{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}
