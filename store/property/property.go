package property

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/tealdao/derivekit/core"
	"github.com/tsenart/nap"
)

type store struct {
	db *nap.DB
}

func New(db *nap.DB) core.PropertyStore {
	return &store{db: db}
}

func (s *store) Get(ctx context.Context, key string, value any) error {
	b := sq.Select("value").
		From("properties").
		Where(sq.Eq{"key": key}).
		PlaceholderFormat(sq.Dollar)

	stmt, args, err := b.ToSql()
	if err != nil {
		return err
	}

	var raw []byte
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&raw); err == nil {
		return json.Unmarshal(raw, value)
	} else if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else {
		return err
	}
}

func (s *store) Set(ctx context.Context, key string, value any) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	b := sq.Insert("properties").
		Columns("key", "value").
		Values(key, jsonValue).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = properties.version + 1").
		PlaceholderFormat(sq.Dollar)

	stmt, args, err := b.ToSql()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to set property: %w", err)
	}

	return nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	b := sq.Delete("properties").
		Where(sq.Eq{"key": key}).
		PlaceholderFormat(sq.Dollar)

	stmt, args, err := b.ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, stmt, args...)
	return err
}
