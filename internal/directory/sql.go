package directory

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	logx "dailycast/pkg/logx"
)

// sqlDirectory is shared by the sqlite and postgres drivers. Active pages
// through the table by id (keyset pagination), so a pass never holds a
// cursor open across sends.
type sqlDirectory struct {
	db       *sql.DB
	log      logx.Logger
	pageSize int

	qPage   string
	qRemove string
	qCount  string
	qAdd    string
}

func (d *sqlDirectory) Active(ctx context.Context) iter.Seq2[Recipient, error] {
	return func(yield func(Recipient, error) bool) {
		var after int64
		for {
			page, err := d.page(ctx, after)
			if err != nil {
				yield(Recipient{}, err)
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
				after = r.ID
			}
			if len(page) < d.pageSize {
				return
			}
		}
	}
}

func (d *sqlDirectory) page(ctx context.Context, after int64) ([]Recipient, error) {
	rows, err := d.db.QueryContext(ctx, d.qPage, after, d.pageSize)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	out := make([]Recipient, 0, d.pageSize)
	for rows.Next() {
		var (
			r    Recipient
			name sql.NullString
			at   int64
		)
		if err := rows.Scan(&r.ID, &name, &at); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Name = name.String
		if at > 0 {
			r.SubscribedAt = time.Unix(at, 0).UTC()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

func (d *sqlDirectory) Remove(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, d.qRemove, id)
	return err
}

func (d *sqlDirectory) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, d.qCount).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *sqlDirectory) Add(ctx context.Context, r Recipient) error {
	if r.ID <= 0 {
		return ErrInvalidID
	}
	at := r.SubscribedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.db.ExecContext(ctx, d.qAdd, r.ID, r.Name, at.Unix())
	return err
}

func (d *sqlDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
