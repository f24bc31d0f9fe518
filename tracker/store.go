package tracker

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed persistence layer for recommendations, in the
// teacher's store/strategy.go raw-SQL idiom (CREATE TABLE IF NOT EXISTS,
// an updated_at trigger, hand-written queries over database/sql) rather
// than an ORM.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the sqlite database at path and ensures the
// schema exists. Pass ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recommendations (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			leverage TEXT NOT NULL DEFAULT '1',
			take_profit_price TEXT,
			stop_loss_price TEXT,
			confidence_score REAL NOT NULL DEFAULT 0,
			position_size TEXT,
			strategy_type TEXT DEFAULT '',
			source TEXT DEFAULT '',
			status TEXT NOT NULL,
			current_price TEXT NOT NULL DEFAULT '0',
			result TEXT,
			exit_price TEXT,
			exit_time DATETIME,
			exit_reason TEXT,
			pnl_amount TEXT,
			pnl_percent TEXT,
			trail_active BOOLEAN DEFAULT 0,
			trail_price TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_recommendations_symbol_dir ON recommendations(symbol, direction)`)

	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_recommendations_updated_at
		AFTER UPDATE ON recommendations
		BEGIN
			UPDATE recommendations SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)
	return err
}

func decStr(d decimal.Decimal) string { return d.String() }

func decPtrStr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	v, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// Create inserts a new recommendation row.
func (s *Store) Create(r *Recommendation) error {
	_, err := s.db.Exec(`
		INSERT INTO recommendations
			(id, symbol, direction, entry_price, leverage, take_profit_price, stop_loss_price,
			 confidence_score, position_size, strategy_type, source, status, current_price,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Symbol, string(r.Direction), decStr(r.EntryPrice), decStr(r.Leverage),
		decPtrStr(r.TakeProfitPrice), decPtrStr(r.StopLossPrice),
		r.ConfidenceScore, decPtrStr(r.PositionSize), r.StrategyType, r.Source,
		string(r.Status), decStr(r.CurrentPrice), r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// Update persists the full mutable state of r (status, current price,
// resolution fields, trailing stop state).
func (s *Store) Update(r *Recommendation) error {
	var resultStr, reasonStr sql.NullString
	if r.Result != nil {
		resultStr = sql.NullString{String: string(*r.Result), Valid: true}
	}
	if r.ExitReason != nil {
		reasonStr = sql.NullString{String: string(*r.ExitReason), Valid: true}
	}
	var exitTime sql.NullTime
	if r.ExitTime != nil {
		exitTime = sql.NullTime{Time: *r.ExitTime, Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE recommendations SET
			status = ?, current_price = ?, result = ?, exit_price = ?, exit_time = ?,
			exit_reason = ?, pnl_amount = ?, pnl_percent = ?, trail_active = ?, trail_price = ?
		WHERE id = ?
	`,
		string(r.Status), decStr(r.CurrentPrice), resultStr, decPtrStr(r.ExitPrice), exitTime,
		reasonStr, decPtrStr(r.PnLAmount), decPtrStr(r.PnLPercent), r.TrailActive, decPtrStr(r.TrailPrice),
		r.ID,
	)
	return err
}

// ListActive returns every PENDING/ACTIVE recommendation, for startup
// rehydration.
func (s *Store) ListActive() ([]*Recommendation, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, direction, entry_price, leverage, take_profit_price, stop_loss_price,
			confidence_score, position_size, strategy_type, source, status, current_price,
			result, exit_price, exit_time, exit_reason, pnl_amount, pnl_percent,
			trail_active, trail_price, created_at, updated_at
		FROM recommendations WHERE status IN ('PENDING', 'ACTIVE')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// ListAll returns every recommendation, for statistics and history.
func (s *Store) ListAll() ([]*Recommendation, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, direction, entry_price, leverage, take_profit_price, stop_loss_price,
			confidence_score, position_size, strategy_type, source, status, current_price,
			result, exit_price, exit_time, exit_reason, pnl_amount, pnl_percent,
			trail_active, trail_price, created_at, updated_at
		FROM recommendations
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

func scanRecommendations(rows *sql.Rows) ([]*Recommendation, error) {
	var out []*Recommendation
	for rows.Next() {
		var (
			r                                    Recommendation
			direction, status                    string
			entryPrice, leverage, currentPrice   string
			tp, sl, positionSize                  sql.NullString
			result, exitReason                   sql.NullString
			exitPrice, pnlAmount, pnlPercent      sql.NullString
			trailPrice                           sql.NullString
			exitTime                             sql.NullTime
		)
		if err := rows.Scan(
			&r.ID, &r.Symbol, &direction, &entryPrice, &leverage, &tp, &sl,
			&r.ConfidenceScore, &positionSize, &r.StrategyType, &r.Source, &status, &currentPrice,
			&result, &exitPrice, &exitTime, &exitReason, &pnlAmount, &pnlPercent,
			&r.TrailActive, &trailPrice, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}

		r.Direction = Direction(direction)
		r.Status = Status(status)

		ep, err := decimal.NewFromString(entryPrice)
		if err != nil {
			return nil, err
		}
		r.EntryPrice = ep

		lev, err := decimal.NewFromString(leverage)
		if err != nil {
			return nil, err
		}
		r.Leverage = lev

		cp, err := decimal.NewFromString(currentPrice)
		if err != nil {
			return nil, err
		}
		r.CurrentPrice = cp

		if r.TakeProfitPrice, err = parseDecPtr(tp); err != nil {
			return nil, err
		}
		if r.StopLossPrice, err = parseDecPtr(sl); err != nil {
			return nil, err
		}
		if r.PositionSize, err = parseDecPtr(positionSize); err != nil {
			return nil, err
		}
		if r.ExitPrice, err = parseDecPtr(exitPrice); err != nil {
			return nil, err
		}
		if r.PnLAmount, err = parseDecPtr(pnlAmount); err != nil {
			return nil, err
		}
		if r.PnLPercent, err = parseDecPtr(pnlPercent); err != nil {
			return nil, err
		}
		if r.TrailPrice, err = parseDecPtr(trailPrice); err != nil {
			return nil, err
		}

		if rs := strPtr(result); rs != nil {
			v := Result(*rs)
			r.Result = &v
		}
		if rs := strPtr(exitReason); rs != nil {
			v := ExitReason(*rs)
			r.ExitReason = &v
		}
		r.ExitTime = timePtr(exitTime)

		out = append(out, &r)
	}
	return out, rows.Err()
}

// PruneClosed deletes CLOSED/EXPIRED rows older than maxAge, measured from
// exit_time against now. Promoted from spec §3's passing mention of an
// age-based prune into an explicit operation (SPEC_FULL.md C5 additions).
func (s *Store) PruneClosed(now time.Time, maxAge time.Duration) (int64, error) {
	cutoff := now.Add(-maxAge)
	res, err := s.db.Exec(`
		DELETE FROM recommendations
		WHERE status IN ('CLOSED', 'EXPIRED') AND exit_time IS NOT NULL AND exit_time < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
