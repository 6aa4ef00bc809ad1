package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL. Subunit integers are
// stored as NUMERIC (a full uint64 does not fit BIGINT) and percentages as
// NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertPoolSnapshot(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_snapshots (
		     id, name,
		     bull_id, bull_name, bull_symbol, bull_reserve, bull_supply,
		     bull_vault_fee, bull_creator_fee, bull_treasury_fee, bull_creator,
		     bear_id, bear_name, bear_symbol, bear_reserve, bear_supply,
		     bear_vault_fee, bear_creator_fee, bear_treasury_fee, bear_creator,
		     bull_percentage, bear_percentage, fetched_at
		 ) VALUES (
		     $1, $2,
		     $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11,
		     $12, $13, $14, $15::NUMERIC, $16::NUMERIC, $17, $18, $19, $20,
		     $21::NUMERIC, $22::NUMERIC, $23
		 )
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     bull_id = EXCLUDED.bull_id, bull_name = EXCLUDED.bull_name,
		     bull_symbol = EXCLUDED.bull_symbol,
		     bull_reserve = EXCLUDED.bull_reserve, bull_supply = EXCLUDED.bull_supply,
		     bull_vault_fee = EXCLUDED.bull_vault_fee,
		     bull_creator_fee = EXCLUDED.bull_creator_fee,
		     bull_treasury_fee = EXCLUDED.bull_treasury_fee,
		     bull_creator = EXCLUDED.bull_creator,
		     bear_id = EXCLUDED.bear_id, bear_name = EXCLUDED.bear_name,
		     bear_symbol = EXCLUDED.bear_symbol,
		     bear_reserve = EXCLUDED.bear_reserve, bear_supply = EXCLUDED.bear_supply,
		     bear_vault_fee = EXCLUDED.bear_vault_fee,
		     bear_creator_fee = EXCLUDED.bear_creator_fee,
		     bear_treasury_fee = EXCLUDED.bear_treasury_fee,
		     bear_creator = EXCLUDED.bear_creator,
		     bull_percentage = EXCLUDED.bull_percentage,
		     bear_percentage = EXCLUDED.bear_percentage,
		     fetched_at = EXCLUDED.fetched_at`,
		p.ID, p.Name,
		p.Bull.ID, p.Bull.Name, p.Bull.Symbol,
		strconv.FormatUint(p.Bull.Reserve, 10), strconv.FormatUint(p.Bull.Supply, 10),
		int64(p.Bull.VaultFee), int64(p.Bull.CreatorFee), int64(p.Bull.TreasuryFee), p.Bull.VaultCreator,
		p.Bear.ID, p.Bear.Name, p.Bear.Symbol,
		strconv.FormatUint(p.Bear.Reserve, 10), strconv.FormatUint(p.Bear.Supply, 10),
		int64(p.Bear.VaultFee), int64(p.Bear.CreatorFee), int64(p.Bear.TreasuryFee), p.Bear.VaultCreator,
		p.BullPercentage.String(), p.BearPercentage.String(),
		p.FetchedAt,
	)
	return err
}

const poolColumns = `id, name,
    bull_id, bull_name, bull_symbol, bull_reserve::TEXT, bull_supply::TEXT,
    bull_vault_fee, bull_creator_fee, bull_treasury_fee, bull_creator,
    bear_id, bear_name, bear_symbol, bear_reserve::TEXT, bear_supply::TEXT,
    bear_vault_fee, bear_creator_fee, bear_treasury_fee, bear_creator,
    bull_percentage::TEXT, bear_percentage::TEXT, fetched_at`

func (s *PostgresStore) GetPoolSnapshot(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pool_snapshots WHERE id = $1`, id)

	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool snapshot %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPoolSnapshots(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pool_snapshots ORDER BY fetched_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) InsertTradeReceipt(ctx context.Context, r *model.TradeReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_receipts (id, address, pool_id, kind, side, subunits, amount, digest, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		r.ID, r.Address, r.PoolID, r.Kind, r.Side,
		strconv.FormatUint(r.Subunits, 10), r.Amount.String(),
		r.Digest, r.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetTradeReceiptsByAddress(ctx context.Context, address string) ([]model.TradeReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, address, pool_id, kind, side, subunits::TEXT, amount::TEXT, digest, timestamp
		 FROM trade_receipts WHERE address = $1 ORDER BY timestamp`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeReceipts(rows)
}

func (s *PostgresStore) GetTradeReceiptsByPool(ctx context.Context, poolID string) ([]model.TradeReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, address, pool_id, kind, side, subunits::TEXT, amount::TEXT, digest, timestamp
		 FROM trade_receipts WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeReceipts(rows)
}

// pgxRow is the single-row subset of pgx scanning shared by QueryRow and
// rows iteration.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPool(row pgxRow) (*model.Pool, error) {
	var p model.Pool
	var bullReserve, bullSupply, bearReserve, bearSupply string
	var bullVF, bullCF, bullTF, bearVF, bearCF, bearTF int64
	var bullPct, bearPct string

	err := row.Scan(&p.ID, &p.Name,
		&p.Bull.ID, &p.Bull.Name, &p.Bull.Symbol, &bullReserve, &bullSupply,
		&bullVF, &bullCF, &bullTF, &p.Bull.VaultCreator,
		&p.Bear.ID, &p.Bear.Name, &p.Bear.Symbol, &bearReserve, &bearSupply,
		&bearVF, &bearCF, &bearTF, &p.Bear.VaultCreator,
		&bullPct, &bearPct, &p.FetchedAt)
	if err != nil {
		return nil, err
	}

	p.Bull.Reserve, _ = strconv.ParseUint(bullReserve, 10, 64)
	p.Bull.Supply, _ = strconv.ParseUint(bullSupply, 10, 64)
	p.Bull.VaultFee = uint64(bullVF)
	p.Bull.CreatorFee = uint64(bullCF)
	p.Bull.TreasuryFee = uint64(bullTF)
	p.Bear.Reserve, _ = strconv.ParseUint(bearReserve, 10, 64)
	p.Bear.Supply, _ = strconv.ParseUint(bearSupply, 10, 64)
	p.Bear.VaultFee = uint64(bearVF)
	p.Bear.CreatorFee = uint64(bearCF)
	p.Bear.TreasuryFee = uint64(bearTF)
	p.BullPercentage, _ = decimal.NewFromString(bullPct)
	p.BearPercentage, _ = decimal.NewFromString(bearPct)

	return &p, nil
}

func scanTradeReceipts(rows pgxRows) ([]model.TradeReceipt, error) {
	var receipts []model.TradeReceipt
	for rows.Next() {
		var r model.TradeReceipt
		var subunitsS, amountS string

		if err := rows.Scan(&r.ID, &r.Address, &r.PoolID, &r.Kind, &r.Side,
			&subunitsS, &amountS, &r.Digest, &r.Timestamp); err != nil {
			return nil, err
		}

		r.Subunits, _ = strconv.ParseUint(subunitsS, 10, 64)
		r.Amount, _ = decimal.NewFromString(amountS)

		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
