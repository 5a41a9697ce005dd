package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/strategy"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists bar and trade records to TimescaleDB off the hot
// path. Enqueue never blocks the bar loop; rows are dropped with a
// warning when the queue is full.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	bars      chan strategy.BarRecord
	trades    chan strategy.TradeRecord
	started   atomic.Bool
	dropBar   atomic.Uint64
	dropTrade atomic.Uint64
}

func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		bars:   make(chan strategy.BarRecord, queueSize),
		trades: make(chan strategy.TradeRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueBar(record strategy.BarRecord) {
	if w == nil {
		return
	}
	select {
	case w.bars <- record:
		return
	default:
		if w.dropBar.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal bar queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(record strategy.TradeRecord) {
	if w == nil {
		return
	}
	select {
	case w.trades <- record:
		return
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal trade queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-w.bars:
			w.writeBar(ctx, record)
		case record := <-w.trades:
			w.writeTrade(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		eth_price DOUBLE PRECISION NOT NULL,
		btc_price DOUBLE PRECISION NOT NULL,
		r DOUBLE PRECISION NOT NULL,
		mean DOUBLE PRECISION NOT NULL,
		sigma DOUBLE PRECISION NOT NULL,
		sigma_eff DOUBLE PRECISION NOT NULL,
		zscore DOUBLE PRECISION NOT NULL,
		ready BOOLEAN NOT NULL,
		vol_eth DOUBLE PRECISION NOT NULL DEFAULT 0,
		vol_btc DOUBLE PRECISION NOT NULL DEFAULT 0,
		weight_eth DOUBLE PRECISION NOT NULL DEFAULT 0,
		weight_btc DOUBLE PRECISION NOT NULL DEFAULT 0,
		eth_notional DOUBLE PRECISION NOT NULL DEFAULT 0,
		btc_notional DOUBLE PRECISION NOT NULL DEFAULT 0,
		funding_cost_est DOUBLE PRECISION NOT NULL DEFAULT 0,
		funding_skip BOOLEAN NOT NULL DEFAULT FALSE,
		event TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		equity DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts)
	)`, w.table("bar_records"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		exit_ts TIMESTAMPTZ NOT NULL,
		entry_ts TIMESTAMPTZ NOT NULL,
		direction TEXT NOT NULL,
		entry_z DOUBLE PRECISION NOT NULL,
		exit_z DOUBLE PRECISION NOT NULL,
		exit_reason TEXT NOT NULL,
		eth_qty DOUBLE PRECISION NOT NULL,
		btc_qty DOUBLE PRECISION NOT NULL,
		eth_entry_price DOUBLE PRECISION NOT NULL,
		btc_entry_price DOUBLE PRECISION NOT NULL,
		eth_exit_price DOUBLE PRECISION NOT NULL,
		btc_exit_price DOUBLE PRECISION NOT NULL,
		notional DOUBLE PRECISION NOT NULL,
		gross_pnl DOUBLE PRECISION NOT NULL,
		funding_cost DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (exit_ts, entry_ts)
	)`, w.table("trade_records"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("bar_records"))); err != nil && w.log != nil {
		w.log.Warn("bar_records hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'exit_ts', if_not_exists => TRUE)", w.table("trade_records"))); err != nil && w.log != nil {
		w.log.Warn("trade_records hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeBar(ctx context.Context, record strategy.BarRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, eth_price, btc_price, r, mean, sigma, sigma_eff, zscore, ready,
		vol_eth, vol_btc, weight_eth, weight_btc, eth_notional, btc_notional,
		funding_cost_est, funding_skip, event, status, direction, equity
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
	)
	ON CONFLICT (ts) DO UPDATE SET
		eth_price = EXCLUDED.eth_price,
		btc_price = EXCLUDED.btc_price,
		r = EXCLUDED.r,
		mean = EXCLUDED.mean,
		sigma = EXCLUDED.sigma,
		sigma_eff = EXCLUDED.sigma_eff,
		zscore = EXCLUDED.zscore,
		ready = EXCLUDED.ready,
		vol_eth = EXCLUDED.vol_eth,
		vol_btc = EXCLUDED.vol_btc,
		weight_eth = EXCLUDED.weight_eth,
		weight_btc = EXCLUDED.weight_btc,
		eth_notional = EXCLUDED.eth_notional,
		btc_notional = EXCLUDED.btc_notional,
		funding_cost_est = EXCLUDED.funding_cost_est,
		funding_skip = EXCLUDED.funding_skip,
		event = EXCLUDED.event,
		status = EXCLUDED.status,
		direction = EXCLUDED.direction,
		equity = EXCLUDED.equity`, w.table("bar_records"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Timestamp,
		record.EthPrice,
		record.BtcPrice,
		record.R,
		record.Mean,
		record.Sigma,
		record.SigmaEff,
		record.ZScore,
		record.Ready,
		record.VolEth,
		record.VolBtc,
		record.WeightEth,
		record.WeightBtc,
		record.EthNotional,
		record.BtcNotional,
		record.FundingCostEst,
		record.FundingSkip,
		record.Event,
		string(record.Status),
		string(record.Direction),
		record.Equity,
	); err != nil && w.log != nil {
		w.log.Warn("bar record insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, record strategy.TradeRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		exit_ts, entry_ts, direction, entry_z, exit_z, exit_reason, eth_qty, btc_qty,
		eth_entry_price, btc_entry_price, eth_exit_price, btc_exit_price, notional, gross_pnl, funding_cost
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)
	ON CONFLICT (exit_ts, entry_ts) DO NOTHING`, w.table("trade_records"))
	if _, err := w.db.ExecContext(ctx, query,
		record.ExitTime,
		record.EntryTime,
		string(record.Direction),
		record.EntryZ,
		record.ExitZ,
		string(record.ExitReason),
		record.EthQty,
		record.BtcQty,
		record.EthEntryPrice,
		record.BtcEntryPrice,
		record.EthExitPrice,
		record.BtcExitPrice,
		record.Notional,
		record.GrossPnL,
		record.FundingCost,
	); err != nil && w.log != nil {
		w.log.Warn("trade record insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
