package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/alerting"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertMarketSampleSQL = `INSERT INTO market_samples (
        bucket_ts,
        price_usd,
        price_eur,
        fastest_fee,
        half_hour_fee,
        hour_fee,
        fee_level,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        price_usd     = EXCLUDED.price_usd,
        price_eur     = EXCLUDED.price_eur,
        fastest_fee   = EXCLUDED.fastest_fee,
        half_hour_fee = EXCLUDED.half_hour_fee,
        hour_fee      = EXCLUDED.hour_fee,
        fee_level     = EXCLUDED.fee_level,
        status        = EXCLUDED.status,
        error         = EXCLUDED.error;`

	sampleColumns = `bucket_ts,
        price_usd::text,
        price_eur::text,
        fastest_fee,
        half_hour_fee,
        hour_fee,
        fee_level,
        status,
        error,
        created_at`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM market_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM market_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM market_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        alert_key,
        severity,
        message,
        channel
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, alert_key, severity, message, channel, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        alert_key,
        severity,
        message,
        channel,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MarketSampleStore defines operations for market sample persistence.
type MarketSampleStore interface {
	UpsertMarketSample(ctx context.Context, sample MarketSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]MarketSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]MarketSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to market samples and alerts.
type Store struct {
	pool    *pgxpool.Pool
	channel string
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithChannel sets the channel name stamped on recorded alerts.
func (s *Store) WithChannel(channel string) *Store {
	s.channel = channel
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMarketSample persists or updates a market sample.
func (s *Store) UpsertMarketSample(ctx context.Context, sample MarketSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertMarketSampleSQL,
		sample.Bucket,
		nullDecimal(sample.PriceUSD),
		nullDecimal(sample.PriceEUR),
		sample.FastestFee,
		sample.HalfHourFee,
		sample.HourFee,
		sample.FeeLevel,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert market sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]MarketSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]MarketSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Key,
		alert.Severity,
		alert.Message,
		alert.Channel,
	)

	var rec AlertRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Key,
		&rec.Severity,
		&rec.Message,
		&rec.Channel,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// RecordAlert stores ev as an audit row.
func (s *Store) RecordAlert(ctx context.Context, ev alerting.Event) error {
	_, err := s.InsertAlert(ctx, AlertRecord{
		Key:      ev.Key,
		Severity: string(ev.Severity),
		Message:  ev.Message,
		Channel:  s.channel,
	})
	return err
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Key,
			&rec.Severity,
			&rec.Message,
			&rec.Channel,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]MarketSample, error) {
	samples := make([]MarketSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanMarketSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanMarketSample(rows pgx.Rows) (MarketSample, error) {
	var (
		sample   MarketSample
		usdStr   sql.NullString
		eurStr   sql.NullString
		fastest  sql.NullFloat64
		halfHour sql.NullFloat64
		hour     sql.NullFloat64
		errMsg   sql.NullString
	)

	if err := rows.Scan(
		&sample.Bucket,
		&usdStr,
		&eurStr,
		&fastest,
		&halfHour,
		&hour,
		&sample.FeeLevel,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return MarketSample{}, err
	}

	var err error
	if sample.PriceUSD, err = parseNullDecimal(usdStr); err != nil {
		return MarketSample{}, fmt.Errorf("parse price usd: %w", err)
	}
	if sample.PriceEUR, err = parseNullDecimal(eurStr); err != nil {
		return MarketSample{}, fmt.Errorf("parse price eur: %w", err)
	}
	sample.FastestFee = nullFloat(fastest)
	sample.HalfHourFee = nullFloat(halfHour)
	sample.HourFee = nullFloat(hour)
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

var (
	_ MarketSampleStore = (*Store)(nil)
	_ AlertStore        = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
	_ alerting.Recorder = (*Store)(nil)
)
