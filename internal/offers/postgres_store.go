package offers

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists offers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// offerColumns is the SELECT column list for offers.
const offerColumns = `id, listing_id, buyer_id, seller_id, amount, message,
	status, decline_reason,
	counter_amount, counter_message, counter_by, counter_created_at,
	round, final_amount, created_at, expires_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	var (
		counterAmount    sql.NullInt64
		counterMessage   sql.NullString
		counterBy        sql.NullString
		counterCreatedAt sql.NullTime
	)
	if o.Counter != nil {
		counterAmount = sql.NullInt64{Int64: o.Counter.Amount, Valid: true}
		counterMessage = nullStr(o.Counter.Message)
		counterBy = sql.NullString{String: string(o.Counter.By), Valid: true}
		counterCreatedAt = sql.NullTime{Time: o.Counter.CreatedAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (
			id, listing_id, buyer_id, seller_id, amount, message,
			status, decline_reason,
			counter_amount, counter_message, counter_by, counter_created_at,
			round, final_amount, created_at, expires_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount, nullStr(o.Message),
		string(o.Status), nullStr(o.DeclineReason),
		counterAmount, counterMessage, counterBy, counterCreatedAt,
		o.Round, nullInt(o.FinalAmount), o.CreatedAt, o.ExpiresAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Offer) error {
	var (
		counterAmount    sql.NullInt64
		counterMessage   sql.NullString
		counterBy        sql.NullString
		counterCreatedAt sql.NullTime
	)
	if o.Counter != nil {
		counterAmount = sql.NullInt64{Int64: o.Counter.Amount, Valid: true}
		counterMessage = nullStr(o.Counter.Message)
		counterBy = sql.NullString{String: string(o.Counter.By), Valid: true}
		counterCreatedAt = sql.NullTime{Time: o.Counter.CreatedAt, Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET
			status = $1, decline_reason = $2,
			counter_amount = $3, counter_message = $4, counter_by = $5, counter_created_at = $6,
			round = $7, final_amount = $8, updated_at = $9
		WHERE id = $10`,
		string(o.Status), nullStr(o.DeclineReason),
		counterAmount, counterMessage, counterBy, counterCreatedAt,
		o.Round, nullInt(o.FinalAmount), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string, status Status, limit int) ([]*Offer, error) {
	var query string
	var args []interface{}

	if status != "" {
		query = `SELECT ` + offerColumns + ` FROM offers
			WHERE listing_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3`
		args = []interface{}{listingID, string(status), limit}
	} else {
		query = `SELECT ` + offerColumns + ` FROM offers
			WHERE listing_id = $1
			ORDER BY created_at DESC LIMIT $2`
		args = []interface{}{listingID, limit}
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOffers(rows)
}

func (p *PostgresStore) ListActiveByListing(ctx context.Context, listingID string) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE listing_id = $1 AND status IN ('pending', 'countered')
		ORDER BY created_at DESC`,
		listingID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOffers(rows)
}

func (p *PostgresStore) GetActiveByBuyerAndListing(ctx context.Context, buyerID, listingID string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE listing_id = $1 AND buyer_id = $2 AND status IN ('pending', 'countered')
		LIMIT 1`,
		listingID, buyerID)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) GetLatestByBuyerAndListing(ctx context.Context, buyerID, listingID string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE listing_id = $1 AND buyer_id = $2
		ORDER BY created_at DESC LIMIT 1`,
		listingID, buyerID)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`,
		buyerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOffers(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE status IN ('pending', 'countered') AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOffers(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(sc scanner) (*Offer, error) {
	o := &Offer{}
	var (
		message          sql.NullString
		declineReason    sql.NullString
		counterAmount    sql.NullInt64
		counterMessage   sql.NullString
		counterBy        sql.NullString
		counterCreatedAt sql.NullTime
		finalAmount      sql.NullInt64
		status           string
	)

	err := sc.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Amount, &message,
		&status, &declineReason,
		&counterAmount, &counterMessage, &counterBy, &counterCreatedAt,
		&o.Round, &finalAmount, &o.CreatedAt, &o.ExpiresAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.Message = message.String
	o.DeclineReason = declineReason.String
	if counterAmount.Valid {
		o.Counter = &CounterOffer{
			Amount:    counterAmount.Int64,
			Message:   counterMessage.String,
			By:        Party(counterBy.String),
			CreatedAt: counterCreatedAt.Time,
		}
	}
	if finalAmount.Valid {
		o.FinalAmount = &finalAmount.Int64
	}

	return o, nil
}

func scanOffers(rows *sql.Rows) ([]*Offer, error) {
	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
