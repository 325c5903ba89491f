package listings

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// listingColumns is the SELECT column list for listings.
const listingColumns = `id, seller_id, title, description, price,
	accepts_offers, minimum_offer, auto_accept_price,
	status, version, sold_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, title, description, price,
			accepts_offers, minimum_offer, auto_accept_price,
			status, version, sold_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13
		)`,
		l.ID, l.SellerID, l.Title, nullStr(l.Description), l.Price,
		l.AcceptsOffers, nullInt(l.MinimumOffer), nullInt(l.AutoAcceptPrice),
		string(l.Status), l.Version, nullTime(l.SoldAt), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	row := p.db.QueryRowContext(ctx, `
		UPDATE listings SET
			accepts_offers = $1, minimum_offer = $2, auto_accept_price = $3,
			version = version + 1, updated_at = $4
		WHERE id = $5
		RETURNING version`,
		l.AcceptsOffers, nullInt(l.MinimumOffer), nullInt(l.AutoAcceptPrice),
		l.UpdatedAt, l.ID,
	)
	err := row.Scan(&l.Version)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// MarkSold is the linearization point for offer acceptance: the version and
// status predicates ensure at most one writer wins per listing.
func (p *PostgresStore) MarkSold(ctx context.Context, id string, version int64, soldAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = 'sold', version = version + 1, sold_at = $1, updated_at = $1
		WHERE id = $2 AND version = $3 AND status = 'available'`,
		soldAt, id, version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Zero rows: distinguish missing, already sold, and stale version.
	l, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.Status != StatusAvailable {
		return ErrAlreadySold
	}
	return ErrVersionConflict
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanListings(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	var (
		description sql.NullString
		minOffer    sql.NullInt64
		autoAccept  sql.NullInt64
		soldAt      sql.NullTime
		status      string
	)

	err := sc.Scan(
		&l.ID, &l.SellerID, &l.Title, &description, &l.Price,
		&l.AcceptsOffers, &minOffer, &autoAccept,
		&status, &l.Version, &soldAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	l.Description = description.String
	if minOffer.Valid {
		l.MinimumOffer = &minOffer.Int64
	}
	if autoAccept.Valid {
		l.AutoAcceptPrice = &autoAccept.Int64
	}
	if soldAt.Valid {
		l.SoldAt = &soldAt.Time
	}

	return l, nil
}

func scanListings(rows *sql.Rows) ([]*Listing, error) {
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
