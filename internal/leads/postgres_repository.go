package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
)

var repoTracer = otel.Tracer("buyerleads.internal.leads.postgres")

// DB is the subset of pgxpool.Pool used by PostgresRepository.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores buyers and their history in Postgres.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const buyerColumns = `id, full_name, email, phone, city, property_type, bhk, purpose,
	budget_min, budget_max, timeline, source, status, notes, tags, owner_id,
	updated_at, created_at`

const insertBuyerSQL = `
	INSERT INTO buyers (full_name, email, phone, city, property_type, bhk, purpose,
		budget_min, budget_max, timeline, source, status, notes, tags, owner_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING ` + buyerColumns

const insertHistorySQL = `
	INSERT INTO buyer_history (buyer_id, changed_by, diff)
	VALUES ($1, $2, $3)
`

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("leads: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("leads: commit tx: %w", err)
	}
	return nil
}

func insertBuyer(ctx context.Context, q querier, nb NewBuyer) (*Buyer, error) {
	tags := nb.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("leads: marshal tags: %w", err)
	}
	b, err := scanBuyer(q.QueryRow(ctx, insertBuyerSQL,
		nb.FullName,
		nb.Email,
		nb.Phone,
		nb.City,
		nb.PropertyType,
		nb.BHK,
		nb.Purpose,
		nb.BudgetMin,
		nb.BudgetMax,
		nb.Timeline,
		nb.Source,
		nb.Status,
		nb.Notes,
		tagsJSON,
		nb.OwnerID,
	))
	if err != nil {
		return nil, fmt.Errorf("leads: insert buyer: %w", err)
	}
	return b, nil
}

func insertHistory(ctx context.Context, q querier, buyerID string, actor identity.Principal, action string, changes any) error {
	diff, err := json.Marshal(HistoryDiff{Action: action, Changes: changes, User: actor.DisplayEmail()})
	if err != nil {
		return fmt.Errorf("leads: marshal history: %w", err)
	}
	if _, err := q.Exec(ctx, insertHistorySQL, buyerID, actor.ID, diff); err != nil {
		return fmt.Errorf("leads: insert history: %w", err)
	}
	return nil
}

// Create inserts a buyer and its created history row in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, nb NewBuyer, actor identity.Principal) (*Buyer, error) {
	var created *Buyer
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		b, err := insertBuyer(ctx, tx, nb)
		if err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, b.ID, actor, ActionCreated, nb); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ImportBatch inserts every row, then one imported history row per buyer, in
// input order and in a single transaction.
func (r *PostgresRepository) ImportBatch(ctx context.Context, rows []NewBuyer, actor identity.Principal) ([]*Buyer, error) {
	ctx, span := repoTracer.Start(ctx, "leads.postgres.import_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("import.rows", len(rows)))

	inserted := make([]*Buyer, 0, len(rows))
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		for _, nb := range rows {
			b, err := insertBuyer(ctx, tx, nb)
			if err != nil {
				return err
			}
			inserted = append(inserted, b)
		}
		for _, b := range inserted {
			if err := insertHistory(ctx, tx, b.ID, actor, ActionImported, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return inserted, nil
}

// GetByID fetches one buyer.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Buyer, error) {
	b, err := scanBuyer(r.db.QueryRow(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBuyerNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return b, nil
}

const updateBuyerSQL = `
	UPDATE buyers SET full_name = $3, email = $4, phone = $5, city = $6,
		property_type = $7, bhk = $8, purpose = $9, budget_min = $10,
		budget_max = $11, timeline = $12, source = $13, status = $14,
		notes = $15, tags = $16, updated_at = now()
	WHERE id = $1 AND updated_at = $2
	RETURNING ` + buyerColumns

// Update writes the new lead fields guarded by the expected updated_at.
func (r *PostgresRepository) Update(ctx context.Context, id string, expected time.Time, lead Lead, changes map[string]FieldChange, actor identity.Principal) (*Buyer, error) {
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("leads: marshal tags: %w", err)
	}

	var updated *Buyer
	err = r.withTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBuyer(tx.QueryRow(ctx, updateBuyerSQL,
			id, expected,
			lead.FullName, lead.Email, lead.Phone, lead.City, lead.PropertyType,
			lead.BHK, lead.Purpose, lead.BudgetMin, lead.BudgetMax, lead.Timeline,
			lead.Source, lead.Status, lead.Notes, tagsJSON,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrStaleData
			}
			return fmt.Errorf("leads: update failed: %w", err)
		}
		if len(changes) > 0 {
			if err := insertHistory(ctx, tx, id, actor, ActionUpdated, changes); err != nil {
				return err
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the buyer's history and then the buyer.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (*Buyer, error) {
	var deleted *Buyer
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM buyer_history WHERE buyer_id = $1`, id); err != nil {
			return fmt.Errorf("leads: delete history: %w", err)
		}
		b, err := scanBuyer(tx.QueryRow(ctx, `DELETE FROM buyers WHERE id = $1 RETURNING `+buyerColumns, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBuyerNotFound
			}
			return fmt.Errorf("leads: delete buyer: %w", err)
		}
		deleted = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// List returns the matching page and the total number of matches.
func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*Buyer, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM buyers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("leads: count failed: %w", err)
	}

	order, ok := sortClauses[f.Sort]
	if !ok {
		order = sortClauses[SortUpdatedDesc]
	}
	query := `SELECT ` + buyerColumns + ` FROM buyers` + where + ` ORDER BY ` + order + `, id`
	if f.PageSize > 0 {
		args = append(args, f.PageSize, f.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Buyer{}
	for rows.Next() {
		b, err := scanBuyer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("leads: list rows: %w", err)
	}
	return out, total, nil
}

// History returns the audit trail for a buyer, newest first.
func (r *PostgresRepository) History(ctx context.Context, buyerID string) ([]*HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, buyer_id, changed_by, changed_at, diff
		FROM buyer_history
		WHERE buyer_id = $1
		ORDER BY changed_at DESC
	`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("leads: history failed: %w", err)
	}
	defer rows.Close()

	out := []*HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var diff []byte
		if err := rows.Scan(&e.ID, &e.BuyerID, &e.ChangedBy, &e.ChangedAt, &diff); err != nil {
			return nil, fmt.Errorf("leads: scan history: %w", err)
		}
		e.Diff = diff
		out = append(out, &e)
	}
	return out, rows.Err()
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.City != "" {
		add("city = ?", f.City)
	}
	if f.PropertyType != "" {
		add("property_type = ?", f.PropertyType)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Timeline != "" {
		add("timeline = ?", f.Timeline)
	}
	if f.Search != "" {
		add("(full_name ILIKE ? OR phone ILIKE ? OR email ILIKE ?)", "%"+escapeLike(f.Search)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func scanBuyer(row pgx.Row) (*Buyer, error) {
	var b Buyer
	var tags []byte
	if err := row.Scan(
		&b.ID,
		&b.FullName,
		&b.Email,
		&b.Phone,
		&b.City,
		&b.PropertyType,
		&b.BHK,
		&b.Purpose,
		&b.BudgetMin,
		&b.BudgetMax,
		&b.Timeline,
		&b.Source,
		&b.Status,
		&b.Notes,
		&tags,
		&b.OwnerID,
		&b.UpdatedAt,
		&b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &b.Tags); err != nil {
			return nil, fmt.Errorf("leads: decode tags: %w", err)
		}
		if b.Tags == nil {
			b.Tags = []string{}
		}
	}
	return &b, nil
}
