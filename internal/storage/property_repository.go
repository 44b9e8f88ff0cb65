package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// PropertyRepository handles property_data persistence.
// Nested JSON columns are always written as plain objects/arrays and read
// through the models' lenient decoders, which also accept legacy shapes.
type PropertyRepository struct {
	db *PostgresDB
}

// NewPropertyRepository creates a new property repository
func NewPropertyRepository(db *PostgresDB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

const propertyColumns = `id, name, status, price::text, available_shares, total_shares, location, type, growth,
	description, image, progress, updates, highlights, documents, attributes, value_parameters,
	created_at, updated_at`

// propertyJSON holds the encoded nested columns of one row
type propertyJSON struct {
	progress, updates, highlights, documents, attributes, valueParameters []byte
}

func encodePropertyJSON(p *models.Property) (*propertyJSON, error) {
	enc := func(v interface{}, empty string) ([]byte, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if string(b) == "null" {
			return []byte(empty), nil
		}
		return b, nil
	}

	var out propertyJSON
	var err error
	if out.progress, err = enc(p.Progress, "[]"); err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	if out.updates, err = enc(p.Updates, "[]"); err != nil {
		return nil, fmt.Errorf("updates: %w", err)
	}
	if out.highlights, err = enc(p.Highlights, "[]"); err != nil {
		return nil, fmt.Errorf("highlights: %w", err)
	}
	if out.documents, err = enc(p.Documents, "[]"); err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	if out.attributes, err = enc(p.Attributes, "{}"); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	if out.valueParameters, err = enc(p.ValueParameters, "{}"); err != nil {
		return nil, fmt.Errorf("value parameters: %w", err)
	}
	return &out, nil
}

func scanProperty(row pgx.Row) (*models.Property, error) {
	var (
		p      models.Property
		status string
		price  string
		js     propertyJSON
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&status,
		&price,
		&p.AvailableShares,
		&p.TotalShares,
		&p.Location,
		&p.Type,
		&p.Growth,
		&p.Description,
		&p.Image,
		&js.progress,
		&js.updates,
		&js.highlights,
		&js.documents,
		&js.attributes,
		&js.valueParameters,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.PropertyStatus(status)
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("property %s price: %w", p.ID, err)
	}
	if err := decodePropertyJSON(&p, &js); err != nil {
		return nil, fmt.Errorf("property %s: %w", p.ID, err)
	}
	return &p, nil
}

func decodePropertyJSON(p *models.Property, js *propertyJSON) error {
	decodeList := func(raw []byte, dst interface{}) error {
		if len(raw) == 0 || string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	if err := decodeList(js.progress, &p.Progress); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	if err := decodeList(js.updates, &p.Updates); err != nil {
		return fmt.Errorf("updates: %w", err)
	}
	if err := decodeList(js.highlights, &p.Highlights); err != nil {
		return fmt.Errorf("highlights: %w", err)
	}
	if err := decodeList(js.documents, &p.Documents); err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	if err := p.Attributes.UnmarshalJSON(js.attributes); err != nil {
		return err
	}
	if err := p.ValueParameters.UnmarshalJSON(js.valueParameters); err != nil {
		return err
	}
	normalizeCollections(p)
	return nil
}

// normalizeCollections replaces nil collections with empty ones so clients always see arrays
func normalizeCollections(p *models.Property) {
	if p.Progress == nil {
		p.Progress = []models.ProgressItem{}
	}
	if p.Updates == nil {
		p.Updates = []models.Update{}
	}
	if p.Highlights == nil {
		p.Highlights = []models.Highlight{}
	}
	if p.Documents == nil {
		p.Documents = []string{}
	}
}

// Create inserts a property in a single statement
func (r *PropertyRepository) Create(ctx context.Context, p *models.Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	normalizeCollections(p)

	js, err := encodePropertyJSON(p)
	if err != nil {
		return fmt.Errorf("failed to encode property: %w", err)
	}

	query := `
		INSERT INTO property_data (
			id, name, status, price, available_shares, total_shares, location, type, growth,
			description, image, progress, updates, highlights, documents, attributes, value_parameters,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		p.ID, p.Name, string(p.Status), p.Price.String(), p.AvailableShares, p.TotalShares,
		p.Location, p.Type, p.Growth, p.Description, p.Image,
		js.progress, js.updates, js.highlights, js.documents, js.attributes, js.valueParameters,
		p.CreatedAt, p.UpdatedAt,
	)
	return mapPgError(err, "failed to create property")
}

// Update replaces every editable field of the property identified by p.ID
func (r *PropertyRepository) Update(ctx context.Context, p *models.Property) error {
	p.UpdatedAt = time.Now().UTC()
	normalizeCollections(p)

	js, err := encodePropertyJSON(p)
	if err != nil {
		return fmt.Errorf("failed to encode property: %w", err)
	}

	query := `
		UPDATE property_data SET
			name = $2, status = $3, price = $4::numeric, available_shares = $5, total_shares = $6,
			location = $7, type = $8, growth = $9, description = $10, image = $11,
			progress = $12, updates = $13, highlights = $14, documents = $15,
			attributes = $16, value_parameters = $17, updated_at = $18
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		p.ID, p.Name, string(p.Status), p.Price.String(), p.AvailableShares, p.TotalShares,
		p.Location, p.Type, p.Growth, p.Description, p.Image,
		js.progress, js.updates, js.highlights, js.documents, js.attributes, js.valueParameters,
		p.UpdatedAt,
	)
	if err != nil {
		return mapPgError(err, "failed to update property")
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("property %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// GetByID retrieves one property
func (r *PropertyRepository) GetByID(ctx context.Context, id string) (*models.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("property %s: %w", id, ErrNotFound)
	}
	query := `SELECT ` + propertyColumns + ` FROM property_data WHERE id = $1`
	p, err := scanProperty(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("property %s", id))
	}
	return p, nil
}

// List returns every property. newestFirst orders by creation time descending,
// otherwise by creation time ascending (fetch order for the public catalog).
func (r *PropertyRepository) List(ctx context.Context, newestFirst bool) ([]models.Property, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT ` + propertyColumns + ` FROM property_data ORDER BY created_at ` + order + `, id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	out := []models.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating properties: %w", err)
	}
	return out, nil
}

// NamesByIDs resolves project names; ids with no row are absent from the map
func (r *PropertyRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.Pool().Query(ctx, `SELECT id::text, name FROM property_data WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan project name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
