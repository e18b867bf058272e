package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/validation"
)

var (
	ErrCategoryNotFound = apperr.NotFound("category not found")
	ErrCategoryExists   = apperr.Conflict("category already exists")
	ErrCategoryInUse    = apperr.Conflict("category still has products")
	ErrProductNotFound  = apperr.NotFound("product not found")
	ErrProductExists    = apperr.Conflict("product already exists")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const productColumns = `id, name, description, slug, price, stock, images, category_id, seller_id, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Slug, &p.Price, &p.Stock, &p.Images,
		&p.CategoryID, &p.SellerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		return scanProduct(row)
	})
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// FindByIDs returns the products that exist among ids. Missing ids are
// simply absent from the result; callers compare lengths.
func (s *Service) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return collectProducts(rows)
}

func (s *Service) CreateCategory(ctx context.Context, in NewCategory) (*Category, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Category{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Image:       in.Image,
		Slug:        slug.Make(in.Name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, name, description, image, slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.ID, c.Name, c.Description, c.Image, c.Slug, now,
	)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, image, slug, created_at, updated_at
		FROM categories
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Image, &c.Slug, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
}

// CategoryBySlug returns the category with its products.
func (s *Service) CategoryBySlug(ctx context.Context, categorySlug string) (*Category, error) {
	var c Category
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, image, slug, created_at, updated_at
		FROM categories
		WHERE slug = $1`, categorySlug,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Image, &c.Slug, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE category_id = $1
		ORDER BY created_at DESC`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query category products: %w", err)
	}
	c.Products, err = collectProducts(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, categorySlug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE slug = $1`, categorySlug)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrCategoryInUse
		}
		return fmt.Errorf("delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// UpdateCategory changes the fields that are set. A new name also changes the slug.
func (s *Service) UpdateCategory(ctx context.Context, categorySlug string, in CategoryUpdate) (*Category, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var c Category
	err = tx.QueryRow(ctx, `
		SELECT id, name, description, image, slug, created_at, updated_at
		FROM categories
		WHERE slug = $1
		FOR UPDATE`, categorySlug,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Image, &c.Slug, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("lock category: %w", err)
	}

	in.apply(&c)
	c.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE categories
		SET name = $2, description = $3, image = $4, slug = $5, updated_at = $6
		WHERE id = $1`,
		c.ID, c.Name, c.Description, c.Image, c.Slug, c.UpdatedAt,
	)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("update category: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &c, nil
}

func (u CategoryUpdate) apply(c *Category) {
	if u.Name != nil {
		c.Name = *u.Name
		c.Slug = slug.Make(*u.Name)
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Image != nil {
		c.Image = *u.Image
	}
}

func (s *Service) CreateProduct(ctx context.Context, sellerID uuid.UUID, in NewProduct) (*Product, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &Product{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Slug:        slug.Make(in.Name),
		Price:       in.Price,
		Stock:       in.Stock,
		Images:      in.Images,
		CategoryID:  in.CategoryID,
		SellerID:    sellerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		p.ID, p.Name, p.Description, p.Slug, p.Price, p.Stock, p.Images, p.CategoryID, p.SellerID, now,
	)
	if err != nil {
		switch {
		case isPgCode(err, pgUniqueViolation):
			return nil, ErrProductExists
		case isPgCode(err, pgForeignKeyViolation):
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	f = f.normalize()

	const where = `
		WHERE name ILIKE $1 ESCAPE '\'
		  AND price >= $2
		  AND ($3 = 0 OR price <= $3)`

	pattern := containsPattern(f.Name)

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where,
		pattern, f.MinPrice, f.MaxPrice,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products`+where+`
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		pattern, f.MinPrice, f.MaxPrice, f.Limit, f.offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	return &ProductPage{
		Products:      products,
		Page:          f.Page,
		TotalPages:    totalPages(count, f.Limit),
		TotalProducts: count,
	}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches term literally anywhere in the column.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func (s *Service) ProductBySlug(ctx context.Context, productSlug string) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE slug = $1`, productSlug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productSlug string, in ProductUpdate) (*Product, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := scanProduct(tx.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE slug = $1
		FOR UPDATE`, productSlug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	in.apply(&p)
	p.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE products
		SET name = $2, description = $3, slug = $4, price = $5, stock = $6,
		    images = $7, category_id = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Slug, p.Price, p.Stock, p.Images, p.CategoryID, p.UpdatedAt,
	)
	if err != nil {
		switch {
		case isPgCode(err, pgUniqueViolation):
			return nil, ErrProductExists
		case isPgCode(err, pgForeignKeyViolation):
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

func (u ProductUpdate) apply(p *Product) {
	if u.Name != nil {
		p.Name = *u.Name
		p.Slug = slug.Make(*u.Name)
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
	if u.CategoryID != nil {
		p.CategoryID = *u.CategoryID
	}
	if len(u.Images) > 0 {
		p.Images = u.Images
	}
}

func (s *Service) DeleteProduct(ctx context.Context, productSlug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE slug = $1`, productSlug)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}
