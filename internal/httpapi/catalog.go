package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/catalog"
)

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewCategory
	if err := decode(r, &in); err != nil {
		s.fail(w, r, "decode category", err)
		return
	}

	c, err := s.deps.Catalog.CreateCategory(r.Context(), in)
	if err != nil {
		s.fail(w, r, "create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, "category created", c)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Catalog.ListCategories(r.Context())
	if err != nil {
		s.fail(w, r, "list categories", err)
		return
	}
	if categories == nil {
		categories = []catalog.Category{}
	}
	writeJSON(w, http.StatusOK, "categories fetched", categories)
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Catalog.CategoryBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, "get category", err)
		return
	}
	writeJSON(w, http.StatusOK, "category fetched", c)
}

func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	var in catalog.CategoryUpdate
	if err := decode(r, &in); err != nil {
		s.fail(w, r, "decode category update", err)
		return
	}

	c, err := s.deps.Catalog.UpdateCategory(r.Context(), chi.URLParam(r, "slug"), in)
	if err != nil {
		s.fail(w, r, "update category", err)
		return
	}
	writeJSON(w, http.StatusOK, "category updated", c)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteCategory(r.Context(), chi.URLParam(r, "slug")); err != nil {
		s.fail(w, r, "delete category", err)
		return
	}
	writeJSON(w, http.StatusOK, "category deleted", nil)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewProduct
	if err := decode(r, &in); err != nil {
		s.fail(w, r, "decode product", err)
		return
	}

	p, err := s.deps.Catalog.CreateProduct(r.Context(), identity(r).ID, in)
	if err != nil {
		s.fail(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, "product created", p)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := productFilter(r)
	if err != nil {
		s.fail(w, r, "parse product filter", err)
		return
	}

	page, err := s.deps.Catalog.ListProducts(r.Context(), f)
	if err != nil {
		s.fail(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, "products fetched", page)
}

func productFilter(r *http.Request) (catalog.ProductFilter, error) {
	q := r.URL.Query()
	f := catalog.ProductFilter{Name: q.Get("name")}

	ints := []struct {
		key string
		dst *int
	}{
		{"page", &f.Page},
		{"limit", &f.Limit},
	}
	for _, it := range ints {
		if v := q.Get(it.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, apperr.Validation(it.key + " must be a number")
			}
			*it.dst = n
		}
	}

	prices := []struct {
		key string
		dst *int64
	}{
		{"minPrice", &f.MinPrice},
		{"maxPrice", &f.MaxPrice},
	}
	for _, it := range prices {
		if v := q.Get(it.key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, apperr.Validation(it.key + " must be a number")
			}
			*it.dst = n
		}
	}
	return f, nil
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.ProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, "product fetched", p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductUpdate
	if err := decode(r, &in); err != nil {
		s.fail(w, r, "decode product update", err)
		return
	}

	p, err := s.deps.Catalog.UpdateProduct(r.Context(), chi.URLParam(r, "slug"), in)
	if err != nil {
		s.fail(w, r, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, "product updated", p)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteProduct(r.Context(), chi.URLParam(r, "slug")); err != nil {
		s.fail(w, r, "delete product", err)
		return
	}
	writeJSON(w, http.StatusOK, "product deleted", nil)
}
