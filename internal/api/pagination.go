package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// parseListFilter extracts limit and skip from query params. Absent values
// are left zero so the service applies its defaults; present values must be
// integers, and an explicit limit must be at least 1.
func parseListFilter(r *http.Request) (poi.ListFilter, error) {
	var (
		f    poi.ListFilter
		errs domain.ValidationErrors
	)
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs = append(errs, domain.ValidationError{Field: "limit", Message: "must be an integer"})
		case n < 1:
			errs = append(errs, domain.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", poi.MaxLimit)})
		default:
			f.Limit = n
		}
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, domain.ValidationError{Field: "skip", Message: "must be an integer"})
		} else {
			f.Skip = n
		}
	}

	if len(errs) > 0 {
		return f, errs
	}
	return f, nil
}
