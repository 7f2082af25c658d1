package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const (
	defaultCountryLimit = 10
	maxCountryLimit     = 100
)

// HandleListCountries serves GET /api/countries.
// Query params: sort (field name, "-" prefix for descending),
// limit (default 10), offset (default 0).
func (a *App) HandleListCountries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	orderBy := "id"
	desc := false
	if s := q.Get("sort"); s != "" {
		if strings.HasPrefix(s, "-") {
			desc = true
			s = s[1:]
		}
		if _, ok := countrySortFields[s]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "Unknown sort field")
			return
		}
		orderBy = s
	}

	limit := defaultCountryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if limit > maxCountryLimit {
		limit = maxCountryLimit
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	list, err := a.DB.ListCountries(r.Context(), orderBy, desc, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": list})
}

// HandleGetCountry serves GET /api/countries/{name}.
func (a *App) HandleGetCountry(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	country, err := a.DB.GetCountryByName(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": country})
}
