package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pglocator/pglocator/internal/app/domain/listing"
	"github.com/pglocator/pglocator/internal/app/services/listings"
)

func parseFilter(r *http.Request) (listing.Filter, error) {
	q := r.URL.Query()
	f := listing.Filter{
		Query:  q.Get("q"),
		Gender: listing.Gender(strings.ToLower(strings.TrimSpace(q.Get("gender")))),
	}
	for _, p := range []struct {
		name string
		dst  *float64
	}{{"minPrice", &f.MinPrice}, {"maxPrice", &f.MaxPrice}} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return listing.Filter{}, badRequest("Invalid " + p.name)
		}
		*p.dst = v
	}
	if raw := q.Get("amenities"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.Amenities = append(f.Amenities, a)
			}
		}
	}
	return f, nil
}

func (h *handler) listPublicPGs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pgs, err := h.app.Listings.ListPublic(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pgs)
}

func (h *handler) getPG(w http.ResponseWriter, r *http.Request) {
	viewer := listings.Viewer{UserID: caller(r).ID, Role: callerRole(r)}
	pg, err := h.app.Listings.Get(r.Context(), pathVar(r, "pgId"), viewer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pg)
}

func (h *handler) listOwnerPGs(w http.ResponseWriter, r *http.Request) {
	pgs, err := h.app.Listings.ListByOwner(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pgs)
}

func (h *handler) createPG(w http.ResponseWriter, r *http.Request) {
	var in listings.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	pg, err := h.app.Listings.Create(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("PG created successfully", "pg", pg))
}

func (h *handler) updatePG(w http.ResponseWriter, r *http.Request) {
	var in listings.Patch
	if !decodeJSON(w, r, &in) {
		return
	}
	pg, err := h.app.Listings.Update(r.Context(), caller(r).ID, pathVar(r, "pgId"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("PG updated successfully", "pg", pg))
}

func (h *handler) deletePG(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Listings.Delete(r.Context(), caller(r).ID, pathVar(r, "pgId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("PG deleted successfully"))
}

func (h *handler) listAllPGs(w http.ResponseWriter, r *http.Request) {
	pgs, err := h.app.Listings.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pgs)
}

func (h *handler) verifyPG(w http.ResponseWriter, r *http.Request) {
	pg, err := h.app.Listings.Verify(r.Context(), caller(r).ID, pathVar(r, "pgId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("PG verified successfully and is now active", "pg", pg))
}

func (h *handler) rejectPG(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	pg, err := h.app.Listings.Reject(r.Context(), caller(r).ID, pathVar(r, "pgId"), in.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("PG rejected and removed from student view", "pg", pg))
}

func (h *handler) listFavorites(w http.ResponseWriter, r *http.Request) {
	pgs, err := h.app.Favorites.List(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pgs)
}

func (h *handler) addFavorite(w http.ResponseWriter, r *http.Request) {
	ids, err := h.app.Favorites.Add(r.Context(), caller(r).ID, pathVar(r, "pgId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Added to favorites", "favorites", ids))
}

func (h *handler) removeFavorite(w http.ResponseWriter, r *http.Request) {
	ids, err := h.app.Favorites.Remove(r.Context(), caller(r).ID, pathVar(r, "pgId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Removed from favorites", "favorites", ids))
}
