package httpapi

import (
	"net/http"

	"github.com/pglocator/pglocator/internal/app/domain/booking"
	"github.com/pglocator/pglocator/internal/app/services/bookings"
	"github.com/pglocator/pglocator/internal/app/services/reviews"
)

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var in bookings.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := h.app.Bookings.Create(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Booking request sent successfully", "booking", b))
}

func (h *handler) listStudentBookings(w http.ResponseWriter, r *http.Request) {
	views, err := h.app.Bookings.ListForStudent(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Bookings.Cancel(r.Context(), caller(r).ID, pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Booking cancelled successfully", "booking", b))
}

func (h *handler) listOwnerBookings(w http.ResponseWriter, r *http.Request) {
	views, err := h.app.Bookings.ListForOwner(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) decideBooking(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status booking.Status `json:"status"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := h.app.Bookings.Decide(r.Context(), caller(r).ID, pathVar(r, "id"), in.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Booking updated successfully", "booking", b))
}

func (h *handler) migrateBookings(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Bookings.Backfill(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Migration complete",
		"updated", res.Updated, "skipped", res.Skipped, "errors", res.Errors))
}

func (h *handler) createReview(w http.ResponseWriter, r *http.Request) {
	var in reviews.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	rev, err := h.app.Reviews.Create(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Review added successfully", "review", rev))
}

func (h *handler) listPGReviews(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Reviews.ListForListing(r.Context(), pathVar(r, "pgId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listOwnerReviews(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Reviews.ListForOwner(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Notifications.List(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if _, err := h.app.Notifications.MarkRead(r.Context(), caller(r).ID, pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Notification marked as read"))
}

func (h *handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Notifications.MarkAllRead(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("All notifications marked as read", "updated", n))
}

func (h *handler) ownerStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Stats.Owner(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) adminStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Stats.Admin(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) adminAnalytics(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Stats.Analytics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
