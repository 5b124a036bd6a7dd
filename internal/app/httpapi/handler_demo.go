package httpapi

import "net/http"

func (h *handler) diagnoseDemoUsers(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Demo.Diagnose(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Demo users diagnostic",
		"results", report.Results, "totalAuthUsers", report.TotalAuthUsers))
}

func (h *handler) initDemoUsers(w http.ResponseWriter, r *http.Request) {
	results := h.app.Demo.InitUsers(r.Context())
	writeJSON(w, http.StatusOK, message("Demo users initialization complete", "results", results))
}

func (h *handler) initData(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Demo.InitData(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("Sample data initialized successfully", "count", n))
}
