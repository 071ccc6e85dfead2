package httpapi

import (
	"net/http"
	"time"

	"salesboard/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": a.service.Catalog().Stages(),
	})
}

func (a *API) handlePipeline(w http.ResponseWriter, r *http.Request) {
	board, err := a.service.Pipeline(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req domain.LeadCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	lead, err := a.service.CreateLead(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (a *API) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := a.service.GetLead(r.Context(), pathID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) handleUpdateLeadStage(w http.ResponseWriter, r *http.Request) {
	var req domain.StageUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	lead, err := a.service.UpdateLeadStage(r.Context(), pathID(r), req.Stage)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) handleMarkWon(w http.ResponseWriter, r *http.Request) {
	lead, err := a.service.MarkLeadWon(r.Context(), pathID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) handleMarkLost(w http.ResponseWriter, r *http.Request) {
	lead, err := a.service.MarkLeadLost(r.Context(), pathID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteLead(r.Context(), pathID(r)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLeadInvoices(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListLeadInvoices(r.Context(), pathID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	invoice, err := a.service.CreateInvoice(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (a *API) handleNextNumber(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.PreviewNextNumber(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), pathID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	invoice, err := a.service.UpdateInvoice(r.Context(), pathID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteInvoice(r.Context(), pathID(r)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
