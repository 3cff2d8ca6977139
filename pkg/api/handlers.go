package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/users"
)

const (
	// IdempotencyKeyHeader lets clients retry invoice creation safely
	IdempotencyKeyHeader = "Idempotency-Key"

	maxIdempotencyKeyLength = 255
	defaultPageSize         = 20
)

var errInvalidStatus = errors.New("status must be issued or paid")

// createInvoice handles POST /invoices. A repeated Idempotency-Key returns
// the original invoice with 200 instead of 201.
func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLength {
		httputil.WriteBadRequest(w, "Idempotency-Key must be at most 255 characters")
		return
	}

	var draft invoice.Draft
	if !httputil.ParseJSONOrError(w, r, &draft) {
		return
	}

	user := middleware.GetUser(r)
	inv, created, err := s.invoices.Create(r.Context(), user.ID, draft, key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if !created {
		_ = httputil.WriteSuccess(w, inv)
		return
	}
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
	}).Info("Invoice created")
	_ = httputil.WriteCreated(w, inv)
}

// parseFilter reads the history filters from the query string
func parseFilter(r *http.Request) (invoice.Filter, error) {
	var f invoice.Filter
	var err error

	f.Search = httputil.ParseQueryString(r, "q", "")
	if f.From, err = httputil.ParseQueryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = httputil.ParseQueryDate(r, "to"); err != nil {
		return f, err
	}
	if f.MinAmount, err = httputil.ParseQueryDecimal(r, "min_amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = httputil.ParseQueryDecimal(r, "max_amount"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}

	switch status := invoice.Status(r.URL.Query().Get("status")); status {
	case "", invoice.StatusIssued, invoice.StatusPaid:
		f.Status = status
	default:
		return f, errInvalidStatus
	}
	return f, nil
}

// listInvoices handles GET /invoices
func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := s.invoices.List(r.Context(), middleware.GetUser(r).ID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// loadInvoice fetches the {id} invoice of the caller, writing the error
// response when it cannot
func (s *Server) loadInvoice(w http.ResponseWriter, r *http.Request) (*invoice.Invoice, bool) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return nil, false
	}
	inv, err := s.invoices.Get(r.Context(), middleware.GetUser(r).ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return inv, true
}

// getInvoice handles GET /invoices/{id}
func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInvoice(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, inv)
}

// deleteInvoice handles DELETE /invoices/{id}. Usage already counted this
// month is not refunded.
func (s *Server) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.invoices.Delete(r.Context(), middleware.GetUser(r).ID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// markPaid handles POST /invoices/{id}/paid
func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	inv, err := s.invoices.MarkPaid(r.Context(), middleware.GetUser(r).ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, inv)
}

// invoicePDF handles GET /invoices/{id}/pdf
func (s *Server) invoicePDF(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInvoice(w, r)
	if !ok {
		return
	}
	doc, err := s.documents.Invoice(r.Context(), inv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WritePDF(w, doc.Filename, doc.Data)
}

// receiptPDF handles GET /invoices/{id}/receipt
func (s *Server) receiptPDF(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInvoice(w, r)
	if !ok {
		return
	}
	doc, err := s.documents.Receipt(r.Context(), inv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WritePDF(w, doc.Filename, doc.Data)
}

// shareInvoice handles POST /invoices/{id}/share
func (s *Server) shareInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInvoice(w, r)
	if !ok {
		return
	}
	share, err := s.documents.Share(r.Context(), inv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, share)
}

// previewInvoice handles POST /invoices/preview. Nothing is stored and no
// quota is used. A signed-in caller's profile fills unset fields.
func (s *Server) previewInvoice(w http.ResponseWriter, r *http.Request) {
	var draft invoice.Draft
	if !httputil.ParseJSONOrError(w, r, &draft) {
		return
	}

	var defaults invoice.Defaults
	if ac := middleware.GetAuthContext(r); ac != nil {
		user, err := s.users.GetByID(r.Context(), ac.UserID)
		switch {
		case err == nil:
			defaults = invoice.DefaultsFromUser(user)
		case errors.Is(err, users.ErrNotFound):
		default:
			writeServiceError(w, r, err)
			return
		}
	}

	now := s.now().UTC()
	inv, err := invoice.Build(draft, defaults, now)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	inv.ID = uuid.New()
	inv.Number = invoice.GuestNumber(now)
	inv.CreatedAt = now
	inv.UpdatedAt = now

	doc, err := s.documents.Preview(r.Context(), inv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WritePDF(w, doc.Filename, doc.Data)
}
