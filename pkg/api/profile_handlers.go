package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/pdf"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// logoFormField is the multipart field carrying the logo image
const logoFormField = "logo"

var logoExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
}

// getProfile handles GET /profile
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, middleware.GetUser(r))
}

// updateProfile handles PUT /profile
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update users.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	if err := update.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if update.DefaultCurrency != nil && *update.DefaultCurrency != "" {
		currency, err := invoice.ParseCurrency(*update.DefaultCurrency)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		normalized := string(currency)
		update.DefaultCurrency = &normalized
	}
	if update.DefaultPaymentTerms != nil && !invoice.PaymentTerms(*update.DefaultPaymentTerms).Valid() {
		httputil.WriteBadRequest(w, "default_payment_terms is not a known payment term")
		return
	}

	user, err := s.users.UpdateProfile(r.Context(), middleware.GetUser(r).ID, update)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, user)
}

// uploadLogo handles POST /profile/logo. The image is stored under a fresh
// key so invoices issued with the previous logo keep rendering it.
func (s *Server) uploadLogo(w http.ResponseWriter, r *http.Request) {
	if s.logos == nil {
		httputil.WriteServiceUnavailable(w, "logo storage is not configured")
		return
	}

	file, _, err := r.FormFile(logoFormField)
	if err != nil {
		httputil.WriteBadRequest(w, "a logo file is required in the \"logo\" form field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, pdf.MaxLogoBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read logo")
		return
	}
	if len(data) > pdf.MaxLogoBytes {
		httputil.WriteBadRequest(w, "logo must be at most 2 MiB")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := logoExtensions[contentType]
	if !ok {
		httputil.WriteBadRequest(w, "logo must be a PNG or JPEG image")
		return
	}

	user := middleware.GetUser(r)
	key := fmt.Sprintf("logos/%s/%s.%s", user.ID, uuid.New(), ext)
	if err := s.logos.PutObject(r.Context(), key, bytes.NewReader(data), contentType); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.users.SetLogoKey(r.Context(), user.ID, key); err != nil {
		writeServiceError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithField("logo_key", key).Info("Logo uploaded")
	_ = httputil.WriteSuccess(w, logoResponse{LogoKey: key})
}

// usage handles GET /usage
func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.invoices.Usage(r.Context(), middleware.GetUser(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, usage)
}
