package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/invoicer/pkg/async"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

var (
	// ErrNotPaid is returned when a receipt is requested for an unpaid invoice
	ErrNotPaid = errors.New("invoice has not been paid")
	// ErrLogoUnavailable is returned when an invoice logo could not be
	// fetched and the result would be stored
	ErrLogoUnavailable = errors.New("invoice logo is temporarily unavailable")
)

const (
	kindInvoice = "invoice"
	kindReceipt = "receipt"
	kindPreview = "preview"

	contentType = "application/pdf"
)

// Document is a rendered PDF
type Document struct {
	Filename string
	Data     []byte
}

// Share is a public link to an archived invoice
type Share struct {
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Filename    string    `json:"filename"`
	Message     string    `json:"message"`
	WhatsAppURL string    `json:"whatsapp_url"`
}

// Archiver records where an invoice PDF was archived
type Archiver interface {
	SetPDFKey(ctx context.Context, userID, id uuid.UUID, key string) error
}

// Config tunes the PDF service
type Config struct {
	CacheSize      int
	CacheTTL       time.Duration
	ShareTTL       time.Duration
	ArchiveTimeout time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		CacheSize:      256,
		CacheTTL:       15 * time.Minute,
		ShareTTL:       7 * 24 * time.Hour,
		ArchiveTimeout: 30 * time.Second,
	}
}

// Service renders, caches, archives and shares invoice PDFs
type Service struct {
	renderer *Renderer
	store    storage.ObjectStore
	archiver Archiver
	runner   *async.Runner
	cfg      Config
	cache    *expirable.LRU[string, []byte]
	group    singleflight.Group
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewService creates a PDF service. store and archiver may be nil, which
// disables logos, archiving and sharing.
func NewService(renderer *Renderer, store storage.ObjectStore, archiver Archiver, runner *async.Runner, cfg Config, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if runner == nil {
		runner = async.NewRunner(logger)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	return &Service{
		renderer: renderer,
		store:    store,
		archiver: archiver,
		runner:   runner,
		cfg:      cfg,
		cache:    expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics:  metrics,
		logger:   logger.WithField("component", "pdf"),
	}
}

// ArchiveKey is the object key of an invoice's archived PDF
func ArchiveKey(inv *invoice.Invoice) string {
	return fmt.Sprintf("invoices/%s/%s.pdf", inv.UserID, inv.ID)
}

func cacheKey(kind string, inv *invoice.Invoice) string {
	return fmt.Sprintf("%s:%s:%d", kind, inv.ID, inv.UpdatedAt.UnixNano())
}

// Invoice renders a stored invoice and archives it in the background the
// first time. When the logo cannot be fetched the invoice is still returned,
// without the logo, but it is neither cached nor archived.
func (s *Service) Invoice(ctx context.Context, inv *invoice.Invoice) (*Document, error) {
	data, complete, err := s.render(ctx, kindInvoice, inv, s.invoiceRenderer(ctx, inv))
	if err != nil {
		return nil, err
	}

	if complete && inv.PDFKey == "" && s.store != nil && s.archiver != nil {
		snapshot := *inv
		s.runner.SafeGo(ctx, s.cfg.ArchiveTimeout, "archive invoice pdf", func(ctx context.Context) error {
			_, err := s.archive(ctx, &snapshot, data)
			return err
		})
	}
	return &Document{Filename: InvoiceFilename(inv), Data: data}, nil
}

// Receipt renders the payment receipt of a paid invoice
func (s *Service) Receipt(ctx context.Context, inv *invoice.Invoice) (*Document, error) {
	if inv.Status != invoice.StatusPaid {
		return nil, ErrNotPaid
	}
	data, _, err := s.render(ctx, kindReceipt, inv, func(w io.Writer) (bool, error) {
		return true, s.renderer.RenderReceipt(w, inv)
	})
	if err != nil {
		return nil, err
	}
	return &Document{Filename: ReceiptFilename(inv), Data: data}, nil
}

// Preview renders an unsaved invoice. Nothing is cached or stored.
func (s *Service) Preview(ctx context.Context, inv *invoice.Invoice) (*Document, error) {
	_, span := observability.StartSpan(ctx, "pdf.render", attribute.String("pdf.kind", kindPreview))
	start := time.Now()
	var buf bytes.Buffer
	err := s.renderer.RenderInvoice(&buf, inv, nil)
	s.metrics.PDFRendered(kindPreview, time.Since(start), err)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &Document{Filename: InvoiceFilename(inv), Data: buf.Bytes()}, nil
}

// Share archives the invoice if needed and returns a time-limited link
func (s *Service) Share(ctx context.Context, inv *invoice.Invoice) (*Share, error) {
	if s.store == nil {
		return nil, storage.ErrPresignUnsupported
	}

	key := inv.PDFKey
	exists := false
	if key != "" {
		var err error
		if exists, err = s.store.ObjectExists(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to check archived pdf: %w", err)
		}
	}
	if !exists {
		data, complete, err := s.render(ctx, kindInvoice, inv, s.invoiceRenderer(ctx, inv))
		if err != nil {
			return nil, err
		}
		if !complete {
			return nil, ErrLogoUnavailable
		}
		if key, err = s.archive(ctx, inv, data); err != nil {
			return nil, err
		}
	}

	link, err := s.store.PresignGet(ctx, key, s.cfg.ShareTTL)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Invoice %s for %s: %s\n%s", inv.Number, inv.ClientName, inv.Currency.Format(inv.Total), link)
	return &Share{
		URL:         link,
		ExpiresAt:   time.Now().Add(s.cfg.ShareTTL).UTC(),
		Filename:    InvoiceFilename(inv),
		Message:     message,
		WhatsAppURL: "https://wa.me/?" + url.Values{"text": {message}}.Encode(),
	}, nil
}

// renderFunc writes a PDF and reports whether every asset made it in.
// Partial renders are returned to the caller but never cached.
type renderFunc func(w io.Writer) (complete bool, err error)

type rendered struct {
	data     []byte
	complete bool
}

func (s *Service) invoiceRenderer(ctx context.Context, inv *invoice.Invoice) renderFunc {
	return func(w io.Writer) (bool, error) {
		logo, err := s.loadLogo(ctx, inv.LogoKey)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"invoice_id": inv.ID.String(),
				"logo_key":   inv.LogoKey,
			}).Warn("Rendering invoice without its logo")
		}
		return err == nil, s.renderer.RenderInvoice(w, inv, logo)
	}
}

// render returns cached bytes or renders once for all concurrent callers
func (s *Service) render(ctx context.Context, kind string, inv *invoice.Invoice, fn renderFunc) ([]byte, bool, error) {
	key := cacheKey(kind, inv)
	if data, ok := s.cache.Get(key); ok {
		s.metrics.CacheResult("pdf", true)
		return data, true, nil
	}
	s.metrics.CacheResult("pdf", false)

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		_, span := observability.StartSpan(ctx, "pdf.render",
			attribute.String("pdf.kind", kind),
			attribute.String("invoice.id", inv.ID.String()))
		start := time.Now()
		var buf bytes.Buffer
		complete, err := fn(&buf)
		s.metrics.PDFRendered(kind, time.Since(start), err)
		span.SetAttributes(attribute.Bool("pdf.complete", complete))
		observability.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		out := rendered{data: buf.Bytes(), complete: complete}
		if complete {
			s.cache.Add(key, out.data)
		}
		return out, nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("invoice_id", inv.ID.String()).Error("Failed to render pdf")
		return nil, false, fmt.Errorf("failed to render %s: %w", kind, err)
	}
	out := v.(rendered)
	return out.data, out.complete, nil
}

func (s *Service) archive(ctx context.Context, inv *invoice.Invoice, data []byte) (string, error) {
	key := ArchiveKey(inv)
	if err := s.store.PutObject(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("failed to archive pdf: %w", err)
	}
	if s.archiver != nil {
		if err := s.archiver.SetPDFKey(ctx, inv.UserID, inv.ID, key); err != nil {
			return "", fmt.Errorf("failed to record pdf key: %w", err)
		}
	}
	return key, nil
}

// loadLogo fetches the snapshotted logo. Logos that are gone or unusable
// render without one; store failures are returned.
func (s *Service) loadLogo(ctx context.Context, key string) (*Logo, error) {
	if key == "" || s.store == nil {
		return nil, nil
	}
	ct := logoContentType(key)
	if ct == "" {
		return nil, nil
	}

	body, err := s.store.GetObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.WithField("logo_key", key).Warn("Logo not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load logo: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, MaxLogoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read logo: %w", err)
	}
	if len(data) > MaxLogoBytes {
		s.logger.WithField("logo_key", key).Warn("Oversized logo skipped")
		return nil, nil
	}
	return &Logo{Data: data, ContentType: ct}, nil
}

// MaxLogoBytes bounds uploaded logos
const MaxLogoBytes = 2 << 20

func logoContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return ""
}
