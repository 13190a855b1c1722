package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const maxImportBytes = 10 << 20

// TransferHandler serves export and import.
type TransferHandler struct {
	transfer     *transfer.Service
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewTransferHandler(svc *transfer.Service, logger *zap.Logger, errorHandler *pkgerrors.Handler) *TransferHandler {
	return &TransferHandler{transfer: svc, logger: logger, errorHandler: errorHandler}
}

// ExportCategory handles GET /admin/export/{category}. With download=true
// the document is sent as an attachment.
func (h *TransferHandler) ExportCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	doc, err := h.transfer.ExportCategory(r.Context(), category)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	download, err := boolQuery(r, "download")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if download {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, category))
	}
	api.RespondJSON(w, http.StatusOK, doc)
}

// ExportAll handles GET /admin/export
func (h *TransferHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	docs, err := h.transfer.ExportAll(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondList(w, requestID(r), docs, len(docs))
}

// Import handles POST /admin/import?mode=reject|replace|merge. The body is
// one document or an array of documents.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	mode, err := transfer.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.errorHandler.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}

	docs, err := readDocuments(w, r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	res, err := h.transfer.ImportDocuments(r.Context(), docs, mode)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	status := http.StatusOK
	if len(res.Success) == 0 {
		status = http.StatusUnprocessableEntity
	}
	api.RespondJSON(w, status, res)
}

func readDocuments(w http.ResponseWriter, r *http.Request) ([]*transfer.Document, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		return nil, pkgerrors.NewValidationError("import body could not be read: " + err.Error())
	}
	return transfer.DecodeDocuments(raw)
}
