package httphandler

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// StatementHandler re-runs the bank-statement gap ingester over an uploaded
// release report, outside the nightly window. The report is accepted either
// as a multipart "file" part or as the raw request body.
type StatementHandler struct {
	Models   *data.Models
	Ingester *services.StatementIngester
}

func (h StatementHandler) IngestStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	body, httpErr := statementBody(r)
	if httpErr != nil {
		httpErr.Render(w)
		return
	}

	rows, err := marketplace.ParseReleaseReport(body)
	if err != nil {
		httperror.BadRequest("The statement file could not be parsed.", err, nil).Render(w)
		return
	}

	summary, err := h.Ingester.Ingest(ctx, seller, rows)
	if err != nil {
		httperror.InternalError(ctx, "Cannot ingest the statement", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("statement ingested for seller %s: %s", seller.ID, summary)
	httpjson.RenderStatus(w, http.StatusOK, summary, httpjson.JSON)
}

func statementBody(r *http.Request) (io.Reader, *httperror.HTTPError) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, httperror.BadRequest("Could not parse the uploaded file.", err, nil)
	}
	defer file.Close()

	if filepath.Ext(header.Filename) != ".csv" {
		return nil, httperror.BadRequest("The file extension should be .csv.", nil, nil)
	}

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, file); err != nil {
		return nil, httperror.BadRequest("Could not read the uploaded file.", err, nil)
	}
	return &buf, nil
}
