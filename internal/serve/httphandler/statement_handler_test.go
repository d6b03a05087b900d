package httphandler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
)

const statementHeader = "RELEASE_DATE;TRANSACTION_TYPE;REFERENCE_ID;TRANSACTION_NET_AMOUNT;PARTIAL_BALANCE\n"

func multipartCSV(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &body, writer.FormDataContentType()
}

func Test_StatementHandler_IngestStatement(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)

	handler := StatementHandler{Models: models, Ingester: services.NewStatementIngester(models)}
	r := chi.NewRouter()
	r.Post("/statement/{seller}/ingest", handler.IngestStatement)

	t.Run("🎉 ingests a multipart report and reports the counts", func(t *testing.T) {
		csv := statementHeader +
			"05-06-2025;Diferença da alíquota - DIFAL;900001;-12,34;100,00\n" +
			"05-06-2025;Liberação de dinheiro;900002;50,00;150,00\n"
		body, contentType := multipartCSV(t, "release-report.csv", csv)

		req := httptest.NewRequest(http.MethodPost, "/statement/"+seller.ID+"/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		wantBody := `{
			"total": 2,
			"inserted": 1,
			"skipped_already_covered": 0,
			"skipped_by_rule": 1,
			"errors": 0
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 accepts the report as the raw body and dedupes re-runs", func(t *testing.T) {
		csv := statementHeader + "06-06-2025;Débito por dívida de reclamações no Mercado Livre;900003;-80,00;70,00\n"

		wantBodies := []string{
			`{"total": 1, "inserted": 1, "skipped_already_covered": 0, "skipped_by_rule": 0, "errors": 0}`,
			`{"total": 1, "inserted": 0, "skipped_already_covered": 1, "skipped_by_rule": 0, "errors": 0}`,
		}
		for run, wantBody := range wantBodies {
			req := httptest.NewRequest(http.MethodPost, "/statement/"+seller.ID+"/ingest", strings.NewReader(csv))
			req.Header.Set("Content-Type", "text/csv")
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			require.Equal(t, http.StatusOK, rr.Code, "run %d: %s", run+1, rr.Body.String())
			assert.JSONEq(t, wantBody, rr.Body.String(), "run %d", run+1)
		}
	})

	t.Run("returns 400 when the file is not a csv", func(t *testing.T) {
		body, contentType := multipartCSV(t, "report.txt", statementHeader)

		req := httptest.NewRequest(http.MethodPost, "/statement/"+seller.ID+"/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error": "The file extension should be .csv."}`, rr.Body.String())
	})

	t.Run("returns 400 when the report has no header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/statement/"+seller.ID+"/ingest", strings.NewReader("not;a;report\n"))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error": "The statement file could not be parsed."}`, rr.Body.String())
	})

	t.Run("returns 404 for an unknown seller", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/statement/none/ingest", strings.NewReader(statementHeader))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
