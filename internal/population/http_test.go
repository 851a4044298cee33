package population

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProcessor(t *testing.T, handler http.HandlerFunc) *HTTPProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Processor.BaseURL = srv.URL
	cfg.Processor.RetryMax = 0
	cfg.Processor.Timeout = 5 * time.Second
	return NewHTTPProcessor(HTTPProcessorParam{Config: cfg, Log: zap.NewNop()})
}

const validResult = `{
	"chargeVersionYears": [{
		"chargeVersionId": "11", "licenceId": "12", "financialYearEnding": 2024,
		"transactionType": "annual", "isChargeable": true,
		"startDate": "2023-04-01T00:00:00Z", "endDate": "2024-03-31T00:00:00Z"
	}],
	"invoices": [{
		"invoiceAccountId": "13", "invoiceAccountNumber": "A11111111A", "financialYearEnding": 2024,
		"licences": [{
			"licenceId": "12", "licenceRef": "01/123",
			"transactions": [{
				"chargeElementId": "14", "startDate": "2023-04-01T00:00:00Z", "endDate": "2024-03-31T00:00:00Z",
				"authorisedDays": 366, "billableDays": 200, "volume": "4.2"
			}]
		}]
	}]
}`

func TestHTTPProcessorPostsBatchRequest(t *testing.T) {
	batchID := snowflake.ID(99)
	var got Request
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/batches/99/charges", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validResult))
	})

	res, err := p.Process(context.Background(), Request{
		BatchID:                 batchID,
		Region:                  "A",
		Type:                    batchdomain.BatchTypeAnnual,
		Scheme:                  batchdomain.SchemeCurrent,
		FromFinancialYearEnding: 2024,
		ToFinancialYearEnding:   2024,
	})
	require.NoError(t, err)
	assert.Equal(t, batchID, got.BatchID)
	assert.Equal(t, "A", got.Region)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, 1, res.TransactionCount())
	assert.Equal(t, snowflake.ID(12), res.Invoices[0].Licences[0].LicenceID)
	assert.Equal(t, "4.2", res.Invoices[0].Licences[0].Transactions[0].Volume.String())
}

func TestHTTPProcessorRejectsInvalidResult(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"invoices": [{"invoiceAccountId": "13", "financialYearEnding": 2024, "licences": []}]}`))
	})

	_, err := p.Process(context.Background(), Request{BatchID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrInvalidResponse)
}

func TestHTTPProcessorReportsRemoteFailure(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"region unknown"}`))
	})

	_, err := p.Process(context.Background(), Request{BatchID: 1})
	require.Error(t, err)
	assert.NotEmpty(t, ierr.Hints(err))
}
