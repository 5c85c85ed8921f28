package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/test"
	"Tidewatch/pkg/log"
	"Tidewatch/pkg/middlewares"
	"Tidewatch/pkg/validations"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAPI(t *testing.T) (*monitorFixture, func(test.RequestAPITest) []byte) {
	t.Helper()
	validations.RegisterCustomValidations()
	fx := setupMonitor(t, testConfig)
	router := test.NewRouter()
	APIHandlers(router, fx.monitor, fx.repo, middlewares.ServiceKeyMiddleware("key"), log.Nop())

	run := func(req test.RequestAPITest) []byte {
		if req.Headers == nil {
			req.Headers = map[string]string{middlewares.ServiceKeyHeader: "key"}
		}
		return test.ExecuteAPITest(t, router, req).Body.Bytes()
	}
	return fx, run
}

func TestTransactionLifecycleAPI(t *testing.T) {
	fx, run := setupAPI(t)

	body := run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions",
		Body:       map[string]any{"user_id": "userA", "operation_type": "token_creation", "payload": map[string]int{"amount": 3}},
		WantStatus: http.StatusCreated,
	})
	var created struct {
		TransactionID string `json:"transaction_id"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.TransactionID)

	body = run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/" + created.TransactionID,
		WantStatus: http.StatusOK,
	})
	var live entity.Transaction
	require.NoError(t, json.Unmarshal(body, &live))
	assert.Equal(t, entity.StatePending, live.State)
	assert.JSONEq(t, `{"amount":3}`, string(live.Payload))

	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions/" + created.TransactionID + "/status",
		Body:       map[string]any{"state": "confirmed", "result": map[string]string{"token": "t-9"}},
		WantStatus: http.StatusAccepted,
	})
	fx.waitSaved(t, 1)

	// served from storage once terminal
	body = run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/" + created.TransactionID,
		WantStatus: http.StatusOK,
	})
	var stored entity.Transaction
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, entity.StateConfirmed, stored.State)
	assert.JSONEq(t, `{"token":"t-9"}`, string(stored.Result))

	assert.Equal(t, []entity.TransactionState{entity.StatePending, entity.StateConfirmed}, fx.events.States("userA", created.TransactionID))
}

func TestTransactionAPIValidation(t *testing.T) {
	_, run := setupAPI(t)

	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions",
		Body:       map[string]any{"operation_type": "token_creation"},
		WantStatus: http.StatusBadRequest,
	})
	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions",
		Body:       map[string]any{"user_id": "userA", "operation_type": "token creation"},
		WantStatus: http.StatusBadRequest,
	})
	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions",
		Body:       []byte(`[1,2`),
		WantStatus: http.StatusUnprocessableEntity,
	})
	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions/" + uuid.NewString() + "/status",
		Body:       map[string]any{"state": "retrying"},
		WantStatus: http.StatusBadRequest,
	})
}

func TestTransactionAPIRejectsMalformedIDs(t *testing.T) {
	fx, run := setupAPI(t)

	body := run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/not-a-uuid",
		WantStatus: http.StatusBadRequest,
	})
	assert.Contains(t, string(body), "UUID")
	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions/not-a-uuid/status",
		Body:       map[string]any{"state": "confirmed"},
		WantStatus: http.StatusBadRequest,
	})
	assert.Empty(t, fx.repo.Saved())
}

func TestTransactionAPIUnknownIDs(t *testing.T) {
	fx, run := setupAPI(t)
	missing := uuid.NewString()

	run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/" + missing,
		WantStatus: http.StatusNotFound,
	})
	// reports for unknown ids are accepted and dropped
	run(test.RequestAPITest{
		Method:     http.MethodPost,
		Path:       "/api/transactions/" + missing + "/status",
		Body:       map[string]any{"state": "failed", "error": "boom"},
		WantStatus: http.StatusAccepted,
	})
	assert.Empty(t, fx.repo.Saved())
}

func TestTransactionAPIRequiresServiceKey(t *testing.T) {
	_, run := setupAPI(t)
	run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/" + uuid.NewString(),
		Headers:    map[string]string{},
		WantStatus: http.StatusUnauthorized,
	})
	run(test.RequestAPITest{
		Method:     http.MethodGet,
		Path:       "/api/transactions/" + uuid.NewString(),
		Headers:    map[string]string{middlewares.ServiceKeyHeader: "nope"},
		WantStatus: http.StatusForbidden,
	})
}
