package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/seu-repo/contavoz/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/contavoz/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/contavoz/internal/adapter/storage/postgres"
	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/mocks"
	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/internal/service/recognition"
	"github.com/seu-repo/contavoz/internal/service/session"
	"github.com/seu-repo/contavoz/pkg/config"
)

var testJWT = config.JWTConfig{
	Secret:   "integration-test-secret",
	Issuer:   "contavoz",
	Audience: "contavoz-app",
}

// newTestAPI wires the REST surface against the container-backed stores,
// with speech and the LLM fallback mocked out.
func newTestAPI(t *testing.T) (*fiber.App, *session.Manager) {
	t.Helper()
	env := SetupTestEnvironment(t)
	CleanDatabase(t, env.DB)

	transactionRepo := postgres.NewTransactionRepository(env.DB, env.Logger)
	budgetRepo := postgres.NewBudgetRepository(env.DB, env.Logger)
	learnedRepo := postgres.NewLearnedIntentRepository(env.DB, env.Logger)

	factory := func(userID string, synth ports.Synthesizer) *session.Machine {
		pipeline := recognition.NewPipeline(recognition.Config{}, learnedRepo, env.Cache, &mocks.MockFallbackRecognizer{}, env.Logger)
		decomposer := recognition.NewDecomposer(pipeline, nil, nil, env.Logger)
		return session.NewMachine(userID, session.Config{}, session.Deps{
			Pipeline:     pipeline,
			Decomposer:   decomposer,
			Transactions: transactionRepo,
			Budgets:      budgetRepo,
			Transcriber:  &mocks.MockTranscriber{},
			Synthesizer:  synth,
			Queue:        mocks.NewMockMessageQueue(),
			Logger:       env.Logger,
		})
	}
	manager := session.NewManager(factory, env.Logger)

	app := fiber.New()
	v1 := app.Group("/api/v1", middleware.AuthRequired(testJWT))

	sessionHandler := handlers.NewSessionHandler(manager, env.Logger)
	v1.Get("/sessions", sessionHandler.List)
	v1.Get("/sessions/:id", sessionHandler.Get)
	v1.Get("/sessions/:id/history", sessionHandler.History)
	v1.Post("/sessions/:id/command", sessionHandler.Command)
	v1.Post("/sessions/:id/recover", sessionHandler.Recover)

	ledgerHandler := handlers.NewLedgerHandler(transactionRepo, budgetRepo, env.Logger)
	v1.Get("/transactions", ledgerHandler.ListTransactions)
	v1.Get("/transactions/:id", ledgerHandler.GetTransaction)
	v1.Get("/budgets", ledgerHandler.ListBudgets)

	return app, manager
}

func mintToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    testJWT.Issuer,
		Audience:  jwt.ClaimStrings{testJWT.Audience},
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestAPI_RejectsUnauthenticatedRequests(t *testing.T) {
	app, _ := newTestAPI(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Missing authorization header", body["error"])

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/sessions", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Invalid or expired token", body["error"])
}

func TestAPI_ListSessions(t *testing.T) {
	app, manager := newTestAPI(t)
	manager.Create("user-api", &mocks.MockSynthesizer{})

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/sessions", mintToken(t, "user-api"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])
	require.Len(t, body["sessions"], 1)
}

func TestAPI_CommandRecordsTransaction(t *testing.T) {
	app, manager := newTestAPI(t)
	env := testEnv

	synth := &mocks.MockSynthesizer{}
	machine := manager.Create("user-api", synth)
	machine.StartSession(context.Background())

	resp, body := doRequest(t, app, http.MethodPost,
		"/api/v1/sessions/"+machine.ID()+"/command",
		mintToken(t, "user-api"),
		map[string]string{"text": "I spent 20 dollars on lunch"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Recorded $20 for lunch.", result["message"])
	require.Contains(t, synth.Spoken, "Recorded $20 for lunch.")

	// The turn landed in the store.
	var count int64
	require.NoError(t, env.DB.Model(&domain.Transaction{}).
		Where("user_id = ? AND category = ?", "user-api", "food_lunch").
		Count(&count).Error)
	require.EqualValues(t, 1, count)

	// And in the session history.
	resp, _ = doRequest(t, app, http.MethodGet,
		"/api/v1/sessions/"+machine.ID()+"/history", mintToken(t, "user-api"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, machine.History(), 1)
}

func TestAPI_CommandRejectsEmptyBody(t *testing.T) {
	app, manager := newTestAPI(t)
	machine := manager.Create("user-api", &mocks.MockSynthesizer{})

	resp, body := doRequest(t, app, http.MethodPost,
		"/api/v1/sessions/"+machine.ID()+"/command",
		mintToken(t, "user-api"),
		map[string]string{"text": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid body", body["error"])
}

func TestAPI_ForeignSessionIsNotFound(t *testing.T) {
	app, manager := newTestAPI(t)
	machine := manager.Create("user-a", &mocks.MockSynthesizer{})

	resp, body := doRequest(t, app, http.MethodGet,
		"/api/v1/sessions/"+machine.ID(), mintToken(t, "user-b"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Session not found", body["error"])
}

func TestAPI_RecoverOutsideErrorStateConflicts(t *testing.T) {
	app, manager := newTestAPI(t)
	machine := manager.Create("user-api", &mocks.MockSynthesizer{})

	resp, body := doRequest(t, app, http.MethodPost,
		"/api/v1/sessions/"+machine.ID()+"/recover", mintToken(t, "user-api"), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "Session is not in an error state", body["error"])
}

func TestAPI_LedgerEndpoints(t *testing.T) {
	app, _ := newTestAPI(t)
	env := testEnv

	transactionRepo := postgres.NewTransactionRepository(env.DB, env.Logger)
	lunch := seedTransaction("user-api", "food_lunch", 20, time.Now().UTC())
	fuel := seedTransaction("user-api", "transport_fuel", 60, time.Now().UTC())
	ctx := context.Background()
	require.NoError(t, transactionRepo.Insert(ctx, lunch))
	require.NoError(t, transactionRepo.Insert(ctx, fuel))

	token := mintToken(t, "user-api")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?category=food_lunch", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var txs []domain.Transaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&txs))
	require.Len(t, txs, 1)
	require.Equal(t, lunch.ID, txs[0].ID)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/transactions/"+fuel.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, fuel.ID, body["id"])

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/transactions/"+fuel.ID, mintToken(t, "someone-else"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Transaction not found", body["error"])
}
