package localapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classlink/internal/client"
	"classlink/internal/localapi"
	"classlink/internal/logging"
	"classlink/internal/models"
	"classlink/internal/pairing"
	"classlink/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// --- MOCK DEVICE ---

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Snapshot(ctx context.Context) client.Snapshot {
	args := m.Called(ctx)
	return args.Get(0).(client.Snapshot)
}

func (m *MockDevice) RaiseHand() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) RecordResponse(ctx context.Context, response *models.PendingResponse) error {
	args := m.Called(ctx, response)
	return args.Error(0)
}

func (m *MockDevice) TriggerSync() bool {
	args := m.Called()
	return args.Bool(0)
}

type fixture struct {
	device    *MockDevice
	responses store.ResponseRepository
	materials store.MaterialRepository
	router    *gin.Engine
}

func setupRouter(t *testing.T, secret string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })

	f := &fixture{
		device:    new(MockDevice),
		responses: store.NewResponseRepository(db),
		materials: store.NewMaterialRepository(db),
	}
	h := localapi.NewHandler(f.device, f.responses, f.materials, store.NewFeedbackRepository(db))
	f.router = localapi.NewRouter(h, secret)
	return f
}

func (f *fixture) do(method, path string, body []byte, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// --- TESTS ---

func TestStatus(t *testing.T) {
	f := setupRouter(t, "")
	f.device.On("Snapshot", mock.Anything).Return(client.Snapshot{
		Status: client.Status{DeviceID: "tablet-07", Locked: true, PendingResponses: 3},
		Phase:  "PAIRED",
	}).Once()

	w := f.do(http.MethodGet, "/api/status", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tablet-07", body["device_id"])
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, "PAIRED", body["phase"])
	assert.Equal(t, float64(3), body["pending_responses"])
	f.device.AssertExpectations(t)
}

func TestRecordResponse(t *testing.T) {
	f := setupRouter(t, "")

	t.Run("Success", func(t *testing.T) {
		f.device.On("RecordResponse", mock.Anything, mock.MatchedBy(func(r *models.PendingResponse) bool {
			return r.QuestionID == "q1" && r.SelectedAnswer == "3/4" && r.Correct
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*models.PendingResponse).ID = "resp-1"
		}).Return(nil).Once()

		w := f.do(http.MethodPost, "/api/responses", []byte(`{"question_id":"q1","selected_answer":"3/4","correct":true}`), "")

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"resp-1"`)
	})

	t.Run("MissingQuestion", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/responses", []byte(`{"selected_answer":"x"}`), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		f.device.On("RecordResponse", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
		w := f.do(http.MethodPost, "/api/responses", []byte(`{"question_id":"q2"}`), "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	f.device.AssertExpectations(t)
}

func TestListResponses(t *testing.T) {
	f := setupRouter(t, "")
	ctx := context.Background()

	require.NoError(t, f.responses.Insert(ctx, &models.PendingResponse{ID: "a", QuestionID: "q1"}))
	require.NoError(t, f.responses.Insert(ctx, &models.PendingResponse{ID: "b", QuestionID: "q2"}))
	require.NoError(t, f.responses.MarkSynced(ctx, "a"))

	w := f.do(http.MethodGet, "/api/responses?synced=false", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data  []models.PendingResponse `json:"data"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "b", body.Data[0].ID)

	w = f.do(http.MethodGet, "/api/responses", nil, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)

	w = f.do(http.MethodGet, "/api/responses?synced=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteResponse(t *testing.T) {
	f := setupRouter(t, "")
	ctx := context.Background()
	require.NoError(t, f.responses.Insert(ctx, &models.PendingResponse{ID: "a", QuestionID: "q1"}))

	w := f.do(http.MethodDelete, "/api/responses/a", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	list, err := f.responses.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	w = f.do(http.MethodDelete, "/api/responses/a", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSync(t *testing.T) {
	f := setupRouter(t, "")
	f.device.On("TriggerSync").Return(true).Once()
	f.device.On("TriggerSync").Return(false).Once()

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/sync", nil, "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/sync", nil, "").Code)
	f.device.AssertExpectations(t)
}

func TestRaiseHand(t *testing.T) {
	f := setupRouter(t, "")
	f.device.On("RaiseHand").Return(nil).Once()
	f.device.On("RaiseHand").Return(pairing.ErrNotPaired).Once()

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/hand", nil, "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/hand", nil, "").Code)
}

func TestListMaterials(t *testing.T) {
	f := setupRouter(t, "")
	require.NoError(t, f.materials.Save(context.Background(), &models.Material{ID: "mat-1", Title: "Fractions"}))

	w := f.do(http.MethodGet, "/api/materials", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fractions")

	w = f.do(http.MethodGet, "/api/feedback", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestAuthMiddleware(t *testing.T) {
	f := setupRouter(t, testSecret)
	f.device.On("TriggerSync").Return(true)

	t.Run("MissingHeader", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sync", nil, "").Code)
	})

	t.Run("BadToken", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sync", nil, "not-a-jwt").Code)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token, err := localapi.IssueToken("ffffffffffffffffffffffffffffffff", "ui", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sync", nil, token).Code)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := localapi.IssueToken(testSecret, "ui", -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sync", nil, token).Code)
	})

	t.Run("Valid", func(t *testing.T) {
		token, err := localapi.IssueToken(testSecret, "ui", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/sync", nil, token).Code)
	})

	t.Run("HealthCheckOpen", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/check-conn", nil, "").Code)
	})
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := localapi.IssueToken("", "ui", time.Minute)
	assert.Error(t, err)

	token, err := localapi.IssueToken(testSecret, "ui", time.Minute)
	require.NoError(t, err)
	claims, err := localapi.ValidateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ui", claims.Subject)
}
