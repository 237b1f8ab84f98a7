package action

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueryRunner struct {
	mock.Mock
}

func (m *mockQueryRunner) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	called := m.Called(ctx, query, args)

	rows, _ := called.Get(0).([]map[string]any)

	return rows, called.Error(1)
}

type mockEmailSender struct {
	mock.Mock
}

func (m *mockEmailSender) Send(ctx context.Context, message EmailMessage) error {
	return m.Called(ctx, message).Error(0)
}

func actionNode(config *models.ActionConfig) *models.Node {
	return &models.Node{ID: "act", Kind: models.NodeKindAction, Config: config}
}

func TestHTTPAction_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "success"}`))
	}))
	defer server.Close()

	node := actionNode(&models.ActionConfig{Type: models.ActionTypeHTTP, HTTP: &models.HTTPActionConfig{
		URL:     server.URL,
		Method:  "post",
		Body:    `{"a": 1}`,
		Headers: map[string]string{"X-Api-Key": "token"},
	}})

	output, err := NewExecutor().Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, output.Data["status_code"])
	assert.Equal(t, map[string]any{"message": "success"}, output.Data["json"])
	assert.Equal(t, "http", output.Metadata["action_type"])
}

func TestHTTPAction_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusTooManyRequests, false},
		{http.StatusNotFound, true},
		{http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			node := actionNode(&models.ActionConfig{Type: models.ActionTypeHTTP, HTTP: &models.HTTPActionConfig{URL: server.URL}})

			_, err := NewExecutor().Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.permanent, protocol.IsPermanent(err))
		})
	}
}

func TestHTTPAction_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	node := actionNode(&models.ActionConfig{Type: models.ActionTypeHTTP, HTTP: &models.HTTPActionConfig{URL: url}})

	_, err := NewExecutor().Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.Error(t, err)
	assert.False(t, protocol.IsPermanent(err))
}

func TestWebhookAction_Bodies(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		inputs  map[string]any
		want    map[string]any
	}{
		{"json payload", `{"lead": "x"}`, nil, map[string]any{"lead": "x"}},
		{"text payload", "hello", nil, map[string]any{"payload": "hello"}},
		{"inputs", "", map[string]any{"score": 3.0}, map[string]any{"score": 3.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received map[string]any

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				body, _ := io.ReadAll(r.Body)
				assert.NoError(t, json.Unmarshal(body, &received))
				w.WriteHeader(http.StatusAccepted)
			}))
			defer server.Close()

			node := actionNode(&models.ActionConfig{Type: models.ActionTypeWebhook, Webhook: &models.WebhookActionConfig{
				URL:     server.URL,
				Payload: tt.payload,
			}})

			output, err := NewExecutor().Execute(context.Background(), node, &protocol.ExecutionContext{}, tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, http.StatusAccepted, output.Data["status_code"])
			assert.Equal(t, tt.want, received)
		})
	}
}

func TestDatabaseAction(t *testing.T) {
	runner := &mockQueryRunner{}
	runner.On("Query", mock.Anything, "SELECT name FROM leads WHERE id = $1", []any{"7"}).
		Return([]map[string]any{{"name": "Ada"}}, nil)

	node := actionNode(&models.ActionConfig{Type: models.ActionTypeDatabase, Database: &models.DatabaseActionConfig{
		Query: "SELECT name FROM leads WHERE id = $1",
		Args:  []string{"7"},
	}})

	output, err := NewExecutor(WithQueryRunner(runner)).Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, output.Data["row_count"])
	assert.Equal(t, []any{map[string]any{"name": "Ada"}}, output.Data["rows"])
	runner.AssertExpectations(t)

	_, err = NewExecutor().Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.ErrorIs(t, err, ErrNoQueryRunner)
	assert.True(t, protocol.IsPermanent(err))
}

func TestEmailAction(t *testing.T) {
	sender := &mockEmailSender{}
	sender.On("Send", mock.Anything, EmailMessage{To: []string{"a@example.com"}, Subject: "Hi", Body: "Hello"}).Return(nil).Once()
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down")).Once()

	node := actionNode(&models.ActionConfig{Type: models.ActionTypeEmail, Email: &models.EmailActionConfig{
		To: []string{"a@example.com"}, Subject: "Hi", Body: "Hello",
	}})
	executor := NewExecutor(WithEmailSender(sender))

	output, err := executor.Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, output.Data["sent"])

	_, err = executor.Execute(context.Background(), node, &protocol.ExecutionContext{}, nil)
	require.Error(t, err)
	assert.False(t, protocol.IsPermanent(err))

	bad := actionNode(&models.ActionConfig{Type: models.ActionTypeEmail, Email: &models.EmailActionConfig{To: []string{"nobody"}, Subject: "x"}})
	_, err = executor.Execute(context.Background(), bad, &protocol.ExecutionContext{}, nil)
	assert.True(t, protocol.IsPermanent(err))
}
