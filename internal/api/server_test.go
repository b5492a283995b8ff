package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/service"
	"github.com/asset-registry/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = types.Account("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = types.Account("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// Mock services for testing
type mockSession struct {
	status      service.Status
	switched    []types.Account
	disconnects int

	switchFunc   func(ctx context.Context, account types.Account) (*types.Snapshot, error)
	refreshFunc  func(ctx context.Context) (*types.Snapshot, error)
	detailFunc   func(ctx context.Context, id uint64) (*types.Asset, error)
	historyFunc  func(ctx context.Context, id uint64) ([]types.HistoryRecord, error)
	transferFunc func(ctx context.Context, in service.TransferInput) (*service.WriteResult, error)
	assetFunc    func(ctx context.Context, in service.AssetInput) (*service.WriteResult, error)
	profileFunc  func(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error)
	totalsFunc   func(ctx context.Context) (*types.Totals, error)
}

func (m *mockSession) Status() *service.Status {
	st := m.status
	return &st
}

func (m *mockSession) SwitchAccount(ctx context.Context, account types.Account) (*types.Snapshot, error) {
	m.switched = append(m.switched, account)
	if m.switchFunc != nil {
		return m.switchFunc(ctx, account)
	}
	m.status.Account = account
	m.status.State = types.StateReady
	return &types.Snapshot{Account: account}, nil
}

func (m *mockSession) Disconnect() {
	m.disconnects++
	m.status = service.Status{State: types.StateIdle}
}

func (m *mockSession) Refresh(ctx context.Context) (*types.Snapshot, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx)
	}
	return &types.Snapshot{}, nil
}

func (m *mockSession) AssetDetail(ctx context.Context, id uint64) (*types.Asset, error) {
	if m.detailFunc != nil {
		return m.detailFunc(ctx, id)
	}
	return &types.Asset{ID: id, Name: "Boat", Owner: alice}, nil
}

func (m *mockSession) AssetHistory(ctx context.Context, id uint64) ([]types.HistoryRecord, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx, id)
	}
	return []types.HistoryRecord{{AssetID: id, To: alice, TransactionType: types.TxRegister}}, nil
}

func (m *mockSession) RegisterProfile(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error) {
	if m.profileFunc != nil {
		return m.profileFunc(ctx, in)
	}
	return &service.WriteResult{TxHash: "0x01", Kind: types.WriteRegisterProfile}, nil
}

func (m *mockSession) UpdateProfile(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error) {
	return &service.WriteResult{TxHash: "0x02", Kind: types.WriteUpdateProfile}, nil
}

func (m *mockSession) RegisterAsset(ctx context.Context, in service.AssetInput) (*service.WriteResult, error) {
	if m.assetFunc != nil {
		return m.assetFunc(ctx, in)
	}
	return &service.WriteResult{TxHash: "0x03", Kind: types.WriteRegisterAsset}, nil
}

func (m *mockSession) TransferAsset(ctx context.Context, in service.TransferInput) (*service.WriteResult, error) {
	if m.transferFunc != nil {
		return m.transferFunc(ctx, in)
	}
	return &service.WriteResult{TxHash: "0x04", Kind: types.WriteTransferAsset}, nil
}

func (m *mockSession) Totals(ctx context.Context) (*types.Totals, error) {
	if m.totalsFunc != nil {
		return m.totalsFunc(ctx)
	}
	return &types.Totals{Users: 2, Assets: 5}, nil
}

type mockWallet struct {
	connectErr   error
	connected    types.Account
	disconnected bool
}

func (m *mockWallet) Accounts() []types.Account { return []types.Account{alice, bob} }

func (m *mockWallet) Connect(account types.Account) error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = account
	return nil
}

func (m *mockWallet) Disconnect() { m.disconnected = true }

type mockSnapshots struct {
	stored map[types.Account]*types.Snapshot
	ttl    time.Duration
	err    error
}

func (m *mockSnapshots) Get(ctx context.Context, account types.Account) (*types.Snapshot, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	s, ok := m.stored[account]
	return s, ok, nil
}

func (m *mockSnapshots) ExpiresIn(ctx context.Context, account types.Account) (time.Duration, error) {
	return m.ttl, m.err
}

func (m *mockSnapshots) Recent(ctx context.Context, limit int64) ([]types.Account, error) {
	return []types.Account{alice}, m.err
}

type mockHealth struct{}

func (mockHealth) Health() *ledger.ProviderHealth {
	return &ledger.ProviderHealth{CurrentEndpoint: ledger.EndpointPrimary}
}

func setupTestServer(deps Dependencies) *Server {
	if deps.Session == nil {
		deps.Session = &mockSession{}
	}
	return NewServer(&ServerConfig{
		Host:           "localhost",
		Port:           "0",
		RequestsPerSec: 1000,
		Burst:          1000,
		Gatherer:       prometheus.NewRegistry(),
	}, deps)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := setupTestServer(Dependencies{Health: mockHealth{}})

	w := doRequest(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "primary", body["ledger"].(map[string]interface{})["currentEndpoint"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(Dependencies{})

	w := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSwitchAccount(t *testing.T) {
	session := &mockSession{}
	wallet := &mockWallet{}
	s := setupTestServer(Dependencies{Session: session, Wallet: wallet})

	w := doRequest(t, s, http.MethodPut, "/api/session/account", SwitchAccountRequest{Account: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, alice, wallet.connected)
	assert.Equal(t, []types.Account{alice}, session.switched)

	var status service.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, types.StateReady, status.State)
	assert.Equal(t, alice, status.Account)
}

func TestSwitchAccount_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wallet     *mockWallet
		wantStatus int
		wantCode   string
	}{
		{"malformed body", "{", &mockWallet{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"unknown field", `{"acct":"x"}`, &mockWallet{}, http.StatusBadRequest, ErrCodeInvalidInput},
		{"invalid address", SwitchAccountRequest{Account: "0x1234"}, &mockWallet{}, http.StatusBadRequest, apperrors.CodeInvalidAddress},
		{"unknown to signer", SwitchAccountRequest{Account: bob},
			&mockWallet{connectErr: apperrors.NewUnknownAccountError(bob)}, http.StatusNotFound, apperrors.CodeUnknownAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockSession{}
			s := setupTestServer(Dependencies{Session: session, Wallet: tt.wallet})

			w := doRequest(t, s, http.MethodPut, "/api/session/account", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			assert.Empty(t, session.switched)
		})
	}
}

func TestSwitchAccount_ReconciliationFailure(t *testing.T) {
	session := &mockSession{switchFunc: func(ctx context.Context, account types.Account) (*types.Snapshot, error) {
		return nil, apperrors.NewLedgerReadFailedError("getUser", errors.New("connection refused"))
	}}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodPut, "/api/session/account", SwitchAccountRequest{Account: alice})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apperrors.CodeLedgerReadFailed, decodeError(t, w).Code)
}

func TestDisconnect(t *testing.T) {
	session := &mockSession{status: service.Status{Account: alice, State: types.StateReady}}
	wallet := &mockWallet{}
	s := setupTestServer(Dependencies{Session: session, Wallet: wallet})

	w := doRequest(t, s, http.MethodDelete, "/api/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, wallet.disconnected)
	assert.Equal(t, 1, session.disconnects)

	w = doRequest(t, s, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status service.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, types.Account(""), status.Account)
}

func TestRefresh_NoSession(t *testing.T) {
	session := &mockSession{refreshFunc: func(ctx context.Context) (*types.Snapshot, error) {
		return nil, apperrors.NewNoSessionError()
	}}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodPost, "/api/session/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.CodeNoSession, decodeError(t, w).Code)
}

func TestGetAsset(t *testing.T) {
	session := &mockSession{detailFunc: func(ctx context.Context, id uint64) (*types.Asset, error) {
		switch id {
		case 1:
			return &types.Asset{ID: 1, Name: "Boat", Owner: alice}, nil
		case 2:
			return nil, apperrors.NewOwnershipStaleError(alice, 2, bob)
		default:
			return nil, apperrors.NewNotOwnedError(alice, id)
		}
	}}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodGet, "/api/assets/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var asset types.Asset
	require.NoError(t, json.NewDecoder(w.Body).Decode(&asset))
	assert.Equal(t, "Boat", asset.Name)

	w = doRequest(t, s, http.MethodGet, "/api/assets/2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeOwnershipStale, decodeError(t, w).Code)

	w = doRequest(t, s, http.MethodGet, "/api/assets/7", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeNotOwned, decodeError(t, w).Code)

	for _, bad := range []string{"0", "-1", "abc"} {
		w = doRequest(t, s, http.MethodGet, "/api/assets/"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, w).Code, bad)
	}
}

func TestGetAssetHistory(t *testing.T) {
	s := setupTestServer(Dependencies{})

	w := doRequest(t, s, http.MethodGet, "/api/assets/4/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AssetID uint64                `json:"assetId"`
		History []types.HistoryRecord `json:"history"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, uint64(4), body.AssetID)
	require.Len(t, body.History, 1)
	assert.Equal(t, types.TxRegister, body.History[0].TransactionType)
}

func TestTransferAsset(t *testing.T) {
	var got service.TransferInput
	session := &mockSession{transferFunc: func(ctx context.Context, in service.TransferInput) (*service.WriteResult, error) {
		got = in
		return &service.WriteResult{
			TxHash:       "0xfeed",
			Kind:         types.WriteTransferAsset,
			RefreshError: &types.ServiceError{Code: apperrors.CodeLedgerReadFailed, Message: "read failed"},
		}, nil
	}}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodPost, "/api/assets/3/transfer", TransferRequest{To: bob})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.TransferInput{AssetID: 3, To: bob}, got)

	var result service.WriteResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "0xfeed", result.TxHash)
	require.NotNil(t, result.RefreshError)
	assert.Equal(t, apperrors.CodeLedgerReadFailed, result.RefreshError.Code)
}

func TestWriteErrors(t *testing.T) {
	session := &mockSession{
		assetFunc: func(ctx context.Context, in service.AssetInput) (*service.WriteResult, error) {
			return nil, apperrors.NewInvalidParameterError("name", "asset name is required")
		},
		profileFunc: func(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error) {
			return nil, apperrors.NewTransactionFailedError("registerUser", "0xabc", errors.New("execution reverted"))
		},
	}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodPost, "/api/assets", service.AssetInput{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, w).Code)

	w = doRequest(t, s, http.MethodPost, "/api/profile", service.ProfileInput{Name: "alice"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apperrors.CodeTransactionFailed, decodeError(t, w).Code)

	w = doRequest(t, s, http.MethodPut, "/api/profile", service.ProfileInput{Name: "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStats(t *testing.T) {
	s := setupTestServer(Dependencies{})

	w := doRequest(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var totals types.Totals
	require.NoError(t, json.NewDecoder(w.Body).Decode(&totals))
	assert.Equal(t, types.Totals{Users: 2, Assets: 5}, totals)

	unsupported := setupTestServer(Dependencies{Session: &mockSession{totalsFunc: func(ctx context.Context) (*types.Totals, error) {
		return nil, apperrors.NewUnsupportedError("contract totals")
	}}})
	w = doRequest(t, unsupported, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	session := &mockSession{totalsFunc: func(ctx context.Context) (*types.Totals, error) {
		return nil, errors.New("dial tcp 10.0.0.1:8545: secret detail")
	}}
	s := setupTestServer(Dependencies{Session: session})

	w := doRequest(t, s, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	svcErr := decodeError(t, w)
	assert.Equal(t, ErrCodeInternalError, svcErr.Code)
	assert.NotContains(t, svcErr.Message, "secret")
}

func TestListAccounts(t *testing.T) {
	s := setupTestServer(Dependencies{Wallet: &mockWallet{}})

	w := doRequest(t, s, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Accounts []types.Account `json:"accounts"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, []types.Account{alice, bob}, body.Accounts)
}

func TestPublishedSnapshot(t *testing.T) {
	snapshots := &mockSnapshots{stored: map[types.Account]*types.Snapshot{
		alice: {Account: alice, RunID: "run-9", ReconciledAt: time.Unix(1_700_000_000, 0).UTC()},
	}, ttl: 90 * time.Second}
	s := setupTestServer(Dependencies{Snapshots: snapshots})

	w := doRequest(t, s, http.MethodGet, "/api/accounts/"+string(alice)+"/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "max-age=90", w.Header().Get("Cache-Control"))
	var snap types.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, "run-9", snap.RunID)

	w = doRequest(t, s, http.MethodGet, "/api/accounts/"+string(bob)+"/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)

	w = doRequest(t, s, http.MethodGet, "/api/accounts/0xnope/snapshot", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/snapshots/recent?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, s, http.MethodGet, "/api/snapshots/recent?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noStore := setupTestServer(Dependencies{})
	w = doRequest(t, noStore, http.MethodGet, "/api/accounts/"+string(alice)+"/snapshot", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerSec: 1, Burst: 2}, Dependencies{Session: &mockSession{}})

	send := func(account string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("X-Account", account)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"), "limits are per client")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(5 * time.Minute)
	rl.getLimiter("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.limiters, 1)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "ip:192.0.2.1", clientKey(req))

	req.Header.Set("X-Account", string(alice))
	assert.Equal(t, "account:"+string(alice), clientKey(req))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := LoggingMiddleware(RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := setupTestServer(Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCompression(t *testing.T) {
	s := setupTestServer(Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var totals types.Totals
	require.NoError(t, json.NewDecoder(gz).Decode(&totals))
	assert.Equal(t, uint64(5), totals.Assets)
}
