package cepsms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAcct = Account{Username: "bahi1", Password: "pw", From: "Acme"}

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, 5*time.Second, WithRetry(3, time.Millisecond))
}

func TestSendSuccess(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": "OK", "MessageId": "msg-123"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "bahi1", got.User)
	assert.Equal(t, "Acme", got.From)
	assert.Equal(t, []string{"905551234567"}, got.Numbers)
}

func TestSendToleratesLowercaseFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "messageId": "msg-lc"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-lc", id)
}

func TestSendNumericStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": 200, "id": "msg-num"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-num", id)
}

func TestSendAuthFailureIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	assert.ErrorIs(t, err, ErrGatewayAuth)
	assert.Equal(t, int32(1), calls.Load(), "auth failures must not be retried")
}

func TestSendBodyLevelAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": "Unauthorized"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	assert.ErrorIs(t, err, ErrGatewayAuth)
}

func TestSendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": "Error", "Error": "Payment Required"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.Contains(t, err.Error(), "Payment Required")
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": "OK", "MessageId": "msg-after-retry"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Send(context.Background(), testAcct,
		[]string{"905551234567"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-after-retry", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueryStatusDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Status": "OK",
			"Report": []map[string]any{
				{"GSM": "905551234567", "State": "İletildi", "Network": "Turkcell"},
			},
		})
	}))
	defer srv.Close()

	state, network, err := newTestClient(srv.URL).QueryStatus(context.Background(),
		testAcct, "msg-123", "905551234567")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, state)
	assert.Equal(t, "Turkcell", network)
}

func TestQueryStatusStateMapping(t *testing.T) {
	cases := map[string]DeliveryState{
		"İletildi":       StateDelivered,
		"iletildi":       StateDelivered,
		"İletilmedi":     StateUndelivered,
		"Zaman Aşımı":    StateTimedOut,
		"timeout":        StateTimedOut,
		"Rapor Bekliyor": StatePendingReport,
		"garbage":        StatePendingReport,
		"":               StatePendingReport,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapState(in), "state %q", in)
	}
}

func TestQueryStatusPicksMatchingRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Report": []map[string]any{
				{"GSM": "905550000001", "State": "İletildi"},
				{"GSM": "905550000002", "State": "İletilmedi"},
			},
		})
	}))
	defer srv.Close()

	state, _, err := newTestClient(srv.URL).QueryStatus(context.Background(),
		testAcct, "msg-123", "0555 000 00 02")
	require.NoError(t, err)
	assert.Equal(t, StateUndelivered, state)
}

func TestQueryStatusEmptyReportIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": "OK", "Report": []any{}})
	}))
	defer srv.Close()

	state, _, err := newTestClient(srv.URL).QueryStatus(context.Background(),
		testAcct, "msg-123", "")
	require.NoError(t, err)
	assert.Equal(t, StatePendingReport, state)
}

func TestQueryStatusHTMLFallsBackToForm(t *testing.T) {
	var jsonCalls, formCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			jsonCalls.Add(1)
			_, _ = w.Write([]byte("<!DOCTYPE html><html><body>login</body></html>"))
			return
		}
		formCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "msg-123", r.PostFormValue("MessageId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Report": []map[string]any{{"GSM": "905551234567", "State": "İletildi"}},
		})
	}))
	defer srv.Close()

	state, _, err := newTestClient(srv.URL).QueryStatus(context.Background(),
		testAcct, "msg-123", "905551234567")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, state)
	assert.GreaterOrEqual(t, jsonCalls.Load(), int32(1))
	assert.Equal(t, int32(1), formCalls.Load())
}

func TestQueryStatusAllEndpointsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	state, _, err := newTestClient(srv.URL).QueryStatus(context.Background(),
		testAcct, "msg-123", "")
	assert.Error(t, err)
	assert.Equal(t, StatePendingReport, state)
}
