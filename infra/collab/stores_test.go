package collab

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

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "message": http.StatusText(status), "data": data})
}

func TestGetRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/recipient/r1":
			writeEnvelope(w, http.StatusOK, model.Recipient{ID: "r1", BloodType: model.BloodAPlus, OrgansNeeded: []string{"kidney"}})
		default:
			writeEnvelope(w, http.StatusNotFound, nil)
		}
	}))
	defer srv.Close()

	s := New(Config{RecipientURL: srv.URL + "/"}, nil)
	r, err := s.Recipients.GetRecipient(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BloodAPlus, r.BloodType)
	assert.Equal(t, []string{"kidney"}, r.OrgansNeeded)

	_, err = s.Recipients.GetRecipient(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestEnvelopeCodeIsHonoured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"code":404,"message":"no organ","data":null}`))
	}))
	defer srv.Close()

	s := New(Config{OrganURL: srv.URL}, nil)
	_, err := s.Organs.GetOrgan(context.Background(), "o1")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestCreateOrderConflict(t *testing.T) {
	var got model.Order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusConflict, nil)
	}))
	defer srv.Close()

	s := New(Config{OrderURL: srv.URL}, nil)
	err := s.Orders.CreateOrder(context.Background(), model.Order{OrderID: "o1", MatchID: "m1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, "m1", got.MatchID)
}

func TestReadsRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, []model.Driver{{DriverID: "d1", StationedHospital: "General Hospital"}})
	}))
	defer srv.Close()

	s := New(Config{DriverURL: srv.URL}, nil)
	s.Drivers.(*Drivers).c.backoff = time.Millisecond
	drivers, err := s.Drivers.ListDrivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRecipientIsFetchedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, nil)
	}))
	defer srv.Close()

	s := New(Config{RecipientURL: srv.URL}, nil)
	_, err := s.Recipients.GetRecipient(context.Background(), "R1")
	require.Error(t, err)
	assert.Equal(t, errs.KindDownstream, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadRetriesShareOneTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, nil)
	}))
	defer srv.Close()

	s := New(Config{OrganURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	s.Organs.(*Organs).c.backoff = time.Second
	_, err := s.Organs.ListOrgans(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindDownstream, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "deadline expires before the second attempt")
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusInternalServerError, nil)
	}))
	defer srv.Close()

	s := New(Config{DriverURL: srv.URL}, nil)
	err := s.Drivers.UpdateDriver(context.Background(), "d1", model.AssignTo("del1"))
	require.Error(t, err)
	assert.Equal(t, errs.KindDownstream, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdateDeliverySendsPartialBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/deliveryinfo/del1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(w, http.StatusOK, nil)
	}))
	defer srv.Close()

	s := New(Config{DeliveryURL: srv.URL}, nil)
	status := model.StatusHalfway
	require.NoError(t, s.Deliveries.UpdateDelivery(context.Background(), "del1", model.DeliveryUpdate{Status: &status}))
	assert.Equal(t, map[string]any{"status": "halfway"}, body)
}

func TestTimeoutIsDownstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeEnvelope(w, http.StatusOK, nil)
	}))
	defer srv.Close()

	s := New(Config{MatchURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	err := s.Matches.CreateMatches(context.Background(), []model.Match{{MatchID: "m1"}})
	require.Error(t, err)
	assert.Equal(t, errs.KindDownstream, errs.KindOf(err))
}
