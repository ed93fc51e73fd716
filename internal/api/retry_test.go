package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/civicportal/internal/model"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   statusClass
	}{
		{http.StatusOK, statusOK},
		{http.StatusCreated, statusOK},
		{http.StatusBadRequest, statusRejected},
		{http.StatusUnauthorized, statusRejected},
		{http.StatusForbidden, statusRejected},
		{http.StatusNotFound, statusRejected},
		{http.StatusTooManyRequests, statusRetry},
		{http.StatusInternalServerError, statusRetry},
		{http.StatusBadGateway, statusRetry},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, maxRetryDelay},
	}

	for _, tt := range tests {
		if got := backoffDelay(base, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); err == nil {
		t.Error("sleepContext should return the context error")
	}
}

func TestClient_GetProfile_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeEnvelope(w, http.StatusServiceUnavailable, Envelope{Success: false})
			return
		}
		writeEnvelope(w, http.StatusOK, Envelope{Success: true, User: &model.User{ID: "u-1"}})
	})
	c.retryBase = time.Millisecond

	env, err := c.GetProfile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if env.User == nil || env.User.ID != "u-1" {
		t.Errorf("User = %+v, want u-1", env.User)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestClient_GetProfile_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusBadGateway, Envelope{Success: false})
	})
	c.retryBase = time.Millisecond

	_, err := c.GetProfile(context.Background(), "tok")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAPIUnavailable {
		t.Errorf("err = %v, want API_UNAVAILABLE", err)
	}
	if got := calls.Load(); got != defaultMaxAttempts {
		t.Errorf("calls = %d, want %d", got, defaultMaxAttempts)
	}
}

func TestClient_Login_IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, Envelope{Success: false})
	})
	c.retryBase = time.Millisecond

	if _, err := c.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "secret1"}); err == nil {
		t.Fatal("Login should fail")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestClient_GetProfile_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusUnauthorized, Envelope{Success: false, Message: "expired"})
	})
	c.retryBase = time.Millisecond

	if _, err := c.GetProfile(context.Background(), "tok"); err == nil {
		t.Fatal("GetProfile should fail")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
