package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"content-autoposter/models"
)

type fakeExchanger struct {
	codes []string
	err   error
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (*models.TokenRecord, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return &models.TokenRecord{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newCallbackRouter(ex CodeExchanger, done chan error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupCallbackRoutes(r, ex, "xyz", done)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestCallbackExchangesCode(t *testing.T) {
	ex := &fakeExchanger{}
	done := make(chan error, 1)
	r := newCallbackRouter(ex, done)

	if w := get(r, "/callback?code=abc&state=wrong"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad state status = %d", w.Code)
	}
	if w := get(r, "/callback?state=xyz"); w.Code != http.StatusBadRequest {
		t.Fatalf("missing code status = %d", w.Code)
	}
	if len(ex.codes) != 0 {
		t.Fatalf("exchange called on invalid callbacks")
	}

	if w := get(r, "/callback?code=abc&state=xyz"); w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if len(ex.codes) != 1 || ex.codes[0] != "abc" {
		t.Fatalf("codes = %v", ex.codes)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("done = %v", err)
		}
	default:
		t.Fatalf("done not signalled")
	}
}

func TestCallbackReportsFailures(t *testing.T) {
	done := make(chan error, 1)
	r := newCallbackRouter(&fakeExchanger{err: errors.New("invalid_grant")}, done)

	if w := get(r, "/callback?code=abc&state=xyz"); w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if err := <-done; err == nil {
		t.Fatalf("expected exchange error")
	}

	if w := get(r, "/callback?error=access_denied&state=xyz"); w.Code != http.StatusBadRequest {
		t.Fatalf("denied status = %d", w.Code)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected denial error")
		}
	default:
		t.Fatalf("denial not signalled")
	}
}
