package drawclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/wizard"
)

const testToken = "test-token"

// newTestClient поднимает сервер с обработчиком входа и переданными маршрутами.
func newTestClient(t *testing.T, routes map[string]http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/login", func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenDTO{Token: testToken, UserID: 7, Role: model.RoleUser})
	})
	for pattern, h := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		})
	}

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c := NewClient(ts.URL, time.Second, WithRetryPolicy(2, time.Millisecond, 5*time.Millisecond))
	_, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	return c, ts
}

func writeBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func requireTransport(t *testing.T, err error, op string) *wizard.TransportError {
	t.Helper()

	var terr *wizard.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, op, terr.Op)
	return terr
}

func TestLogin(t *testing.T) {
	c, _ := newTestClient(t, nil)
	assert.Equal(t, int64(7), c.UserID())
	assert.Equal(t, model.RoleUser, c.Role())

	_, err := c.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNotLoggedIn(t *testing.T) {
	c := NewClient("localhost:1", time.Second)

	_, err := c.TakenTicketNumbers(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	requireTransport(t, err, "taken ticket numbers")
}

func TestTakenTicketNumbers(t *testing.T) {
	drawID := uuid.New()
	path := "GET /api/draws/" + drawID.String() + "/taken"

	tests := []struct {
		name    string
		body    string
		want    []int
		wantErr bool
	}{
		{name: "sorted copy", body: `{"numbers":[42,3,100]}`, want: []int{3, 42, 100}},
		{name: "empty", body: `{"numbers":[]}`, want: []int{}},
		{name: "out of range", body: `{"numbers":[0,5]}`, wantErr: true},
		{name: "above pool", body: `{"numbers":[101]}`, wantErr: true},
		{name: "duplicates", body: `{"numbers":[5,5]}`, wantErr: true},
		{name: "missing field", body: `{}`, wantErr: true},
		{name: "wrong type", body: `{"numbers":"1,2"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, map[string]http.HandlerFunc{path: writeBody(tt.body)})

			got, err := c.TakenTicketNumbers(context.Background(), drawID)
			if tt.wantErr {
				requireTransport(t, err, "taken ticket numbers")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWalletBalance(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "string", body: `{"current":"15.50"}`, want: "15.5"},
		{name: "number", body: `{"current":0}`, want: "0"},
		{name: "negative", body: `{"current":"-1"}`, wantErr: true},
		{name: "missing", body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, map[string]http.HandlerFunc{"GET /api/users/7/balance": writeBody(tt.body)})

			got, err := c.WalletBalance(context.Background(), 7)
			if tt.wantErr {
				requireTransport(t, err, "wallet balance")
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)))
		})
	}
}

func TestUserEnteredDraw(t *testing.T) {
	drawID := uuid.New()
	path := "GET /api/draws/" + drawID.String() + "/entries/7"

	c, _ := newTestClient(t, map[string]http.HandlerFunc{path: writeBody(`{"entered":true}`)})
	entered, err := c.UserEnteredDraw(context.Background(), drawID, 7)
	require.NoError(t, err)
	assert.True(t, entered)

	c, _ = newTestClient(t, map[string]http.HandlerFunc{path: writeBody(`{"other":1}`)})
	_, err = c.UserEnteredDraw(context.Background(), drawID, 7)
	requireTransport(t, err, "user entered draw")
}

func TestListDraws_ValidatesAtBoundary(t *testing.T) {
	id := uuid.New()
	valid := `{"id":"` + id.String() + `","title":"weekly","ticket_prices":["20","5"],"max_participants":100,"status":"open","participants":2,"created_at":"2026-01-01T00:00:00Z"}`

	t.Run("valid", func(t *testing.T) {
		var gotQuery string
		c, _ := newTestClient(t, map[string]http.HandlerFunc{"GET /api/draws": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("status")
			writeBody("[" + valid + "]")(w, r)
		}})

		status := model.DrawStatusActive
		draws, err := c.ListDraws(context.Background(), &status)
		require.NoError(t, err)
		require.Len(t, draws, 1)
		assert.Equal(t, "active", gotQuery)
		assert.Equal(t, id, draws[0].ID)
		assert.Equal(t, model.DrawStatusActive, draws[0].Status)
		assert.True(t, draws[0].TicketPrices[0].Equal(decimal.NewFromInt(5)))
	})

	invalid := map[string]string{
		"bad id":        strings.Replace(valid, id.String(), "nope", 1),
		"bad status":    strings.Replace(valid, `"open"`, `"paused"`, 1),
		"no prices":     strings.Replace(valid, `["20","5"]`, `[]`, 1),
		"bad price":     strings.Replace(valid, `["20","5"]`, `["-5"]`, 1),
		"pool size":     strings.Replace(valid, `"max_participants":100`, `"max_participants":50`, 1),
		"participants":  strings.Replace(valid, `"participants":2`, `"participants":101`, 1),
		"winner":        strings.Replace(valid, `"participants":2`, `"participants":2,"winning_number":0`, 1),
		"not json list": valid,
	}

	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			if name != "not json list" {
				body = "[" + body + "]"
			}
			c, _ := newTestClient(t, map[string]http.HandlerFunc{"GET /api/draws": writeBody(body)})

			_, err := c.ListDraws(context.Background(), nil)
			requireTransport(t, err, "list draws")
		})
	}
}

func TestReadsRetryServerErrors(t *testing.T) {
	drawID := uuid.New()
	var hits atomic.Int32

	c, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /api/draws/" + drawID.String() + "/taken": func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeBody(`{"numbers":[1]}`)(w, r)
		},
	})

	got, err := c.TakenTicketNumbers(context.Background(), drawID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestReadsGiveUp(t *testing.T) {
	var hits atomic.Int32

	c, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /api/users/7/balance": func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	_, err := c.WalletBalance(context.Background(), 7)
	requireTransport(t, err, "wallet balance")
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
}

func TestReadsDoNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32

	c, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /api/users/7/balance": func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		},
	})

	_, err := c.WalletBalance(context.Background(), 7)
	terr := requireTransport(t, err, "wallet balance")

	var serr *StatusError
	require.ErrorAs(t, terr, &serr)
	assert.Equal(t, http.StatusForbidden, serr.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestBuyTicket(t *testing.T) {
	drawID := uuid.New()
	path := "POST /api/draws/" + drawID.String() + "/tickets"

	t.Run("success", func(t *testing.T) {
		var got buyTicketDTO
		c, _ := newTestClient(t, map[string]http.HandlerFunc{path: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeBody(`{"id":3,"draw_id":"` + drawID.String() + `","user_id":7,"number":42,"price":"10","purchased_at":"2026-01-01T00:00:00Z"}`)(w, r)
		}})

		ticket, err := c.BuyTicket(context.Background(), drawID, 42, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.Equal(t, 42, got.Number)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, int64(3), ticket.ID)
		assert.Equal(t, drawID, ticket.DrawID)
	})

	rejections := []struct {
		status int
		reason model.RejectReason
	}{
		{status: http.StatusConflict, reason: model.ReasonNumberTaken},
		{status: http.StatusConflict, reason: model.ReasonAlreadyEntered},
		{status: http.StatusConflict, reason: model.ReasonDrawClosed},
		{status: http.StatusPaymentRequired, reason: model.ReasonInsufficientBalance},
		{status: http.StatusUnprocessableEntity, reason: model.ReasonInvalidPrice},
		{status: http.StatusNotFound, reason: model.ReasonDrawNotFound},
	}
	for _, tt := range rejections {
		t.Run(string(tt.reason), func(t *testing.T) {
			c, _ := newTestClient(t, map[string]http.HandlerFunc{path: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(rejectionDTO{Reason: tt.reason, Error: tt.reason.Message()})
			}})

			_, err := c.BuyTicket(context.Background(), drawID, 1, decimal.NewFromInt(5))
			var rejected *wizard.SubmissionRejected
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.reason, rejected.Reason)
		})
	}

	t.Run("unknown reason", func(t *testing.T) {
		c, _ := newTestClient(t, map[string]http.HandlerFunc{path: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"reason":"cosmic_rays"}`))
		}})

		_, err := c.BuyTicket(context.Background(), drawID, 1, decimal.NewFromInt(5))
		requireTransport(t, err, "buy ticket")
	})

	t.Run("mismatched ticket", func(t *testing.T) {
		c, _ := newTestClient(t, map[string]http.HandlerFunc{path: writeBody(
			`{"id":3,"draw_id":"` + drawID.String() + `","user_id":7,"number":41,"price":"10","purchased_at":"2026-01-01T00:00:00Z"}`,
		)})

		_, err := c.BuyTicket(context.Background(), drawID, 42, decimal.NewFromInt(10))
		requireTransport(t, err, "buy ticket")
	})

	t.Run("never retried", func(t *testing.T) {
		var hits atomic.Int32
		c, _ := newTestClient(t, map[string]http.HandlerFunc{path: func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}})

		_, err := c.BuyTicket(context.Background(), drawID, 1, decimal.NewFromInt(5))
		requireTransport(t, err, "buy ticket")
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c, _ := newTestClient(t, map[string]http.HandlerFunc{path: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.BuyTicket(ctx, drawID, 1, decimal.NewFromInt(5))
		requireTransport(t, err, "buy ticket")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
