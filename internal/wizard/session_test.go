package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

const testUserID int64 = 1

var dec = decimal.RequireFromString

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) UserEnteredDraw(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error) {
	args := m.Called(ctx, drawID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) TakenTicketNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error) {
	args := m.Called(ctx, drawID)
	taken, _ := args.Get(0).([]int)
	return taken, args.Error(1)
}

func (m *mockBackend) WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockBackend) BuyTicket(ctx context.Context, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error) {
	args := m.Called(ctx, drawID, number, price)
	t, _ := args.Get(0).(*model.Ticket)
	return t, args.Error(1)
}

func priceEq(v string) interface{} {
	return mock.MatchedBy(func(p decimal.Decimal) bool { return p.Equal(dec(v)) })
}

func testDraw(prices ...string) model.Draw {
	d := model.Draw{
		ID:              uuid.New(),
		Title:           "weekly",
		Status:          model.DrawStatusActive,
		MaxParticipants: model.MaxTicketNumber,
	}
	for _, p := range prices {
		d.TicketPrices = append(d.TicketPrices, dec(p))
	}
	return d
}

func expectOpen(b *mockBackend, draw model.Draw, entered bool, taken []int, balance string) {
	b.On("UserEnteredDraw", mock.Anything, draw.ID, testUserID).Return(entered, nil).Once()
	b.On("TakenTicketNumbers", mock.Anything, draw.ID).Return(taken, nil).Once()
	b.On("WalletBalance", mock.Anything, testUserID).Return(dec(balance), nil).Once()
}

func openSession(t *testing.T, b *mockBackend, draw model.Draw, taken []int, balance string, opts ...Option) *Session {
	t.Helper()

	expectOpen(b, draw, false, taken, balance)
	s, err := NewSession(b, draw, testUserID, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	return s
}

// toConfirm проводит сессию до шага подтверждения.
func toConfirm(t *testing.T, s *Session, number int, price string) {
	t.Helper()

	require.NoError(t, s.SelectNumber(number))
	require.NoError(t, s.Continue())
	require.NoError(t, s.SelectPrice(dec(price)))
	require.NoError(t, s.Continue())
	require.Equal(t, StepConfirm, s.Step())
}

func assertValidation(t *testing.T, err error, reason ValidationReason) {
	t.Helper()

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, reason, verr.Reason)
}

func TestNewSession(t *testing.T) {
	b := &mockBackend{}

	tests := []struct {
		name    string
		backend Backend
		draw    func() model.Draw
		userID  int64
		wantErr error
	}{
		{
			name:    "upcoming draw",
			backend: b,
			draw: func() model.Draw {
				d := testDraw("5")
				d.Status = model.DrawStatusUpcoming
				return d
			},
			userID:  testUserID,
			wantErr: ErrDrawNotActive,
		},
		{
			name:    "completed draw",
			backend: b,
			draw: func() model.Draw {
				d := testDraw("5")
				d.Status = model.DrawStatusCompleted
				return d
			},
			userID:  testUserID,
			wantErr: ErrDrawNotActive,
		},
		{
			name:    "no prices",
			backend: b,
			draw:    func() model.Draw { return testDraw() },
			userID:  testUserID,
			wantErr: validation.ErrNoPrices,
		},
		{
			name:    "duplicate prices",
			backend: b,
			draw:    func() model.Draw { return testDraw("5", "5.00") },
			userID:  testUserID,
			wantErr: validation.ErrDuplicatePrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.backend, tt.draw(), tt.userID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("nil backend", func(t *testing.T) {
		_, err := NewSession(nil, testDraw("5"), testUserID)
		assert.Error(t, err)
	})

	t.Run("invalid user", func(t *testing.T) {
		_, err := NewSession(b, testDraw("5"), 0)
		assert.Error(t, err)
	})

	t.Run("prices sorted", func(t *testing.T) {
		s, err := NewSession(b, testDraw("20", "5", "10"), testUserID)
		require.NoError(t, err)

		snap := s.Snapshot()
		require.Len(t, snap.Prices, 3)
		assert.True(t, snap.Prices[0].Price.Equal(dec("5")))
		assert.True(t, snap.Prices[2].Price.Equal(dec("20")))
		assert.Equal(t, StatusLoading, snap.Status)
	})
}

func TestSession_NoProgressBeforeOpen(t *testing.T) {
	b := &mockBackend{}
	s, err := NewSession(b, testDraw("5"), testUserID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SelectNumber(5), ErrNotReady)
	assert.ErrorIs(t, s.Continue(), ErrNotReady)
	_, err = s.PickRandom()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	b.AssertNotCalled(t, "BuyTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_HappyPath(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5", "10", "20")
	s := openSession(t, b, draw, []int{3, 4}, "15")

	assertValidation(t, s.SelectNumber(3), NumberTaken)
	_, selected := s.SelectedNumber()
	assert.False(t, selected)

	require.NoError(t, s.SelectNumber(5))
	require.NoError(t, s.Continue())
	assert.Equal(t, StepPrice, s.Step())

	assertValidation(t, s.SelectPrice(dec("20")), PriceUnaffordable)
	_, selected = s.SelectedPrice()
	assert.False(t, selected)

	require.NoError(t, s.SelectPrice(dec("10")))
	require.NoError(t, s.Continue())
	assert.Equal(t, StepConfirm, s.Step())

	want := &model.Ticket{ID: 7, DrawID: draw.ID, UserID: testUserID, Number: 5, Price: dec("10")}
	b.On("BuyTicket", mock.Anything, draw.ID, 5, priceEq("10")).Return(want, nil).Once()

	ticket, err := s.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, ticket)
	assert.Equal(t, StatusClosedSuccess, s.Status())
	assert.Equal(t, want, s.Snapshot().Ticket)

	b.AssertNumberOfCalls(t, "BuyTicket", 1)
	b.AssertExpectations(t)

	_, err = s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	b.AssertNumberOfCalls(t, "BuyTicket", 1)
}

func TestSession_AlreadyEnteredIsTerminal(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	expectOpen(b, draw, true, []int{9}, "100")

	s, err := NewSession(b, draw, testUserID)
	require.NoError(t, err)

	err = s.Open(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEntered)
	assert.Equal(t, StatusAlreadyEntered, s.Status())

	assert.ErrorIs(t, s.SelectNumber(5), ErrAlreadyEntered)
	assert.ErrorIs(t, s.Continue(), ErrAlreadyEntered)
	assert.ErrorIs(t, s.HandleKey(Key{Code: KeyEnter}), ErrAlreadyEntered)
	_, err = s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEntered)
	assert.ErrorIs(t, s.Open(context.Background()), ErrAlreadyOpened)
	assert.NotEqual(t, StepConfirm, s.Step())

	require.NoError(t, s.Cancel())
	assert.Equal(t, StatusClosedCancelled, s.Status())
	b.AssertNotCalled(t, "BuyTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_Toggle(t *testing.T) {
	b := &mockBackend{}
	s := openSession(t, b, testDraw("5", "10"), nil, "100")

	require.NoError(t, s.SelectNumber(7))
	require.NoError(t, s.SelectNumber(7))
	_, selected := s.SelectedNumber()
	assert.False(t, selected)

	require.NoError(t, s.SelectNumber(7))
	require.NoError(t, s.Continue())

	require.NoError(t, s.SelectPrice(dec("10")))
	require.NoError(t, s.SelectPrice(dec("10.00")))
	_, selected = s.SelectedPrice()
	assert.False(t, selected)

	assertValidation(t, s.Continue(), PriceRequired)
}

func TestSession_SelectionRules(t *testing.T) {
	b := &mockBackend{}
	s := openSession(t, b, testDraw("5", "10"), []int{50}, "7")

	assertValidation(t, s.Continue(), NumberRequired)
	assertValidation(t, s.SelectNumber(0), NumberRequired)
	assertValidation(t, s.SelectNumber(101), NumberOutOfRange)
	assertValidation(t, s.SelectNumber(-1), NumberOutOfRange)
	assertValidation(t, s.SelectNumber(50), NumberTaken)
	assert.ErrorIs(t, s.SelectPrice(dec("5")), ErrWrongStep)

	require.NoError(t, s.SelectNumber(1))
	require.NoError(t, s.SelectNumber(100))
	n, _ := s.SelectedNumber()
	assert.Equal(t, 100, n)

	require.NoError(t, s.Continue())
	assert.ErrorIs(t, s.SelectNumber(1), ErrWrongStep)
	assertValidation(t, s.SelectPrice(dec("7")), PriceNotOffered)
	assertValidation(t, s.SelectPrice(dec("10")), PriceUnaffordable)
	require.NoError(t, s.SelectPrice(dec("5")))

	snap := s.Snapshot()
	require.Len(t, snap.Prices, 2)
	assert.True(t, snap.Prices[0].Affordable)
	assert.True(t, snap.Prices[0].Selected)
	assert.False(t, snap.Prices[1].Affordable)
	assert.Equal(t, []int{50}, snap.Taken)
}

func TestSession_Back(t *testing.T) {
	b := &mockBackend{}
	s := openSession(t, b, testDraw("5", "10"), nil, "100")

	assert.ErrorIs(t, s.Back(), ErrWrongStep)

	toConfirm(t, s, 12, "10")

	require.NoError(t, s.Back())
	assert.Equal(t, StepPrice, s.Step())
	p, ok := s.SelectedPrice()
	require.True(t, ok, "price survives going back to the price step")
	assert.True(t, p.Equal(dec("10")))

	require.NoError(t, s.Back())
	assert.Equal(t, StepNumber, s.Step())
	_, ok = s.SelectedPrice()
	assert.False(t, ok, "leaving the price step clears the price")
	n, ok := s.SelectedNumber()
	require.True(t, ok)
	assert.Equal(t, 12, n)
}

func TestSession_CancelMakesNoPurchase(t *testing.T) {
	b := &mockBackend{}
	s := openSession(t, b, testDraw("5"), nil, "100")

	require.NoError(t, s.SelectNumber(33))
	require.NoError(t, s.Continue())
	require.NoError(t, s.Back())
	require.NoError(t, s.Cancel())

	assert.Equal(t, StatusClosedCancelled, s.Status())
	assert.ErrorIs(t, s.SelectNumber(34), ErrSessionClosed)
	assert.ErrorIs(t, s.Cancel(), ErrSessionClosed)
	_, err := s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	b.AssertNotCalled(t, "BuyTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_OpenDegradesOnReadFailures(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	b.On("UserEnteredDraw", mock.Anything, draw.ID, testUserID).Return(false, errors.New("timeout")).Once()
	b.On("TakenTicketNumbers", mock.Anything, draw.ID).Return([]int(nil), errors.New("timeout")).Once()
	b.On("WalletBalance", mock.Anything, testUserID).Return(dec("10"), nil).Once()

	core, logs := observer.New(zap.WarnLevel)
	s, err := NewSession(b, draw, testUserID, WithLogger(zap.New(core)))
	require.NoError(t, err)

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StatusReady, s.Status())
	assert.True(t, s.Degraded())
	assert.Equal(t, 2, logs.Len())

	for _, c := range s.Grid() {
		assert.False(t, c.Taken)
	}
	require.NoError(t, s.SelectNumber(1))
}

func TestSession_OpenBalanceFailureIsRetryable(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	b.On("UserEnteredDraw", mock.Anything, draw.ID, testUserID).Return(false, nil).Twice()
	b.On("TakenTicketNumbers", mock.Anything, draw.ID).Return([]int{1}, nil).Twice()
	b.On("WalletBalance", mock.Anything, testUserID).Return(decimal.Zero, errors.New("connection refused")).Once()
	b.On("WalletBalance", mock.Anything, testUserID).Return(dec("10"), nil).Once()

	s, err := NewSession(b, draw, testUserID)
	require.NoError(t, err)

	err = s.Open(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "get wallet balance", terr.Op)
	assert.Equal(t, StatusLoadFailed, s.Status())
	assert.Equal(t, err, s.LastError())
	assert.ErrorIs(t, s.SelectNumber(2), ErrNotReady)

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StatusReady, s.Status())
	assert.NoError(t, s.LastError())
	assert.False(t, s.Degraded())
	assert.ErrorIs(t, s.Open(context.Background()), ErrAlreadyOpened)
	b.AssertExpectations(t)
}

func TestSession_CancelDuringOpen(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	started := make(chan struct{})
	release := make(chan struct{})
	b.On("UserEnteredDraw", mock.Anything, draw.ID, testUserID).Return(false, nil).Once()
	b.On("TakenTicketNumbers", mock.Anything, draw.ID).Return([]int(nil), nil).Once()
	b.On("WalletBalance", mock.Anything, testUserID).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(dec("10"), nil).Once()

	s, err := NewSession(b, draw, testUserID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()

	<-started
	assert.ErrorIs(t, s.Open(context.Background()), ErrNotReady)
	assert.ErrorIs(t, s.SelectNumber(1), ErrNotReady)

	require.NoError(t, s.Cancel())
	close(release)

	assert.ErrorIs(t, <-done, ErrSessionClosed)
	assert.Equal(t, StatusClosedCancelled, s.Status())
}

func TestSession_RejectionKeepsConfirmStep(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	core, logs := observer.New(zap.InfoLevel)
	s := openSession(t, b, draw, nil, "10", WithLogger(zap.New(core)))
	toConfirm(t, s, 42, "5")

	b.On("BuyTicket", mock.Anything, draw.ID, 42, priceEq("5")).
		Return(nil, &SubmissionRejected{Reason: model.ReasonNumberTaken}).Once()

	_, err := s.Confirm(context.Background())
	var rejected *SubmissionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, model.ReasonNumberTaken, rejected.Reason)
	assert.Equal(t, StatusReady, s.Status())
	assert.Equal(t, StepConfirm, s.Step())
	assert.Equal(t, err, s.LastError())
	assert.Equal(t, 1, logs.FilterMessage("purchase failed").Len())

	n, _ := s.SelectedNumber()
	assert.Equal(t, 42, n, "selection is kept after a rejection")

	b.On("BuyTicket", mock.Anything, draw.ID, 42, priceEq("5")).
		Return(&model.Ticket{ID: 1, Number: 42, Price: dec("5")}, nil).Once()

	_, err = s.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusClosedSuccess, s.Status())
	b.AssertNumberOfCalls(t, "BuyTicket", 2)
}

func TestSession_TransportFailure(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	s := openSession(t, b, draw, nil, "10")
	toConfirm(t, s, 1, "5")

	b.On("BuyTicket", mock.Anything, draw.ID, 1, priceEq("5")).
		Return(nil, errors.New("connection reset")).Once()

	_, err := s.Confirm(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "buy ticket", terr.Op)
	assert.Equal(t, StepConfirm, s.Step())
	assert.Equal(t, StatusReady, s.Status())

	require.NoError(t, s.Back(), "controls are enabled again after a failure")
	assert.NoError(t, s.LastError())
}

func TestSession_SubmitTimeout(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	s := openSession(t, b, draw, nil, "10", WithSubmitTimeout(20*time.Millisecond))
	toConfirm(t, s, 1, "5")

	b.On("BuyTicket", mock.Anything, draw.ID, 1, priceEq("5")).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := s.Confirm(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StepConfirm, s.Step())
}

func TestSession_EmptyPurchaseResponse(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	s := openSession(t, b, draw, nil, "10")
	toConfirm(t, s, 1, "5")

	b.On("BuyTicket", mock.Anything, draw.ID, 1, priceEq("5")).Return(nil, nil).Once()

	_, err := s.Confirm(context.Background())
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusReady, s.Status())
}

func TestSession_SingleSubmissionInFlight(t *testing.T) {
	b := &mockBackend{}
	draw := testDraw("5")
	s := openSession(t, b, draw, nil, "10")
	toConfirm(t, s, 8, "5")

	release := make(chan struct{})
	b.On("BuyTicket", mock.Anything, draw.ID, 8, priceEq("5")).
		Run(func(mock.Arguments) { <-release }).
		Return(&model.Ticket{ID: 1, Number: 8, Price: dec("5")}, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = s.Confirm(context.Background())
	}()

	require.Eventually(t, func() bool { return s.Status() == StatusSubmitting }, time.Second, time.Millisecond)

	_, err := s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.ErrorIs(t, s.Cancel(), ErrSubmissionInFlight)
	assert.ErrorIs(t, s.Back(), ErrSubmissionInFlight)
	assert.ErrorIs(t, s.HandleKey(Key{Code: KeyEscape}), ErrSubmissionInFlight)
	assert.ErrorIs(t, s.HandleKey(RuneKey('1')), ErrSubmissionInFlight)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, StatusClosedSuccess, s.Status())
	b.AssertNumberOfCalls(t, "BuyTicket", 1)
}

func TestStatusAndStepStrings(t *testing.T) {
	assert.Equal(t, "confirm", StepConfirm.String())
	assert.Equal(t, "already_entered", StatusAlreadyEntered.String())
	assert.True(t, StatusClosedCancelled.Closed())
	assert.False(t, StatusSubmitting.Closed())
}
