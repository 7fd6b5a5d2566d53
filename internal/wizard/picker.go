package wizard

import "github.com/mmeshcher/drawwin-system/internal/model"

// Band задаёт диапазон номеров для «счастливого» выбора.
type Band int

const (
	BandLow Band = iota
	BandMiddle
	BandHigh
)

// Range возвращает границы диапазона включительно; ok == false для неизвестного диапазона.
func (b Band) Range() (lo, hi int, ok bool) {
	switch b {
	case BandLow:
		return model.MinTicketNumber, 33, true
	case BandMiddle:
		return 34, 66, true
	case BandHigh:
		return 67, model.MaxTicketNumber, true
	}
	return 0, 0, false
}

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMiddle:
		return "middle"
	case BandHigh:
		return "high"
	}
	return "unknown"
}

// PickRandom выбирает случайный номер среди свободных.
func (s *Session) PickRandom() (int, error) {
	return s.pickIn(model.MinTicketNumber, model.MaxTicketNumber)
}

// PickLucky выбирает случайный свободный номер внутри диапазона.
func (s *Session) PickLucky(b Band) (int, error) {
	lo, hi, ok := b.Range()
	if !ok {
		return 0, numberError(BandUnknown)
	}
	return s.pickIn(lo, hi)
}

func (s *Session) pickIn(lo, hi int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.onStep(StepNumber); err != nil {
		return 0, err
	}

	free := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		if s.available(n) {
			free = append(free, n)
		}
	}
	if len(free) == 0 {
		return 0, numberError(NumberUnavailable)
	}

	n := free[s.intn(len(free))]
	s.number = n
	s.query = ""
	return n, nil
}
