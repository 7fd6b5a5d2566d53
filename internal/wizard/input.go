package wizard

import (
	"strconv"
	"strings"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

// KeyCode описывает тип нажатой клавиши.
type KeyCode int

const (
	KeyRune KeyCode = iota
	KeyBackspace
	KeyEnter
	KeyEscape
)

// Key описывает нажатие клавиши. Rune заполняется только для KeyRune.
type Key struct {
	Code KeyCode
	Rune rune
}

// RuneKey возвращает нажатие символьной клавиши.
func RuneKey(r rune) Key {
	return Key{Code: KeyRune, Rune: r}
}

var maxQueryLen = len(strconv.Itoa(model.MaxTicketNumber))

// HandleKey обрабатывает клавиатурный ввод.
//
// На шаге выбора номера цифры формируют строку поиска, фильтрующую сетку номеров;
// точное совпадение со свободным номером выбирается автоматически. Ввод, который
// не может стать номером из пула, игнорируется. Enter работает как Continue при
// наличии выбора, Escape отменяет сессию.
func (s *Session) HandleKey(k Key) error {
	if k.Code == KeyEscape {
		return s.Cancel()
	}

	s.mu.Lock()
	if err := s.interactive(); err != nil {
		s.mu.Unlock()
		return err
	}

	switch k.Code {
	case KeyEnter:
		ready := (s.step == StepNumber && s.number != 0) || (s.step == StepPrice && s.price != nil)
		s.mu.Unlock()
		if !ready {
			return nil
		}
		return s.Continue()
	case KeyBackspace:
		if s.step == StepNumber && s.query != "" {
			s.query = s.query[:len(s.query)-1]
			s.followQuery()
		}
	case KeyRune:
		if s.step == StepNumber {
			s.typeDigit(k.Rune)
		}
	}
	s.mu.Unlock()
	return nil
}

// typeDigit добавляет цифру к строке поиска. Вызывается под мьютексом.
func (s *Session) typeDigit(r rune) {
	if r < '0' || r > '9' {
		return
	}
	if s.query == "" && r == '0' {
		return
	}
	candidate := s.query + string(r)
	if len(candidate) > maxQueryLen {
		return
	}
	if n, _ := strconv.Atoi(candidate); n > model.MaxTicketNumber {
		return
	}
	s.query = candidate
	s.followQuery()
}

// followQuery синхронизирует выбор со строкой поиска: выбран свободный номер,
// точно совпадающий со строкой, иначе выбор снимается. Пустая строка выбор не меняет.
func (s *Session) followQuery() {
	if s.query == "" {
		return
	}
	n, ok := validation.ParseTicketNumber(s.query)
	if ok && !s.isTaken(n) {
		s.number = n
		return
	}
	s.number = 0
}

// Cell описывает ячейку сетки номеров.
type Cell struct {
	Number   int
	Taken    bool
	Selected bool
}

// Grid возвращает номера пула, отфильтрованные по строке поиска.
func (s *Session) Grid() []Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := make([]Cell, 0, model.MaxTicketNumber)
	for n := model.MinTicketNumber; n <= model.MaxTicketNumber; n++ {
		if s.query != "" && !strings.HasPrefix(strconv.Itoa(n), s.query) {
			continue
		}
		cells = append(cells, Cell{
			Number:   n,
			Taken:    s.isTaken(n),
			Selected: n == s.number,
		})
	}
	return cells
}

// Query возвращает текущую строку поиска.
func (s *Session) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}
