package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/wizard"
)

const gridColumns = 10

func render(out io.Writer, ws *wizard.Session) {
	snap := ws.Snapshot()

	fmt.Fprintf(out, "\n== %s == step: %s  balance: %s\n", snap.Title, snap.Step, snap.Balance)
	if snap.Status == wizard.StatusLoadFailed {
		return
	}

	switch snap.Step {
	case wizard.StepNumber:
		renderGrid(out, ws.Grid())
		if snap.Query != "" {
			fmt.Fprintf(out, "search: %s\n", snap.Query)
		}
		fmt.Fprintln(out, "digits search, n <num> toggle, r random, l/m/h lucky, enter continue, esc cancel")
	case wizard.StepPrice:
		fmt.Fprintf(out, "number: %d\n", snap.SelectedNumber)
		for _, p := range snap.Prices {
			mark := " "
			if p.Selected {
				mark = "*"
			}
			note := ""
			if !p.Affordable {
				note = " (insufficient balance)"
			}
			fmt.Fprintf(out, " %s %s%s\n", mark, p.Price, note)
		}
		fmt.Fprintln(out, "p <price> toggle, enter continue, b back, esc cancel")
	case wizard.StepConfirm:
		fmt.Fprintf(out, "buy ticket #%d for %s\n", snap.SelectedNumber, snap.SelectedPrice)
		if snap.LastError != nil {
			fmt.Fprintf(out, "last attempt failed: %s\n", describe(snap.LastError))
		}
		fmt.Fprintln(out, "c confirm, b back, esc cancel")
	}
}

func renderGrid(out io.Writer, cells []wizard.Cell) {
	var sb strings.Builder
	for i, c := range cells {
		switch {
		case c.Taken:
			sb.WriteString("  xx ")
		case c.Selected:
			fmt.Fprintf(&sb, "[%3d]", c.Number)
		default:
			fmt.Fprintf(&sb, " %3d ", c.Number)
		}
		if (i+1)%gridColumns == 0 || i == len(cells)-1 {
			sb.WriteByte('\n')
		}
	}
	fmt.Fprint(out, sb.String())
}

// describe возвращает текст ошибки мастера для пользователя.
func describe(err error) string {
	var (
		verr     *wizard.ValidationError
		rejected *wizard.SubmissionRejected
		terr     *wizard.TransportError
	)

	switch {
	case errors.As(err, &verr):
		switch verr.Reason {
		case wizard.NumberRequired:
			return "select a ticket number first"
		case wizard.NumberOutOfRange:
			return "ticket number must be between 1 and 100"
		case wizard.NumberTaken:
			return "this number is already taken"
		case wizard.NumberUnavailable:
			return "no free numbers left in that range"
		case wizard.BandUnknown:
			return "unknown lucky range, use l, m or h"
		case wizard.PriceRequired:
			return "select a price first"
		case wizard.PriceNotOffered:
			return "this draw does not offer that price"
		case wizard.PriceUnaffordable:
			return "insufficient wallet balance for that price"
		}
	case errors.As(err, &rejected):
		return rejected.Reason.Message() + " (b to go back, c to retry)"
	case errors.As(err, &terr):
		return "network problem, please try again: " + terr.Error()
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		return "purchase in progress, please wait"
	case errors.Is(err, wizard.ErrWrongStep):
		return "not available on this step"
	}
	return err.Error()
}

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usage: p <price>")
	}
	return price, nil
}

func joinPrices(d model.Draw) string {
	parts := make([]string, 0, len(d.TicketPrices))
	for _, p := range d.TicketPrices {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, "/")
}
