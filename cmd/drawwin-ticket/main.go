// Package main запускает консольный мастер покупки билета розыгрыша.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/drawwin-system/internal/config"
	"github.com/mmeshcher/drawwin-system/internal/drawclient"
	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/wizard"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseClient(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := drawclient.NewClient(cfg.ServerAddress, cfg.RequestTimeout, drawclient.WithLogger(logger))
	if _, err := client.Login(ctx, cfg.Login, cfg.Password); err != nil {
		sugar.Fatalw("login failed", "error", err.Error())
	}

	if err := run(ctx, client, logger, os.Stdin, os.Stdout); err != nil {
		sugar.Fatalw("wizard terminated with error", "error", err.Error())
	}
}

func run(ctx context.Context, client *drawclient.Client, logger *zap.Logger, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)

	active := model.DrawStatusActive
	draws, err := client.ListDraws(ctx, &active)
	if err != nil {
		return fmt.Errorf("list draws: %w", err)
	}
	if len(draws) == 0 {
		fmt.Fprintln(out, "no active draws")
		return nil
	}

	draw, ok := chooseDraw(draws, lines, out)
	if !ok {
		return nil
	}

	ws, err := wizard.NewSession(client, draw, client.UserID(), wizard.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := ws.Open(ctx); err != nil {
		if errors.Is(err, wizard.ErrAlreadyEntered) {
			fmt.Fprintln(out, "you have already entered this draw")
			return nil
		}
		fmt.Fprintf(out, "could not load draw: %v (type 'retry' or 'esc')\n", err)
	}
	if ws.Degraded() {
		fmt.Fprintln(out, "warning: some draw data could not be loaded, availability may be outdated")
	}

	for !ws.Status().Closed() {
		render(out, ws)
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			return ws.Cancel()
		}
		if err := dispatch(ctx, ws, strings.TrimSpace(lines.Text())); err != nil {
			fmt.Fprintf(out, "! %s\n", describe(err))
		}
	}

	snap := ws.Snapshot()
	if snap.Status == wizard.StatusClosedSuccess && snap.Ticket != nil {
		fmt.Fprintf(out, "ticket #%d purchased for %s\n", snap.Ticket.Number, snap.Ticket.Price)
	} else {
		fmt.Fprintln(out, "cancelled")
	}
	return nil
}

func chooseDraw(draws []model.Draw, lines *bufio.Scanner, out io.Writer) (model.Draw, bool) {
	for {
		for i, d := range draws {
			fmt.Fprintf(out, "%d) %s  prices: %s  participants: %d/%d\n",
				i+1, d.Title, joinPrices(d), d.Participants, d.MaxParticipants)
		}
		fmt.Fprint(out, "draw> ")
		if !lines.Scan() {
			return model.Draw{}, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(lines.Text()))
		if err == nil && n >= 1 && n <= len(draws) {
			return draws[n-1], true
		}
		fmt.Fprintln(out, "! pick a draw by its number")
	}
}

// dispatch переводит строку ввода в действие мастера.
func dispatch(ctx context.Context, ws *wizard.Session, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "", "enter":
		return ws.HandleKey(wizard.Key{Code: wizard.KeyEnter})
	case "esc", "q":
		return ws.HandleKey(wizard.Key{Code: wizard.KeyEscape})
	case "bs":
		return ws.HandleKey(wizard.Key{Code: wizard.KeyBackspace})
	case "retry":
		return ws.Open(ctx)
	case "r":
		_, err := ws.PickRandom()
		return err
	case "l":
		_, err := ws.PickLucky(wizard.BandLow)
		return err
	case "m":
		_, err := ws.PickLucky(wizard.BandMiddle)
		return err
	case "h":
		_, err := ws.PickLucky(wizard.BandHigh)
		return err
	case "n":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("usage: n <number>")
		}
		return ws.SelectNumber(n)
	case "p":
		price, err := parsePrice(arg)
		if err != nil {
			return err
		}
		return ws.SelectPrice(price)
	case "b":
		return ws.Back()
	case "c":
		_, err := ws.Confirm(ctx)
		return err
	}

	for _, r := range line {
		if err := ws.HandleKey(wizard.RuneKey(r)); err != nil {
			return err
		}
	}
	return nil
}
