package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "duels/internal/cli"
	"duels/internal/game"

	"github.com/fatih/color"
	"github.com/holiman/uint256"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]string, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = opt
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if opt, ok := normalized[text]; ok {
			return opt, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func renderFigures(figures []game.Profile, styles []cl.StyleView) {
	accent.Println("\n== FIGURES ==")
	fmt.Printf("%-22s %-26s %5s %5s %5s %5s\n", "ID", "NAME", "WIT", "BRUT", "STRAT", "MOCK")
	for _, f := range figures {
		fmt.Printf("%-22s %-26s %5d %5d %5d %5d\n",
			f.Persona,
			truncate(f.DisplayName, 26),
			f.Attributes.Wit,
			f.Attributes.Brutality,
			f.Attributes.Strategy,
			f.Attributes.Mockery,
		)
	}
	if len(styles) > 0 {
		accent.Println("\n== STYLES ==")
		fmt.Printf("%-10s %-16s %-16s\n", "STYLE", "STRONG AGAINST", "WEAK AGAINST")
		for _, s := range styles {
			fmt.Printf("%-10s %-16s %-16s\n", s.Name, s.StrongAgainst, s.WeakAgainst)
		}
	}
	fmt.Println()
}

func renderDuelList(title string, duels []game.DuelView) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(duels) == 0 {
		printInfo("No duels found.")
		return
	}
	fmt.Printf("%-6s %-9s %14s %-18s %-18s %-8s\n", "ID", "STATE", "STAKE", "PLAYER A", "PLAYER B", "TURNS")
	for _, d := range duels {
		fmt.Printf("%-6d %-9s %14s %-18s %-18s %-8s\n",
			d.ID,
			d.State,
			formatTokens(d.Stake),
			truncate(d.PlayerA, 18),
			truncate(d.PlayerB, 18),
			fmt.Sprintf("%d/%d", len(d.Turns), game.MaxTurns),
		)
	}
	fmt.Println()
}

func renderDuel(d game.DuelView) {
	accent.Printf("\n== DUEL %d (%s) ==\n", d.ID, d.State)
	fmt.Printf("Stake:    %s\n", formatTokens(d.Stake))
	fmt.Printf("Player A: %s as %s (damage %d)\n", d.PlayerA, d.FigureA, d.DamageA)
	if d.PlayerB != "" {
		fmt.Printf("Player B: %s as %s (damage %d)\n", d.PlayerB, d.FigureB, d.DamageB)
	} else {
		printInfo("Player B: waiting for an opponent")
	}
	if d.NextMove != "" {
		warn.Printf("Next move: %s\n", d.NextMove)
	}
	if len(d.Turns) > 0 {
		fmt.Printf("\n%-5s %-9s %-7s %s\n", "TURN", "STYLE", "DAMAGE", "NOTE")
		for i, t := range d.Turns {
			fmt.Printf("%-5d %-9s %-7d %s\n", i, t.Style, t.Damage, truncate(t.Annotation, 40))
		}
	}
	if d.Winner != "" && d.Winner != game.WinnerNone.String() {
		success.Printf("\nWinner: %s\n", d.Winner)
	}
	fmt.Println()
}

func renderTurn(res cl.TurnResult) {
	printSuccess(fmt.Sprintf("Turn %d dealt %s damage.", res.Turn, colorizeDamage(res.Damage)))
	if res.Winner != "" {
		accent.Printf("Duel %d finished: %s\n", res.DuelID, res.Winner)
	}
	for _, id := range res.SettlementCalls {
		printInfo("settlement call " + id)
	}
}

func renderLeaderboard(title, valueLabel string, rows []game.LeaderboardRow) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-32s %10s\n", "RANK", "ACCOUNT", strings.ToUpper(valueLabel))
	for _, row := range rows {
		fmt.Printf("%-6d %-32s %10d\n", row.Rank, truncate(row.AccountID, 32), row.Value)
	}
	fmt.Println()
}

func renderCustody(r game.CustodyReport) {
	accent.Println("\n== CUSTODY ==")
	fmt.Printf("Believed: %s\n", formatTokens(r.Believed))
	fmt.Printf("Balances: %s\n", formatTokens(r.Balances))
	fmt.Printf("Locked:   %s\n", formatTokens(r.Locked))
	if r.Consistent {
		printSuccess("Ledger is consistent.")
	} else {
		printError("Ledger drift detected.")
	}
	fmt.Println()
}

func colorizeDamage(v uint32) string {
	text := strconv.FormatUint(uint64(v), 10)
	switch {
	case v >= 8:
		return danger.Sprint(text)
	case v >= 4:
		return warn.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatTokens renders a base-unit amount as whole tokens with up to four
// decimals. Unparseable input is returned as-is.
func formatTokens(dec string) string {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return dec
	}
	var whole, frac uint256.Int
	whole.DivMod(v, game.MinStake, &frac)
	var scale uint256.Int
	scale.Div(game.MinStake, uint256.NewInt(10_000))
	frac.Div(&frac, &scale)
	out := comma(whole.Dec())
	if !frac.IsZero() {
		out += fmt.Sprintf(".%04d", frac.Uint64())
		out = strings.TrimRight(out, "0")
	}
	return out
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
