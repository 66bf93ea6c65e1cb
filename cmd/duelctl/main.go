package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"duels/internal/auth"
	cl "duels/internal/cli"
	"duels/internal/config"
	"duels/internal/game"
	"duels/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "duelctl",
		Short:        "Historical figure duels client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "duels API base URL")

	root.AddCommand(
		newTokenCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newFiguresCmd(&apiBase),
		newDuelsCmd(&apiBase),
		newBalanceCmd(&apiBase),
		newWithdrawCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newCustodyCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Mint an access token with the server's signing secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = strings.TrimSpace(os.Getenv("DUELS_AUTH_SECRET"))
			}
			if secret == "" {
				return fmt.Errorf("--secret or DUELS_AUTH_SECRET is required")
			}
			account := strings.TrimSpace(args[0])
			token, err := auth.NewSigner(secret).Issue(account, ttl)
			if err != nil {
				return err
			}
			if !save {
				fmt.Println(token)
				return nil
			}
			if err := cl.SaveSession(cl.Session{AccessToken: token, Account: account}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Session saved for %s (expires in %s).", account, ttl))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as the local session")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login <account>",
		Short: "Save an access token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				var err error
				if token, err = promptRequired("Access token"); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken: strings.TrimSpace(token),
				Account:     strings.TrimSpace(args[0]),
			}); err != nil {
				return err
			}
			printSuccess("Login saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the API operator")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newFiguresCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "figures",
		Short: "List selectable figures and attack styles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			figures, err := client.Figures(ctx)
			if err != nil {
				return err
			}
			styles, err := client.Styles(ctx)
			if err != nil {
				return err
			}
			renderFigures(figures, styles)
			return nil
		},
	}
}

func newDuelsCmd(apiBase *string) *cobra.Command {
	duels := &cobra.Command{
		Use:     "duels",
		Short:   "Duel commands",
		Aliases: []string{"duel"},
	}
	duels.AddCommand(
		newDuelsListCmd(apiBase),
		newDuelsMineCmd(apiBase),
		newDuelsShowCmd(apiBase),
		newDuelsTopCmd(apiBase),
		newDuelsCreateCmd(apiBase),
		newDuelsAcceptCmd(apiBase),
		newDuelsTurnCmd(apiBase),
		newDuelsCancelCmd(apiBase),
	)
	return duels
}

func newDuelsListCmd(apiBase *string) *cobra.Command {
	var count, offset int
	cmd := &cobra.Command{
		Use:   "list [pending|active|finished]",
		Short: "List duels by state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := ""
			if len(args) > 0 {
				state = strings.ToLower(strings.TrimSpace(args[0]))
			} else {
				var err error
				if state, err = promptChoice("State", []string{"pending", "active", "finished"}, "pending"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListDuels(ctx, state, count, offset)
			if err != nil {
				return err
			}
			renderDuelList(state+" duels", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newDuelsMineCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mine [account]",
		Short: "List duels an account plays in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountFromArgsOrSession(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AccountDuels(ctx, account)
			if err != nil {
				return err
			}
			renderDuelList("duels of "+account, out)
			return nil
		},
	}
}

func newDuelsShowCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <duel_id>",
		Short: "Show one duel with its turn log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDuelID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := newClient(apiBase).Duel(ctx, id)
			if err != nil {
				return err
			}
			renderDuel(d)
			return nil
		},
	}
}

func newDuelsTopCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Show the featured duel of the last day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := newClient(apiBase).TopDuel(ctx)
			if err != nil {
				return err
			}
			if d == nil {
				printInfo("No featured duel right now.")
				return nil
			}
			renderDuel(*d)
			return nil
		},
	}
}

func newDuelsCreateCmd(apiBase *string) *cobra.Command {
	var stake string
	cmd := &cobra.Command{
		Use:   "create [figure]",
		Short: "Open a duel and lock a stake from your balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			figure, err := figureFromArgsOrPrompt(args, 0)
			if err != nil {
				return err
			}
			if stake == "" {
				stake = game.MinStake.Dec()
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			id, err := newClient(apiBase).CreateDuel(ctx, sess.AccessToken, figure, stake, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/duels",
					Body:           map[string]any{"figure": figure, "stake": stake},
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Duel %d created as %s with stake %s.", id, figure, formatTokens(stake)))
			return nil
		},
	}
	cmd.Flags().StringVar(&stake, "stake", "", "stake in base units (default one whole token)")
	return cmd
}

func newDuelsAcceptCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <duel_id> [figure]",
		Short: "Join a pending duel, matching its stake",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := parseDuelID(args[0])
			if err != nil {
				return err
			}
			figure, err := figureFromArgsOrPrompt(args, 1)
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := newClient(apiBase).AcceptDuel(ctx, sess.AccessToken, id, figure, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           fmt.Sprintf("/v1/duels/%d/accept", id),
					Body:           map[string]any{"figure": figure},
					IdempotencyKey: idem,
				})
			}
			renderDuel(d)
			return nil
		},
	}
}

func newDuelsTurnCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "turn <duel_id> [style]",
		Short: "Attack with Witty, Brutal, Strategic or Mocking",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := parseDuelID(args[0])
			if err != nil {
				return err
			}
			var style string
			if len(args) > 1 {
				class, err := game.ParseAttackClass(args[1])
				if err != nil {
					return err
				}
				style = class.String()
			} else {
				names := make([]string, 0, len(game.AttackClasses))
				for _, c := range game.AttackClasses {
					names = append(names, c.String())
				}
				if style, err = promptChoice("Style", names, names[0]); err != nil {
					return err
				}
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := newClient(apiBase).TakeTurn(ctx, sess.AccessToken, id, style, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           fmt.Sprintf("/v1/duels/%d/turns", id),
					Body:           map[string]any{"style": style},
					IdempotencyKey: idem,
				})
			}
			renderTurn(res)
			return nil
		},
	}
}

func newDuelsCancelCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <duel_id>",
		Short: "Cancel a stale duel and refund stakes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := parseDuelID(args[0])
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).CancelDuel(ctx, sess.AccessToken, id, idem); err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           fmt.Sprintf("/v1/duels/%d/cancel", id),
					Body:           map[string]any{},
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Duel %d canceled. Stakes are on their way back.", id))
			return nil
		},
	}
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account]",
		Short: "Show an account's unstaked balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountFromArgsOrSession(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Balance(ctx, account)
			if err != nil {
				return err
			}
			accent.Printf("%s: ", out.AccountID)
			fmt.Println(formatTokens(out.Balance))
			return nil
		},
	}
}

func newWithdrawCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Send part of your balance back to your wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			amount := strings.TrimSpace(args[0])
			if _, err := game.ParseAmount(amount); err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Withdraw(ctx, sess.AccessToken, amount, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/withdrawals",
					Body:           map[string]any{"amount": amount},
					IdempotencyKey: idem,
				})
			}
			bal, _ := out["balance"].(string)
			printSuccess(fmt.Sprintf("Withdrew %s. Remaining balance %s.", formatTokens(amount), formatTokens(bal)))
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	lb := &cobra.Command{
		Use:   "leaderboard",
		Short: "Leaderboard commands",
	}
	for _, board := range []struct{ name, title, label string }{
		{"wins", "Most wins", "wins"},
		{"damage", "Most damage dealt", "damage"},
	} {
		var count, offset int
		cmd := &cobra.Command{
			Use:   board.name,
			Short: board.title,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				rows, err := newClient(apiBase).Leaderboard(ctx, board.name, count, offset)
				if err != nil {
					return err
				}
				renderLeaderboard(board.title, board.label, rows)
				return nil
			},
		}
		cmd.Flags().IntVar(&count, "count", 20, "page size")
		cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
		lb.AddCommand(cmd)
	}
	return lb
}

func newCustodyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "custody",
		Short: "Compare ledger totals against believed custody",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			report, err := newClient(apiBase).Custody(ctx)
			if err != nil {
				return err
			}
			renderCustody(report)
			return nil
		},
	}
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}
	admin.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Burn custody funds the ledger does not account for",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			out, err := newClient(apiBase).Reconcile(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			if out.Failed {
				printError(fmt.Sprintf("Reconcile token call failed (held %s).", formatTokens(out.Held)))
				return nil
			}
			printSuccess(fmt.Sprintf("Reconciled: held %s, burned %s.", formatTokens(out.Held), formatTokens(out.Burned)))
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "annotations",
		Short: "List turns waiting for an annotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tasks, err := newClient(apiBase).AnnotationQueue(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			accent.Println("\n== ANNOTATION QUEUE ==")
			if len(tasks) == 0 {
				printInfo("Nothing to annotate.")
				return nil
			}
			fmt.Printf("%-6s %-5s %-22s %-22s %-10s %s\n", "DUEL", "TURN", "ATTACKER", "DEFENDER", "STYLE", "DAMAGE")
			for _, t := range tasks {
				fmt.Printf("%-6d %-5d %-22s %-22s %-10s %d\n", t.DuelID, t.Turn, t.CurrentFigure, t.NextFigure, t.Style, t.Damage)
			}
			fmt.Println()
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "annotate <duel_id> <turn> <reference>",
		Short: "Attach an annotation reference to a turn",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := parseDuelID(args[0])
			if err != nil {
				return err
			}
			turn, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil || turn < 0 {
				return fmt.Errorf("invalid turn index")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).Annotate(ctx, sess.AccessToken, id, turn, args[2], uuid.NewString()); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Annotated duel %d turn %d.", id, turn))
			return nil
		},
	})
	return admin
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay requests queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed, rejected := 0, 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					replayed++
				case cl.IsAPIError(err):
					// The server answered; retrying the same request cannot change that.
					rejected++
					printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
				default:
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", replayed, rejected, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a mutating request for `duelctl sync` when it
// never reached the server. API rejections are returned unchanged.
func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed: %w (queueing also failed: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("Request failed (%v). Queued %s %s; run `duelctl sync` to retry.", err, q.Method, q.Path))
	return nil
}

func parseDuelID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duel id %q", s)
	}
	return id, nil
}

func figureFromArgsOrPrompt(args []string, idx int) (string, error) {
	raw := ""
	if len(args) > idx {
		raw = args[idx]
	} else {
		var err error
		if raw, err = promptRequired("Figure (see `duelctl figures`)"); err != nil {
			return "", err
		}
	}
	p, err := game.ParsePersona(raw)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func accountFromArgsOrSession(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return "", fmt.Errorf("pass an account or login first: %w", err)
	}
	if sess.Account == "" {
		return "", fmt.Errorf("session has no account; pass one explicitly")
	}
	return sess.Account, nil
}
