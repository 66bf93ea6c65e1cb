package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"duels/internal/auth"
	"duels/internal/config"
	"duels/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey contextKey = "user"

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

type UserContext struct {
	Account string
	Token   string
}

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	auth   *auth.Signer
	engine *game.Engine
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, signer *auth.Signer, engine *game.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   signer,
		engine: engine,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/figures", s.handleFigures)
		r.Get("/styles", s.handleStyles)
		r.Get("/duels", s.handleDuelsList)
		r.Get("/duels/top", s.handleTopDuel)
		r.Get("/duels/{id}", s.handleDuel)
		r.Get("/accounts/{account}/duels", s.handleAccountDuels)
		r.Get("/accounts/{account}/balance", s.handleBalance)
		r.Get("/leaderboard/wins", s.handleLeaderboardWins)
		r.Get("/leaderboard/damage", s.handleLeaderboardDamage)
		r.Get("/custody", s.handleCustody)

		r.With(s.webhookMiddleware, s.idempotent(tokenServiceOwner, true)).Post("/hooks/transfer", s.handleTransferHook)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.idempotent(accountOwner, false))
			r.Post("/duels", s.handleCreateDuel)
			r.Post("/duels/{id}/accept", s.handleAcceptDuel)
			r.Post("/duels/{id}/turns", s.handleTakeTurn)
			r.Post("/duels/{id}/cancel", s.handleCancelDuel)
			r.Post("/withdrawals", s.handleWithdraw)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Post("/reconcile", s.handleReconcile)
				r.Put("/duels/{id}/turns/{turn}/annotation", s.handleAnnotate)
				r.Get("/annotation-queue", s.handleAnnotationQueue)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			Account: claims.Account,
			Token:   token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if user.Account != s.engine.Admin() {
			writeDomainError(w, game.ErrNotAdmin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// webhookMiddleware admits only the token service, which signs its calls
// with the shared secret.
func (s *Server) webhookMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Webhook-Secret")
		want := s.cfg.WebhookSecret
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.Account == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleFigures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"figures": game.Profiles()})
}

func (s *Server) handleStyles(w http.ResponseWriter, _ *http.Request) {
	type styleView struct {
		Name          string `json:"name"`
		StrongAgainst string `json:"strong_against"`
		WeakAgainst   string `json:"weak_against"`
	}
	out := make([]styleView, 0, len(game.AttackClasses))
	for _, c := range game.AttackClasses {
		v := styleView{Name: c.String()}
		for _, other := range game.AttackClasses {
			if c.StrongAgainst(other) {
				v.StrongAgainst = other.String()
			}
			if c.WeakAgainst(other) {
				v.WeakAgainst = other.String()
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"styles": out})
}

func (s *Server) handleDuelsList(w http.ResponseWriter, r *http.Request) {
	var state game.State
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state"))) {
	case "", "pending":
		state = game.StatePending
	case "active":
		state = game.StateActive
	case "finished", "settled":
		state = game.StateSettled
	default:
		writeError(w, http.StatusBadRequest, "state must be pending, active or finished")
		return
	}
	count, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duels": s.engine.ListDuels(state, count, offset)})
}

func (s *Server) handleTopDuel(w http.ResponseWriter, _ *http.Request) {
	d, ok := s.engine.TopDuel()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"duel": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duel": d})
}

func (s *Server) handleDuel(w http.ResponseWriter, r *http.Request) {
	id, err := duelIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.engine.Duel(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAccountDuels(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	writeJSON(w, http.StatusOK, map[string]any{"duels": s.engine.AccountDuels(account)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	bal := s.engine.Balance(account)
	writeJSON(w, http.StatusOK, game.BalanceView{AccountID: account, Balance: bal.Dec()})
}

func (s *Server) handleLeaderboardWins(w http.ResponseWriter, r *http.Request) {
	count, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": s.engine.LeaderboardByWins(count, offset)})
}

func (s *Server) handleLeaderboardDamage(w http.ResponseWriter, r *http.Request) {
	count, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": s.engine.LeaderboardByDamage(count, offset)})
}

func (s *Server) handleCustody(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Custody())
}

func (s *Server) handleTransferHook(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SenderID string `json:"sender_id"`
		Amount   string `json:"amount"`
		Msg      string `json:"msg"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := game.ParseAmount(in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.engine.OnTransfer(r.Context(), in.SenderID, amount, in.Msg)
	if err != nil {
		// A rejection tells the token service to refund the sender.
		s.log.Warn("deposit rejected", "sender", in.SenderID, "amount", in.Amount, "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateDuel(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Figure string `json:"figure"`
		Stake  string `json:"stake"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	persona, err := game.ParsePersona(in.Figure)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stake, err := game.ParseAmount(in.Stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := s.engine.CreateDuel(r.Context(), user.Account, persona, stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"duel_id": id})
}

func (s *Server) handleAcceptDuel(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := duelIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Figure string `json:"figure"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	persona, err := game.ParsePersona(in.Figure)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.engine.AcceptDuel(r.Context(), user.Account, id, persona); err != nil {
		writeDomainError(w, err)
		return
	}
	d, err := s.engine.Duel(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTakeTurn(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := duelIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Style string `json:"style"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	class, err := game.ParseAttackClass(in.Style)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.engine.TakeTurn(r.Context(), user.Account, id, class)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := map[string]any{
		"duel_id": id,
		"turn":    res.Turn,
		"damage":  res.Damage,
	}
	if res.Winner != game.WinnerNone {
		out["winner"] = res.Winner.String()
	}
	if ids := settlementCalls(res.Settlement); ids != nil {
		out["settlement_calls"] = ids
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelDuel(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := duelIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h, err := s.engine.CancelDuel(r.Context(), user.Account, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := map[string]any{"duel_id": id, "canceled": true}
	if ids := settlementCalls(h); ids != nil {
		out["settlement_calls"] = ids
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := game.ParseAmount(in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h, err := s.engine.Withdraw(r.Context(), user.Account, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	bal := s.engine.Balance(user.Account)
	out := map[string]any{"account_id": user.Account, "withdrawn": amount.Dec(), "balance": bal.Dec()}
	if ids := settlementCalls(h); ids != nil {
		out["settlement_calls"] = ids
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReconcile starts an excess burn. With ?wait=1 it blocks until the
// balance query and any burn have finished.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	h := s.engine.ReconcileExcess(context.WithoutCancel(r.Context()))
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}
	results, err := h.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	burned := h.Burned()
	out := map[string]any{
		"status": "completed",
		"burned": burned.Dec(),
		"failed": h.Failed(),
	}
	for _, res := range results {
		if res.Call.Kind == game.CallBalance && res.Err == nil {
			out["held"] = res.Call.Amount.Dec()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := duelIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	turn, err := strconv.Atoi(chi.URLParam(r, "turn"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid turn index")
		return
	}
	var in struct {
		Reference string `json:"reference"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.SetAnnotation(r.Context(), user.Account, id, turn, in.Reference); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duel_id": id, "turn": turn, "reference": strings.TrimSpace(in.Reference)})
}

func (s *Server) handleAnnotationQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.engine.AnnotationQueue()})
}

func settlementCalls(h *game.SettlementHandle) []string {
	if h == nil {
		return nil
	}
	ids := make([]string, 0, len(h.Calls))
	for _, c := range h.Calls {
		ids = append(ids, c.ID)
	}
	return ids
}

func duelIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid duel id")
	}
	return id, nil
}

func pageParams(r *http.Request) (count, offset int, err error) {
	q := r.URL.Query()
	count = defaultPageSize
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count <= 0 {
			return 0, 0, fmt.Errorf("invalid count %q", v)
		}
	}
	if count > maxPageSize {
		count = maxPageSize
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return count, offset, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInsufficientBalance), errors.Is(err, game.ErrBelowMinimumStake),
		errors.Is(err, game.ErrUnknownPersona), errors.Is(err, game.ErrUnknownAttackClass),
		errors.Is(err, game.ErrInvalidAmount), errors.Is(err, game.ErrInvalidAccount),
		errors.Is(err, game.ErrInvalidAnnotation), errors.Is(err, game.ErrSelfParticipation),
		errors.Is(err, game.ErrDuplicatePersona):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrNotParticipant), errors.Is(err, game.ErrNotOpponent), errors.Is(err, game.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrAlreadyAccepted), errors.Is(err, game.ErrDuelComplete),
		errors.Is(err, game.ErrNotYourTurn), errors.Is(err, game.ErrAlreadyAnnotated),
		errors.Is(err, game.ErrTurnNotTaken), errors.Is(err, game.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrTooEarly):
		writeError(w, http.StatusTooEarly, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
