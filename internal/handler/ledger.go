package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/store"
	"github.com/kulinotech/starhabit/internal/websocket"
)

// LedgerHandler exposes the star transaction history and the manual ways
// stars move: adjustments and reward redemptions.
type LedgerHandler struct {
	ledger   *store.LedgerStore
	children *store.ChildStore
	rewards  *store.RewardStore
	hub      *websocket.Hub
}

func NewLedgerHandler(ls *store.LedgerStore, cs *store.ChildStore, rs *store.RewardStore, hub *websocket.Hub) *LedgerHandler {
	return &LedgerHandler{ledger: ls, children: cs, rewards: rs, hub: hub}
}

func (h *LedgerHandler) broadcast(evt websocket.Event) {
	if h.hub != nil {
		h.hub.Broadcast(evt)
	}
}

func (h *LedgerHandler) broadcastBalance(childID int64) {
	if h.hub == nil {
		return
	}
	child, err := h.children.GetByID(childID)
	if err != nil || child == nil {
		return
	}
	h.hub.Broadcast(websocket.BalanceEvent(childID, child.CurrentBalance))
}

// List returns recent transactions, optionally filtered to one child.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var (
		txs []model.StarTransaction
		err error
	)
	if s := r.URL.Query().Get("child_id"); s != "" {
		childID, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid child_id"})
			return
		}
		txs, err = h.ledger.ListForChild(childID, limit)
	} else {
		txs, err = h.ledger.ListRecent(limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list transactions"})
		return
	}
	if txs == nil {
		txs = []model.StarTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Adjust grants or removes stars outside the normal task flow, for bonuses
// or penalties. Negative amounts are allowed and may push a balance below
// zero.
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	childID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Amount == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must not be zero"})
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	ok, err := h.ledger.ManualAdjustment(childID, req.Amount, req.Reason)
	if err != nil {
		log.Printf("failed to adjust balance for child %d: %v", childID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to adjust balance"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "child not found"})
		return
	}

	h.broadcastBalance(childID)

	child, _ := h.children.GetByID(childID)
	writeJSON(w, http.StatusOK, child)
}

// Redeem spends a child's stars on a reward. Refused when the balance does
// not cover the cost.
func (h *LedgerHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	rewardID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		ChildID int64 `json:"child_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	reward, err := h.rewards.GetByID(rewardID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get reward"})
		return
	}
	if reward == nil || !reward.Active {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reward not found"})
		return
	}

	ok, err := h.ledger.Redeem(req.ChildID, reward.CostValue, formatID(rewardID))
	if err != nil {
		log.Printf("failed to redeem reward %d: %v", rewardID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to redeem reward"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not enough stars"})
		return
	}

	h.broadcast(websocket.NewEvent(websocket.EntityReward, "redeemed", formatID(rewardID), nil))
	h.broadcastBalance(req.ChildID)

	child, _ := h.children.GetByID(req.ChildID)
	writeJSON(w, http.StatusOK, child)
}

// Redemptions lists past reward redemptions, newest first.
func (h *LedgerHandler) Redemptions(w http.ResponseWriter, r *http.Request) {
	reds, err := h.ledger.Redemptions()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list redemptions"})
		return
	}
	if reds == nil {
		reds = []model.Redemption{}
	}
	writeJSON(w, http.StatusOK, reds)
}

// Delete removes a transaction and backs its amount out of the child's
// balance.
func (h *LedgerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	txID := r.PathValue("id")

	tx, err := h.ledger.GetByID(txID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get transaction"})
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}

	if _, err := h.ledger.DeleteTransaction(txID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete transaction"})
		return
	}

	h.broadcast(websocket.NewEvent(websocket.EntityTransaction, "deleted", txID, nil))
	h.broadcastBalance(tx.ChildID)

	w.WriteHeader(http.StatusNoContent)
}
