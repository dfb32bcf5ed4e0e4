package order_api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"ms-fulfillment/internal/utils"
)

func (h *Handler) ListUnavailable(w http.ResponseWriter, r *http.Request) {
	items, err := h.Menu.List(r.Context())
	if err != nil {
		h.Logger.Error("REDIS", fmt.Sprintf("ListUnavailable: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("86-list unavailable", "redis error"))
		return
	}
	if items == nil {
		items = []string{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Unavailable items", items))
}

func (h *Handler) MarkUnavailable(w http.ResponseWriter, r *http.Request) {
	h.setAvailability(w, r, false)
}

func (h *Handler) MarkAvailable(w http.ResponseWriter, r *http.Request) {
	h.setAvailability(w, r, true)
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request, available bool) {
	// names arrive path-escaped, e.g. "Oyster%20Po%27Boy"
	itemID, err := url.PathUnescape(chi.URLParam(r, "itemId"))
	itemID = strings.TrimSpace(itemID)
	if err != nil || itemID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid item", "item id is required"))
		return
	}

	if available {
		err = h.Menu.MarkAvailable(r.Context(), itemID)
	} else {
		err = h.Menu.MarkUnavailable(r.Context(), itemID)
	}
	if err != nil {
		h.Logger.Error("REDIS", fmt.Sprintf("86-list update for %s failed: %v", itemID, err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("86-list unavailable", "redis error"))
		return
	}

	h.Logger.Info("API", fmt.Sprintf("86-list: %s available=%t", itemID, available))
	w.WriteHeader(http.StatusNoContent)
}
