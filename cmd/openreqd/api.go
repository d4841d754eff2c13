package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openreq/openreq"
	"github.com/openreq/openreq/currency"
	"github.com/openreq/openreq/payment"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/request"
	"github.com/openreq/openreq/store"
)

// API exposes the node over plain JSON endpoints:
//
//	POST /actions                 apply a signed action
//	GET  /requests/{id}           fetch the request state
//	GET  /requests/{id}/balance   fetch the latest recorded balance
//	GET  /requests/{id}/events    fetch the declared-event journal
type API struct {
	node       *openreq.Node
	store      *store.Store
	currencies currency.Table
	metrics    *Metrics
	logger     log.Logger
}

func NewAPI(node *openreq.Node, st *store.Store, currencies currency.Table, metrics *Metrics, logger log.Logger) *API {
	return &API{
		node:       node,
		store:      st,
		currencies: currencies,
		metrics:    metrics,
		logger:     logger.NewSystem("api"),
	}
}

// Register mounts the API routes on the given mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/actions", a.handleAction)
	mux.HandleFunc("/requests/", a.handleRequest)
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}

	var action request.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "malformed action: "+err.Error())
		return
	}

	a.metrics.ActionsTotal.WithLabelValues(string(action.Data.Name)).Inc()

	var current *request.Request
	if action.Data.Name != request.ActionCreate {
		requestID, err := request.GetRequestIDFromAction(action)
		if err != nil {
			a.rejectAction(w, action, http.StatusBadRequest, err)
			return
		}
		current, err = a.store.GetRequest(r.Context(), requestID)
		if err != nil {
			a.rejectAction(w, action, http.StatusInternalServerError, err)
			return
		}
		if current == nil {
			a.rejectAction(w, action, http.StatusNotFound, errors.New("unknown request"))
			return
		}
	}

	next, err := a.node.ApplyAction(current, action)
	if err != nil {
		a.rejectAction(w, action, statusForApplyError(err), err)
		return
	}

	if action.Data.Name == request.ActionCreate {
		if _, ok := a.currencies.Find(next.Currency.Type, next.Currency.Value, next.Currency.Network); !ok {
			a.rejectAction(w, action, http.StatusBadRequest,
				fmt.Errorf("unknown currency %s %q on network %q", next.Currency.Type, next.Currency.Value, next.Currency.Network))
			return
		}
	}

	if err := a.store.SaveRequest(r.Context(), next); err != nil {
		a.rejectAction(w, action, http.StatusInternalServerError, err)
		return
	}
	a.syncDeclaredEvents(r.Context(), next)

	a.metrics.ActionsApplied.WithLabelValues(string(action.Data.Name)).Inc()
	a.logger.Info("applied action", "requestId", next.RequestID, "action", action.Data.Name)
	writeJSON(w, http.StatusOK, next)
}

// syncDeclaredEvents mirrors the attested declarations of the request's
// payment-network extension into the journal. Best effort: the action is
// already applied and saved, a journal failure only loses queryability.
func (a *API) syncDeclaredEvents(ctx context.Context, req *request.Request) {
	for _, state := range req.Extensions {
		if state.Type != request.ExtensionTypePaymentNetwork {
			continue
		}
		events := payment.DeclaredEvents(state)
		if len(events) == 0 {
			return
		}
		if err := a.store.SyncDeclaredEvents(ctx, req.RequestID, events); err != nil {
			a.logger.Error("failed to sync declared events", "requestId", req.RequestID, "error", err)
		}
		return
	}
}

func (a *API) rejectAction(w http.ResponseWriter, action request.Action, status int, err error) {
	a.metrics.ActionsFail.WithLabelValues(string(action.Data.Name)).Inc()
	a.logger.Warn("rejected action", "action", action.Data.Name, "error", err)
	writeError(w, status, err.Error())
}

func (a *API) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/requests/")
	requestID, sub, _ := strings.Cut(rest, "/")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "missing request id")
		return
	}

	req, err := a.store.GetRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "unknown request")
		return
	}

	switch sub {
	case "":
		writeJSON(w, http.StatusOK, req)
	case "balance":
		run, err := a.store.LatestDetectionRun(r.Context(), requestID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if run == nil {
			writeError(w, http.StatusNotFound, "no balance recorded yet")
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "events":
		events, err := a.store.ListDeclaredEvents(r.Context(), requestID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func statusForApplyError(err error) int {
	var authErr *request.AuthorizationError
	if errors.As(err, &authErr) {
		return http.StatusForbidden
	}
	if errors.Is(err, request.ErrRequestAlreadyExists) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
