package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/viralforge/ppv-access-service/internal/application"
	"github.com/viralforge/ppv-access-service/internal/contracts"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
	"github.com/viralforge/ppv-access-service/internal/ports"
	"github.com/viralforge/ppv-access-service/internal/validation"
)

type actionFunc func(h *Handler, w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error)

var actionHandlers = map[string]actionFunc{
	contracts.ActionCreatePayment:     (*Handler).createPayment,
	contracts.ActionCheckPayment:      (*Handler).checkPayment,
	contracts.ActionVerifyAccess:      (*Handler).verifyAccess,
	contracts.ActionLookupAccess:      (*Handler).lookupAccess,
	contracts.ActionCheckIPAccess:     (*Handler).checkIPAccess,
	contracts.ActionHeartbeat:         (*Handler).heartbeat,
	contracts.ActionEnhancedHeartbeat: (*Handler).heartbeat,
	contracts.ActionReportViolation:   (*Handler).reportViolation,
}

// action is the single JSON endpoint. The body is routed by its "action"
// field and then decoded strictly into the typed request.
func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeValidationError(w, r, "action", err)
		return
	}
	var env contracts.ActionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		writeValidationError(w, r, "action", err)
		return
	}
	env.Action = strings.TrimSpace(env.Action)
	if err := validation.ValidateStruct(&env); err != nil {
		metrics.ActionRequestsTotal.WithLabelValues("unknown", "invalid").Inc()
		writeValidationError(w, r, "action", err)
		return
	}

	annotateAction(r.Context(), env.Action)
	handle := actionHandlers[env.Action]
	status, data, err := handle(h, w, r, raw)
	if err != nil {
		metrics.ActionRequestsTotal.WithLabelValues(env.Action, actionOutcome(err)).Inc()
		writeMappedError(w, r, env.Action, err)
		return
	}
	metrics.ActionRequestsTotal.WithLabelValues(env.Action, "success").Inc()
	writeSuccess(w, status, data)
}

func actionOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrSecurityBlocked):
		return "blocked"
	case errors.Is(err, domain.ErrDeviceDenied):
		return "denied"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		status, _, _ := mapDomainError(err)
		if status >= 500 {
			return "error"
		}
		return "rejected"
	}
}

func securityContext(r *http.Request, action, email string, sc contracts.SecurityContext) ports.SecurityContext {
	return ports.SecurityContext{
		Action:         action,
		IPAddress:      readIP(r),
		UserAgent:      r.UserAgent(),
		Email:          email,
		Fingerprint:    sc.Fingerprint,
		Honeypot:       sc.Honeypot,
		FormFillMillis: sc.FormFillMs,
		Extra:          sc.Extra,
	}
}

func deviceContext(r *http.Request, deviceID string) application.DeviceContext {
	return application.DeviceContext{
		DeviceID:  deviceID,
		OriginIP:  readIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.CreatePaymentRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	res, err := h.service.InitiatePurchase(r.Context(), application.InitiatePurchaseRequest{
		EventID:          req.EventID,
		Email:            req.Email,
		Name:             req.Name,
		PaymentMethodRef: req.PaymentMethodRef,
		Security:         securityContext(r, contracts.ActionCreatePayment, req.Email, req.SecurityContext),
	})
	if err != nil {
		return 0, nil, err
	}
	status := http.StatusOK
	if res.Outcome == application.PurchaseOutcomeCompleted {
		status = http.StatusCreated
	}
	return status, contracts.CreatePaymentResponse{
		Outcome:         res.Outcome,
		PaymentIntentID: res.PaymentIntentID,
		ClientSecret:    res.ClientSecret,
		AmountMinor:     res.AmountMinor,
		Currency:        res.Currency,
		AccessToken:     res.AccessToken,
		ExpiresAt:       res.ExpiresAt,
	}, nil
}

func (h *Handler) checkPayment(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.CheckPaymentRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	res, err := h.service.CheckPayment(r.Context(), application.CheckPaymentRequest{
		PaymentIntentID: req.PaymentIntentID,
		Email:           req.Email,
		Name:            req.Name,
	})
	if err != nil {
		return 0, nil, err
	}
	p := res.Purchase
	return http.StatusOK, contracts.CheckPaymentResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		Purchase: contracts.PurchaseResponse{
			PurchaseID:      p.PurchaseID,
			EventID:         p.EventID,
			CustomerEmail:   p.CustomerEmail,
			AmountMinor:     p.AmountMinor,
			Currency:        p.Currency,
			PaymentIntentID: p.PaymentIntentID,
			Status:          p.Status,
			PurchasedAt:     p.PurchasedAt,
			AccessExpiresAt: p.AccessExpiresAt,
		},
	}, nil
}

func (h *Handler) verifyAccess(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.VerifyAccessRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	grant, err := h.service.VerifyAccess(r.Context(), application.VerifyAccessRequest{
		Token:  req.Token,
		Device: deviceContext(r, req.DeviceID),
	})
	if err != nil {
		return 0, nil, err
	}
	// The caller already holds the token.
	resp := toAccessResponse(grant)
	resp.AccessToken = ""
	return http.StatusOK, resp, nil
}

func (h *Handler) lookupAccess(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.LookupAccessRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	grant, err := h.service.LookupAccessByEmail(r.Context(), application.LookupAccessRequest{
		Email:    req.Email,
		EventID:  req.EventID,
		Device:   deviceContext(r, req.DeviceID),
		Security: securityContext(r, contracts.ActionLookupAccess, req.Email, req.SecurityContext),
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toAccessResponse(grant), nil
}

func (h *Handler) checkIPAccess(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.CheckIPAccessRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	grant, err := h.service.LookupAccessByOriginIP(r.Context(), application.OriginIPAccessRequest{
		EventID:  req.EventID,
		OriginIP: readIP(r),
		Device:   deviceContext(r, req.DeviceID),
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toAccessResponse(grant), nil
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.HeartbeatRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	signals := make([]application.ViolationSignal, 0, len(req.Signals))
	for _, s := range req.Signals {
		signals = append(signals, application.ViolationSignal{Type: s.Type, Details: s.Details})
	}
	res, err := h.service.Heartbeat(r.Context(), application.HeartbeatRequest{
		Token:   req.Token,
		Device:  deviceContext(r, req.DeviceID),
		Signals: signals,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, contracts.HeartbeatResponse{
		ActiveDeviceCount: res.ActiveDeviceCount,
		MaxDevices:        res.MaxDevices,
		NextHeartbeatAt:   res.NextHeartbeatAt,
		ExpiresAt:         res.ExpiresAt,
		Action:            res.Action,
	}, nil
}

func (h *Handler) reportViolation(w http.ResponseWriter, r *http.Request, raw []byte) (int, any, error) {
	var req contracts.ReportViolationRequest
	if err := decodeStrict(raw, &req); err != nil {
		return 0, nil, err
	}
	res, err := h.service.ReportViolation(r.Context(), application.ReportViolationRequest{
		Token:    req.Token,
		DeviceID: req.DeviceID,
		Violation: application.ViolationSignal{
			Type:    req.Violation.Type,
			Details: req.Violation.Details,
		},
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, contracts.ReportViolationResponse{
		Action:               res.Action,
		CumulativeViolations: res.CumulativeViolations,
	}, nil
}

func toAccessResponse(grant application.AccessGrant) contracts.AccessResponse {
	event := toEventResponse(grant.Event)
	event.StreamURL = grant.Event.StreamLocator
	return contracts.AccessResponse{
		AccessToken:       grant.AccessToken,
		Event:             event,
		Email:             grant.Email,
		ExpiresAt:         grant.ExpiresAt,
		ActiveDevices:     grant.ActiveDevices,
		MaxDevices:        grant.MaxDevices,
		PlaybackToken:     grant.PlaybackToken,
		PlaybackExpiresAt: grant.PlaybackExpiresAt,
	}
}
