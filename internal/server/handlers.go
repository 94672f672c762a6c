package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/drift"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/engine"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra/auth"
)

// writeJSON — единый способ отдать ответ (всегда JSON, даже ошибки)
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, detail string) {
	s.writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

// handleEvaluate — POST /v1/evaluate: прогон плана через governance-пайплайн.
// user_role берется из клеймов токена, тело запроса его НЕ перекрывает.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req engine.GovernanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Plan.ID == "" || req.Plan.AgentID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "plan.id and plan.agent_id are required")
		return
	}

	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		req.Context.UserRole = claims.Role
	}

	resp, err := s.core.Process(r.Context(), req)
	if err != nil {
		// Невалидные векторы — вина клиента, не деградация сервиса
		if errors.Is(err, drift.ErrDimensionMismatch) ||
			errors.Is(err, drift.ErrEmptyVector) ||
			errors.Is(err, drift.ErrZeroNormVector) {
			s.writeError(w, http.StatusUnprocessableEntity, "invalid_drift_sample", err.Error())
			return
		}
		s.logger.Error("evaluation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "evaluation_failed", "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleStatus — GET /v1/status: live-снимок тикера, буфера и мониторов дрейфа
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"bypass_active": s.bypass.Active(),
		"monitors":      s.core.MonitorStatuses(),
		"buffer":        s.ticker.Buffer().Status(),
	}

	if st, err := s.ticker.Status(); err != nil {
		out["ticker"] = map[string]string{"state": "not_running"}
	} else {
		out["ticker"] = st
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleFrames — GET /v1/frames?max=N: дренаж кадров телеметрии (FIFO).
// Прочитанные кадры из буфера удаляются.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	max := 100
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "max must be a positive integer")
			return
		}
		max = n
	}

	frames := s.ticker.Buffer().PopBatch(max)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(frames),
		"frames": frames,
	})
}

// operatorOnly — control-plane защищен отдельным операторским токеном
// (X-Operator-Token), сверяемым с bcrypt-хэшем из конфига. JWT агентов сюда
// доступа не дает.
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.cfg.Auth.OperatorTokenHash
		if hash == "" {
			s.writeError(w, http.StatusForbidden, "control_disabled", "operator token is not configured")
			return
		}

		token := r.Header.Get("X-Operator-Token")
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			s.logger.Warn("operator auth failure", zap.String("remote", r.RemoteAddr))
			s.writeError(w, http.StatusForbidden, "forbidden", "invalid operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleBypass — POST /v1/control/bypass {"active": bool}: глобальный
// kill-switch governance-контура. Сигнал уходит через Redis на все реплики.
func (s *Server) handleBypass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var err error
	if req.Active {
		err = s.bypass.Activate(r.Context())
	} else {
		err = s.bypass.Deactivate(r.Context())
	}
	if err != nil {
		s.logger.Error("bypass state change failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "control_plane_error", "failed to propagate bypass state")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"bypass_active": req.Active})
}

// handleBlock — POST /v1/control/block {"agent_id": "...", "blocked": bool}:
// поставить или снять блокировку агента на всех репликах. Отсутствующий
// "blocked" означает true.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		Blocked *bool  `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "agent_id is required")
		return
	}
	blocked := req.Blocked == nil || *req.Blocked

	var err error
	if blocked {
		err = s.blocklist.Block(r.Context(), req.AgentID)
	} else {
		err = s.blocklist.Unblock(r.Context(), req.AgentID)
	}
	if err != nil {
		s.logger.Error("blocklist update failed",
			zap.String("agent_id", req.AgentID),
			zap.Bool("blocked", blocked),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "control_plane_error", "failed to propagate blocklist update")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": req.AgentID,
		"blocked":  blocked,
	})
}
