// Copyright 2025 PennyFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pennyflow/platform/assistant/chat"
	"pennyflow/platform/assistant/digest"
	"pennyflow/platform/cache"
	"pennyflow/platform/common/usage"
	"pennyflow/platform/shared/logger"
	"pennyflow/platform/store"
)

// maxRequestBodySize limits request bodies to 1MB to prevent memory
// exhaustion.
const maxRequestBodySize = 1 << 20

// digestService is the slice of the digest orchestrator the handlers need.
type digestService interface {
	GetDailyDigest(ctx context.Context, userID, length, date string) (*digest.Result, error)
	RegenerateDigest(ctx context.Context, userID, length, specs, date string) (string, error)
	RemainingCustomCount(ctx context.Context, userID, date string) (int, error)
}

// chatRunner is the slice of the chat loop the handlers need.
type chatRunner interface {
	Run(ctx context.Context, userID, message, sessionID, traceID string) (*chat.TurnResult, error)
}

// usageLimiter enforces the per-user daily AI allowance.
type usageLimiter interface {
	CheckDailyLimit(ctx context.Context, userID, date string, limit int) error
}

// Handler serves the assistant HTTP API.
type Handler struct {
	digests    digestService
	chat       chatRunner
	cache      cache.Cache
	limiter    usageLimiter
	dailyLimit int
	log        *logger.Logger
}

// NewHandler creates the API handler. dailyLimit of 0 disables the per-user
// daily AI allowance.
func NewHandler(d digestService, c chatRunner, kv cache.Cache, limiter usageLimiter, dailyLimit int) *Handler {
	return &Handler{
		digests:    d,
		chat:       c,
		cache:      kv,
		limiter:    limiter,
		dailyLimit: dailyLimit,
		log:        logger.New("assistant-api"),
	}
}

// RegisterRoutes registers the assistant API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/digest", h.handleDailyDigest).Methods("GET")
	r.HandleFunc("/api/v1/digest/regenerate", h.handleRegenerateDigest).Methods("POST")
	r.HandleFunc("/api/v1/chat", h.handleChat).Methods("POST")
	r.HandleFunc("/api/v1/chat/trace/{id}", h.handleChatTrace).Methods("GET")
}

func (h *Handler) handleDailyDigest(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user ID")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	length := r.URL.Query().Get("length")

	result, err := h.digests.GetDailyDigest(r.Context(), userID, length, date)
	if err != nil {
		if errors.Is(err, digest.ErrRetry) {
			w.Header().Set("Retry-After", "2")
			h.writeError(w, http.StatusServiceUnavailable, "RETRY", "Digest state is settling, retry shortly")
			return
		}
		h.log.ErrorWithCode(userID, "", "daily digest failed", http.StatusInternalServerError, err, nil)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Digest generation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    date,
		"pending": result.Pending,
		"content": result.Content,
	})
}

type regenerateRequest struct {
	Question string `json:"question"`
	Length   string `json:"length"`
	Date     string `json:"date"`
}

func (h *Handler) handleRegenerateDigest(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user ID")
		return
	}

	var req regenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if req.Question == "" {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "question is required")
		return
	}
	if req.Date == "" {
		req.Date = time.Now().UTC().Format("2006-01-02")
	}

	content, err := h.digests.RegenerateDigest(r.Context(), userID, req.Length, req.Question, req.Date)
	if err != nil {
		var quota *digest.QuotaError
		if errors.As(err, &quota) {
			h.writeError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED",
				"Daily custom digest limit reached. Try again tomorrow or upgrade your plan.")
			return
		}
		h.log.ErrorWithCode(userID, "", "custom digest failed", http.StatusInternalServerError, err, nil)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Digest generation failed")
		return
	}

	remaining, err := h.digests.RemainingCustomCount(r.Context(), userID, req.Date)
	if err != nil {
		remaining = 0
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":   content,
		"remaining": remaining,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user ID")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "message is required")
		return
	}

	if h.limiter != nil {
		today := time.Now().UTC().Format("2006-01-02")
		if err := h.limiter.CheckDailyLimit(r.Context(), userID, today, h.dailyLimit); err != nil {
			var quota *usage.QuotaError
			if errors.As(err, &quota) {
				h.writeError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", quota.Error())
				return
			}
			// a broken counter must not take chat down with it
			h.log.Error(userID, req.RequestID, "usage limit check failed", map[string]interface{}{"error": err.Error()})
		}
	}

	result, err := h.chat.Run(r.Context(), userID, req.Message, req.SessionID, req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotSessionOwner):
			h.writeError(w, http.StatusForbidden, "FORBIDDEN", "Session belongs to another user")
		case errors.Is(err, store.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		default:
			h.log.ErrorWithCode(userID, req.RequestID, "chat turn failed", http.StatusInternalServerError, err, nil)
			h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Chat request failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleChatTrace(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user ID")
		return
	}

	requestID := mux.Vars(r)["id"]
	trace, err := chat.GetLiveTrace(r.Context(), h.cache, userID, requestID)
	if err != nil {
		h.log.ErrorWithCode(userID, requestID, "trace lookup failed", http.StatusInternalServerError, err, nil)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Trace lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, trace)
}

// userID extracts the authenticated user from the request. Authentication
// itself (token verification) happens at the edge; this service trusts the
// forwarded identity header.
func (h *Handler) userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// apiError is the error envelope shared by all endpoints.
type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("", "", "response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, apiError{Error: apiErrorDetail{Code: code, Message: message}})
}
