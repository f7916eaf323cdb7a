package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/feedback"
	"github.com/mikey/mail-trust/internal/reputation"
)

const dayLayout = "2006-01-02"

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var email core.Email
	if err := decodeJSON(w, r, &email); err != nil {
		s.badRequest(w, "invalid email payload")
		return
	}
	email.UserID = userFrom(r)

	result, err := s.classifier.Classify(r.Context(), &email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type feedbackRequest struct {
	CorrectedCategory *core.Category `json:"corrected_category"`
	IsCorrect         bool           `json:"is_correct"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, "invalid feedback payload")
		return
	}

	err := s.feedback.Submit(r.Context(), feedback.Feedback{
		UserID:            userFrom(r),
		MessageID:         chi.URLParam(r, "messageID"),
		CorrectedCategory: req.CorrectedCategory,
		IsCorrect:         req.IsCorrect,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleReportSpam(w http.ResponseWriter, r *http.Request) {
	s.messageAction(w, r, s.feedback.ReportSpam)
}

func (s *Server) handleReportPhishing(w http.ResponseWriter, r *http.Request) {
	s.messageAction(w, r, s.feedback.ReportPhishing)
}

func (s *Server) messageAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, userID, messageID string) error) {
	if err := action(r.Context(), userFrom(r), chi.URLParam(r, "messageID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type notSpamRequest struct {
	Category *core.Category `json:"category"`
}

func (s *Server) handleMarkNotSpam(w http.ResponseWriter, r *http.Request) {
	var req notSpamRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.badRequest(w, "invalid payload")
			return
		}
	}

	if err := s.feedback.MarkNotSpam(r.Context(), userFrom(r), chi.URLParam(r, "messageID"), req.Category); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleMarkSafe(w http.ResponseWriter, r *http.Request) {
	assessment, err := s.feedback.MarkSafe(r.Context(), userFrom(r), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	assessment, err := s.classifier.RescanFor(r.Context(), userFrom(r), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assessment)
}

type senderResponse struct {
	Found               bool                   `json:"found"`
	ShouldUseReputation bool                   `json:"should_use_reputation"`
	SuggestedCategory   core.Category          `json:"suggested_category,omitempty"`
	Threshold           float64                `json:"threshold"`
	Reputation          *core.SenderReputation `json:"reputation,omitempty"`
}

func (s *Server) handleSender(w http.ResponseWriter, r *http.Request) {
	lookup := s.senders.Lookup(r.Context(), userFrom(r), chi.URLParam(r, "sender"))
	s.writeJSON(w, http.StatusOK, senderResponse{
		Found:               lookup.Found,
		ShouldUseReputation: lookup.ShouldUseReputation,
		SuggestedCategory:   lookup.SuggestedCategory,
		Threshold:           s.senders.Threshold(),
		Reputation:          lookup.Reputation,
	})
}

func (s *Server) handleDomainAction(w http.ResponseWriter, r *http.Request) {
	var event reputation.ActionEvent
	if err := decodeJSON(w, r, &event); err != nil {
		s.badRequest(w, "invalid action payload")
		return
	}
	event.UserID = userFrom(r)

	rep, err := s.domains.RecordAction(r.Context(), event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	reps, err := s.domains.List(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reps == nil {
		reps = []*core.DomainReputation{}
	}
	s.writeJSON(w, http.StatusOK, reps)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	rep, err := s.domains.Get(r.Context(), userFrom(r), chi.URLParam(r, "domain"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleWhitelist(on bool) http.HandlerFunc {
	return s.domainPin(on, s.domains.SetWhitelisted)
}

func (s *Server) handleBlacklist(on bool) http.HandlerFunc {
	return s.domainPin(on, s.domains.SetBlacklisted)
}

func (s *Server) domainPin(on bool, pin func(ctx context.Context, userID, domain string, on bool) (*core.DomainReputation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := pin(r.Context(), userFrom(r), chi.URLParam(r, "domain"), on)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := classlog.DefaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			s.badRequest(w, "days must be between 1 and 365")
			return
		}
		days = n
	}

	stats, err := s.stats.RealtimeStats(r.Context(), userFrom(r), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(dayLayout, chi.URLParam(r, "day"))
	if err != nil {
		s.badRequest(w, fmt.Sprintf("day must be formatted as %s", dayLayout))
		return
	}

	summary, err := s.stats.DailySummary(r.Context(), userFrom(r), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type aggregateResponse struct {
	Day   string `json:"day"`
	Users int    `json:"users"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	day := classlog.DayStart(time.Now().UTC().AddDate(0, 0, -1))
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := time.Parse(dayLayout, v)
		if err != nil {
			s.badRequest(w, fmt.Sprintf("day must be formatted as %s", dayLayout))
			return
		}
		day = parsed
	}

	n, err := s.stats.AggregateDay(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, aggregateResponse{Day: day.Format(dayLayout), Users: n})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.ListRules(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*core.AutomationRule{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule core.AutomationRule
	if err := decodeJSON(w, r, &rule); err != nil {
		s.badRequest(w, "invalid rule payload")
		return
	}
	rule.ID = ""
	rule.UserID = userFrom(r)
	rule.System = false

	created, err := s.rules.CreateRule(r.Context(), &rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleEnsureDefaults(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.EnsureDefaults(r.Context(), userFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

// ownedRule loads a rule, hiding rules owned by other users
func (s *Server) ownedRule(r *http.Request) (*core.AutomationRule, error) {
	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		return nil, err
	}
	if rule.UserID != userFrom(r) {
		return nil, core.ErrNotFound
	}
	return rule, nil
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.ownedRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, "invalid toggle payload")
		return
	}
	rule, err := s.ownedRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rule, err = s.rules.Toggle(r.Context(), rule.ID, req.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

// handleRunRule reports a failed run through the run log status, not the HTTP status
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.ownedRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log, _ := s.rules.RunRule(r.Context(), rule)
	s.writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	logs, err := s.rules.RunAllActive(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*core.RunLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	rule, err := s.ownedRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			s.badRequest(w, "limit must be a number")
			return
		}
	}

	logs, err := s.rules.RunLogs(r.Context(), rule.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*core.RunLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}
