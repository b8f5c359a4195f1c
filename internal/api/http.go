package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizxp/internal/attempt"
	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/period"
)

type (
	RecordAttemptRequest struct {
		AttemptID  string  `json:"attemptId"`
		UserID     string  `json:"userId"`
		QuizID     string  `json:"quizId"`
		Score      float64 `json:"score"`
		Difficulty string  `json:"difficulty"`
	}

	RunJobRequest struct {
		// At is the tick the job runs for; now when empty.
		At *time.Time `json:"at"`
	}

	RunJobResponse struct {
		Job string    `json:"job"`
		At  time.Time `json:"at"`
	}
)

func (a *API) registerHTTP(r gin.IRouter) {
	r.GET("/leaderboards/:board", a.getLeaderboard)
	r.GET("/quizzes/:week", a.getQuiz)
	r.POST("/attempts", a.recordAttempt)
	r.GET("/attempts/:id", a.getAttempt)
	r.POST("/attempts/:id/reconcile", a.reconcileAttempt)
	r.POST("/jobs/:name", a.runJob)
}

func (a *API) getLeaderboard(c *gin.Context) {
	board := strings.ReplaceAll(c.Param("board"), "-", "_")

	l, err := a.ls.GetSnapshot(c.Request.Context(), board)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) getQuiz(c *gin.Context) {
	week := c.Param("week")
	if week == "current" {
		week = period.Key(a.now())
	}

	q, err := a.qs.Get(c.Request.Context(), week)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, q)
}

func (a *API) recordAttempt(c *gin.Context) {
	var req RecordAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	at, err := a.as.Record(c.Request.Context(), attempt.RecordRequest{
		AttemptID:  req.AttemptID,
		UserID:     req.UserID,
		QuizID:     req.QuizID,
		Score:      req.Score,
		Difficulty: domain.Difficulty(req.Difficulty),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, at)
}

func (a *API) getAttempt(c *gin.Context) {
	at, err := a.as.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, at)
}

func (a *API) reconcileAttempt(c *gin.Context) {
	res, err := a.xs.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"award": res.Award, "duplicate": res.Duplicate})
}

func (a *API) runJob(c *gin.Context) {
	var req RunJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
			return
		}
	}

	at := a.now()
	if req.At != nil {
		at = *req.At
	}

	name := c.Param("name")
	if err := a.jobs.Run(c.Request.Context(), name, at); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RunJobResponse{Job: name, At: at.UTC()})
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(c.Request.Context(), "http: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
