package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v68/github"
	"github.com/mkessler/dossier/internal/queue"
	"github.com/mkessler/dossier/internal/webhook"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	router.POST("/webhooks/github", handleGitHubWebhook(opts))

	ci := router.Group("/ci")
	ci.POST("/enqueue", handleEnqueue(opts))
	ci.GET("/runs", handleListRuns(opts))
	ci.GET("/runs/:id", handleGetRun(opts))
	ci.POST("/worker/tick", handleWorkerTick(opts))
	ci.GET("/health", handleHealth(opts))
}

// handleGitHubWebhook verifies, parses, and enqueues a GitHub delivery.
// Authentic but irrelevant deliveries are acknowledged with 200 so
// GitHub does not retry them.
func handleGitHubWebhook(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		sig := webhook.SignatureHeader(c.GetHeader)
		if err := webhook.Verify(body, sig, opts.WebhookSecret); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		}

		ev, err := webhook.Parse(c.GetHeader(github.EventTypeHeader), body)
		if errors.Is(err, webhook.ErrIgnored) {
			c.JSON(http.StatusOK, gin.H{
				"status":   "ignored",
				"reason":   err.Error(),
				"delivery": webhook.DeliveryID(c.GetHeader),
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, created, err := queue.Enqueue(opts.DB, queue.EnqueueOpts{
			Owner:       ev.Owner,
			Repo:        ev.Repo,
			Ref:         ev.Ref,
			CommitSHA:   ev.CommitSHA,
			Event:       ev.Kind,
			DedupWindow: opts.DedupWindow,
			MaxAttempts: opts.MaxAttempts,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"run_id": run.ID,
			"commit": webhook.ShortSHA(run.CommitSHA),
			"reused": !created,
		})
	}
}

type enqueueRequest struct {
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Ref       string `json:"ref"`
	CommitSHA string `json:"commit_sha"`
}

// handleEnqueue accepts a manual enqueue. When commit_sha is omitted
// the ref is resolved through the GitHub API.
func handleEnqueue(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		if req.Owner == "" || req.Repo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner and repo are required"})
			return
		}

		sha := req.CommitSHA
		if sha == "" {
			if opts.Resolver == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "commit_sha is required (no GitHub token configured for ref resolution)"})
				return
			}
			if req.Ref == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "ref or commit_sha is required"})
				return
			}
			resolved, err := opts.Resolver.ResolveRef(c.Request.Context(), req.Owner, req.Repo, req.Ref)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			sha = resolved
		}

		run, created, err := queue.Enqueue(opts.DB, queue.EnqueueOpts{
			Owner:       req.Owner,
			Repo:        req.Repo,
			Ref:         req.Ref,
			CommitSHA:   sha,
			Event:       "manual",
			DedupWindow: opts.DedupWindow,
			MaxAttempts: opts.MaxAttempts,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"run_id": run.ID,
			"commit": webhook.ShortSHA(run.CommitSHA),
			"reused": !created,
		})
	}
}

func handleListRuns(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		runs, err := queue.ListRuns(opts.DB, c.Query("owner"), c.Query("repo"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func handleGetRun(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := queue.GetRun(opts.DB, c.Param("id"))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// handleWorkerTick triggers one claim-and-process cycle. Useful for
// operators draining a queue by hand and for end-to-end smoke tests.
func handleWorkerTick(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Ticker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker attached"})
			return
		}
		res, err := opts.Ticker.Tick(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleHealth(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		runCounts, err := queue.RunStatusCounts(opts.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		jobCounts, err := queue.StatusCounts(opts.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"status": "ok", "runs": runCounts, "jobs": jobCounts}
		last, err := queue.LastFinishedRun(opts.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if last != nil {
			resp["last_finished_run"] = last.ID
			resp["last_finished_status"] = last.Status
		}
		c.JSON(http.StatusOK, resp)
	}
}
