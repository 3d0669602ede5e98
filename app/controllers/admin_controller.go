package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hotspotpay/hotspot/internal/pkg/expiry"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

// Jobs runs the periodic reconciliation jobs on demand.
type Jobs interface {
	RunSweepOnce(ctx context.Context) (*expiry.Report, error)
	RunPollOnce(ctx context.Context) (*reconcile.PollReport, error)
}

// Stats exposes the event counters.
type Stats interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
	Drain(ctx context.Context) (map[string]int64, error)
}

// AdminController serves the operator API.
type AdminController struct {
	svc   *reconcile.Service
	jobs  Jobs
	stats Stats
}

func NewAdminController(svc *reconcile.Service, jobs Jobs, stats Stats) *AdminController {
	return &AdminController{svc: svc, jobs: jobs, stats: stats}
}

type deactivateRequest struct {
	SessionIDs []uint `json:"session_ids"`
}

// HandleListSessions lists the recent sessions of a company, optionally only active ones.
func (a *AdminController) HandleListSessions(c *fiber.Ctx) error {
	companyID, ok := paramID(c, "companyID")
	if !ok {
		return badRequest(c, "invalid company id")
	}
	sessions, err := a.svc.ListSessions(c.UserContext(), companyID, c.QueryBool("active", false), c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	out := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		row := fiber.Map{
			"id":                s.ID,
			"token":             s.TokenValue(),
			"state":             s.State,
			"is_active":         s.IsActive,
			"phone_number":      s.PhoneNumber,
			"mac_address":       s.MACAddress,
			"ip_address":        s.IPAddress,
			"start_time":        formatTimePtr(s.StartTime),
			"end_time":          formatTimePtr(s.EndTime),
			"remaining_seconds": int64(s.Remaining(now).Seconds()),
		}
		if s.Plan != nil {
			row["plan"] = planJSON(*s.Plan)
		}
		out = append(out, row)
	}
	return c.JSON(fiber.Map{"sessions": out})
}

// HandleDeactivateSessions ends each listed session and reports per-session results.
func (a *AdminController) HandleDeactivateSessions(c *fiber.Ctx) error {
	var req deactivateRequest
	if err := c.BodyParser(&req); err != nil || len(req.SessionIDs) == 0 {
		return badRequest(c, "session_ids is required")
	}
	if len(req.SessionIDs) > 500 {
		return badRequest(c, "at most 500 sessions per request")
	}

	outcomes := a.svc.DeactivateSessions(c.UserContext(), req.SessionIDs)
	results := make([]fiber.Map, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		row := fiber.Map{"session_id": o.SessionID}
		switch {
		case o.Err != nil:
			failed++
			_, code := errorStatus(o.Err)
			row["success"] = false
			row["error"] = code
		case o.Result.DisableErr != nil:
			failed++
			row["success"] = false
			row["state"] = o.Result.State
			row["error"] = "controller_disable_failed"
		default:
			row["success"] = true
			row["state"] = o.Result.State
			row["changed"] = o.Result.Changed
		}
		results = append(results, row)
	}
	return c.JSON(fiber.Map{"results": results, "failed": failed})
}

// HandleSweep runs one expiry sweep.
func (a *AdminController) HandleSweep(c *fiber.Ctx) error {
	report, err := a.jobs.RunSweepOnce(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// HandlePoll re-checks pending payments with their gateways.
func (a *AdminController) HandlePoll(c *fiber.Ctx) error {
	report, err := a.jobs.RunPollOnce(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"checked":   report.Checked,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"timed_out": report.TimedOut,
		"pending":   report.Pending,
		"errors":    report.Errors,
	})
}

// HandleStats returns the reconciliation event counters. ?reset=true returns
// the totals and starts counting from zero.
func (a *AdminController) HandleStats(c *fiber.Ctx) error {
	read := a.stats.Snapshot
	if c.QueryBool("reset", false) {
		read = a.stats.Drain
	}
	counters, err := read(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stats_unavailable", "message": "Counters are unavailable"})
	}
	return c.JSON(fiber.Map{"counters": counters})
}

var adminController *AdminController

// InitializeAdminController initializes the global admin controller
func InitializeAdminController(svc *reconcile.Service, jobs Jobs, stats Stats) {
	adminController = NewAdminController(svc, jobs, stats)
}

// GetAdminController returns the global admin controller instance
func GetAdminController() *AdminController {
	return adminController
}
