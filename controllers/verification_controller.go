package controller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailprobe/models"
	"mailprobe/repository"
	"mailprobe/utils"
	"mailprobe/verifier"
	"mailprobe/worker"
)

const maxUploadSize = 5 << 20

// RunStore is the persisted run history.
type RunStore interface {
	FindRun(ctx context.Context, runID string) (*models.VerificationRun, error)
	RecentRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
}

type VerificationController struct {
	Scheduler *worker.Scheduler
	// Syntax filters CSV cells; textarea lines are submitted as typed.
	Syntax verifier.SyntaxFilter
	// Runs is nil when the database is disabled.
	Runs   RunStore
	Logger *logrus.Entry
}

func NewVerificationController(scheduler *worker.Scheduler, syntax verifier.SyntaxFilter, runs RunStore) *VerificationController {
	if syntax == nil {
		syntax = verifier.IsValidAddress
	}
	return &VerificationController{
		Scheduler: scheduler,
		Syntax:    syntax,
		Runs:      runs,
		Logger:    logrus.WithField("component", "verification-controller"),
	}
}

type verifyRequest struct {
	Emails []string `json:"emails" validate:"max=100000"`
}

// Submit starts a new run from a JSON body or a form with an emails
// textarea and an optional .csv upload. It replaces the current run.
func (vc *VerificationController) Submit(c *fiber.Ctx) error {
	var addresses []string

	if c.Is("json") {
		var request verifyRequest
		if err := c.BodyParser(&request); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request format", err)
		}
		if err := utils.ValidateStruct(request); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
		}
		addresses = request.Emails
	} else {
		addresses = utils.SplitLines(c.FormValue("emails"))

		fromFile, problem, err := vc.addressesFromUpload(c)
		if problem != "" {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, problem, err)
		}
		addresses = append(addresses, fromFile...)
	}

	submitted := vc.Scheduler.Submit(addresses)
	if !submitted.Accepted {
		return c.JSON(submitted)
	}
	return c.Status(fiber.StatusAccepted).JSON(submitted)
}

// addressesFromUpload reads the optional "file" field. Files without a .csv
// extension are ignored. A non-empty problem describes a rejected upload.
func (vc *VerificationController) addressesFromUpload(c *fiber.Ctx) (addresses []string, problem string, err error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, "", nil
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".csv") {
		vc.Logger.WithField("filename", file.Filename).Debug("Ignoring non-CSV upload")
		return nil, "", nil
	}
	if file.Size > maxUploadSize {
		return nil, "File too large (max 5MB)", nil
	}

	src, err := file.Open()
	if err != nil {
		return nil, "File upload error", err
	}
	defer src.Close()

	addresses, err = utils.ExtractAddresses(src, vc.Syntax)
	if err != nil {
		return nil, "Failed to parse CSV file", err
	}
	return addresses, "", nil
}

// Results returns the current run's results in completion order.
func (vc *VerificationController) Results(c *fiber.Ctx) error {
	return c.JSON(vc.Scheduler.Results())
}

func (vc *VerificationController) Status(c *fiber.Ctx) error {
	run := vc.Scheduler.Current()
	return c.JSON(fiber.Map{
		"run_id":    run.ID,
		"total":     run.Total(),
		"processed": run.Processed(),
		"completed": run.Completed(),
	})
}

// Download exports the current results, complete or not.
func (vc *VerificationController) Download(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="results.csv"`)

	if err := utils.WriteResultsCSV(c, vc.Scheduler.Results()); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
	}
	return nil
}

// GetRun returns a persisted run with its results.
func (vc *VerificationController) GetRun(c *fiber.Ctx) error {
	if vc.Runs == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Run history is disabled", nil)
	}

	runID := c.Params("id")
	run, err := vc.Runs.FindRun(c.UserContext(), runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Verification run not found", nil)
	}
	if err != nil {
		utils.LogError("run_lookup_failed", err, map[string]interface{}{"run_id": runID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load verification run", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"run":     run,
		"elapsed": repository.Elapsed(run, time.Now()).Round(time.Millisecond).String(),
	}))
}

func (vc *VerificationController) ListRuns(c *fiber.Ctx) error {
	if vc.Runs == nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Run history is disabled", nil)
	}

	runs, err := vc.Runs.RecentRuns(c.UserContext(), c.QueryInt("limit", 20))
	if err != nil {
		utils.LogError("run_list_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list verification runs", err)
	}
	return c.JSON(utils.SuccessResponse(runs))
}
